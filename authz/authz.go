// Package authz implements the authorization service: it builds a
// PolicyInput from a Principal/Target/action tuple, consults the policy
// decision cache, and on a miss evaluates through a PolicyEngine wrapped
// by the resilience stack (breaker, retry, timeout).
package authz

import (
	"context"
	"time"

	gatekeep "github.com/jonwraymond/gatekeep"
	"github.com/jonwraymond/gatekeep/audit"
	"github.com/jonwraymond/gatekeep/cache"
	"github.com/jonwraymond/gatekeep/observe"
	"github.com/jonwraymond/gatekeep/resilience"
)

// PolicyEngine evaluates a policy input and returns a Decision. Both the
// HTTP-backed engine (authz/httpengine) and the in-process OPA engine
// (authz/opaengine) satisfy this interface, so Service is agnostic to
// which is configured.
type PolicyEngine interface {
	Evaluate(ctx context.Context, input gatekeep.PolicyInput) (gatekeep.Decision, error)
}

// Config configures the authorization service.
type Config struct {
	// FailClosed determines the outcome when the policy engine is
	// unavailable after retries: true denies, false allows. The zero value
	// is false; gatekeepd sets it from policy.fail_closed, which defaults
	// to true.
	FailClosed bool

	// Logger receives a warning whenever FailClosed is false and the
	// engine was unavailable (fail-open path).
	Logger observe.Logger

	// Executor wraps PolicyEngine.Evaluate calls with breaker/retry/timeout.
	// If nil, evaluation calls the engine directly with no resilience.
	Executor *resilience.Executor

	// Sink receives an audit.Event for every Authorize/AuthorizeA2A call.
	// May be nil to disable auditing (not recommended outside tests).
	Sink audit.Appender
}

// Service is the authorization service described in spec.md §4.3.
type Service struct {
	engine PolicyEngine
	cache  *cache.DecisionCache
	cfg    Config
}

// NewService creates a new authorization service.
func NewService(engine PolicyEngine, decisionCache *cache.DecisionCache, cfg Config) *Service {
	if decisionCache == nil {
		decisionCache = cache.NewDecisionCache(cache.DefaultDecisionPolicy(), nil)
	}
	return &Service{engine: engine, cache: decisionCache, cfg: cfg}
}

// Authorize evaluates whether principal may perform action on target,
// consulting the decision cache first and falling back to the policy
// engine (through the configured resilience executor) on a miss.
func (s *Service) Authorize(ctx context.Context, principal gatekeep.Principal, target gatekeep.Target, action string, parameters map[string]any) (gatekeep.Decision, error) {
	start := time.Now()
	input := gatekeep.PolicyInput{Principal: principal, Action: action, Target: target, Parameters: parameters}

	decision, err := s.cache.GetOrEvaluate(ctx, input, s.evaluate)
	outcome := "allowed"
	var errKind gatekeep.ErrorKind
	if err != nil {
		decision = s.failureDecision(err)
		outcome = "error"
		errKind = gatekeep.KindOf(err)
	} else if !decision.Allowed {
		outcome = "denied"
	}

	if s.cfg.Sink != nil {
		fp, _ := s.cache.Fingerprint(input)
		s.cfg.Sink.Append(ctx, gatekeep.AuditEvent{
			Timestamp:   time.Now(),
			Principal:   principal,
			Target:      target,
			Action:      action,
			Decision:    decision,
			Outcome:     outcome,
			ErrorKind:   errKind,
			DurationMS:  time.Since(start).Milliseconds(),
			Fingerprint: fp,
		})
	}

	if err != nil && s.cfg.FailClosed {
		return decision, err
	}
	return decision, nil
}

// AuthorizeA2A evaluates an agent-to-agent action, bypassing the decision
// cache (A2A decisions are not fingerprint-cached in this implementation
// since agent pairs and actions are typically low-cardinality and
// short-lived) but still flowing through the resilience-wrapped engine.
func (s *Service) AuthorizeA2A(ctx context.Context, input gatekeep.A2AInput) (gatekeep.Decision, error) {
	policyInput := gatekeep.PolicyInput{
		Principal:  input.SourceAgent,
		Action:     input.Action,
		Target:     gatekeep.Target{Provider: "a2a", Tool: input.TargetAgent.ID},
		Parameters: input.Parameters,
	}
	return s.evaluate(ctx, policyInput)
}

// InvalidateForPolicyChange clears the decision cache so that a policy
// change takes effect immediately rather than waiting out cached TTLs.
func (s *Service) InvalidateForPolicyChange() {
	s.cache.InvalidateAll()
}

func (s *Service) evaluate(ctx context.Context, input gatekeep.PolicyInput) (gatekeep.Decision, error) {
	if s.cfg.Executor != nil {
		var decision gatekeep.Decision
		err := s.cfg.Executor.Execute(ctx, func(ctx context.Context) error {
			d, err := s.engine.Evaluate(ctx, input)
			decision = d
			return err
		})
		return decision, err
	}
	return s.engine.Evaluate(ctx, input)
}

// failureDecision returns the decision applied when evaluation failed:
// deny unless the service is configured fail-open, in which case the
// caller is allowed through and the failure is logged as a warning.
func (s *Service) failureDecision(err error) gatekeep.Decision {
	if !s.cfg.FailClosed {
		if s.cfg.Logger != nil {
			s.cfg.Logger.Warn(context.Background(), "authz: policy engine unavailable, failing open", observe.Field{Key: "error", Value: err.Error()})
		}
		return gatekeep.Decision{Allowed: true, Reason: "policy_engine_unavailable_fail_open", EvaluatedAt: time.Now()}
	}
	return gatekeep.Decision{Allowed: false, Reason: "policy_unavailable", EvaluatedAt: time.Now()}
}
