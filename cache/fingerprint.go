package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	gatekeep "github.com/jonwraymond/gatekeep"
)

// Fingerprinter produces a deterministic Fingerprint for a PolicyInput.
//
// Contract:
// - Determinism: same (principal, action, target, parameters) tuple must
//   produce the same fingerprint regardless of map/slice iteration order.
// - Concurrency: implementations must be safe for concurrent use.
type Fingerprinter interface {
	Fingerprint(input gatekeep.PolicyInput) (gatekeep.Fingerprint, error)
}

// DefaultFingerprinter generates SHA-256 based fingerprints, generalizing
// DefaultKeyer's canonical-JSON approach from tool-result keys to
// policy-decision fingerprints.
type DefaultFingerprinter struct{}

// NewDefaultFingerprinter creates a new default fingerprinter.
func NewDefaultFingerprinter() *DefaultFingerprinter {
	return &DefaultFingerprinter{}
}

// Fingerprint generates a deterministic fingerprint over the full tuple.
// Format: fp:<sha256-hex(canonical)>
func (f *DefaultFingerprinter) Fingerprint(input gatekeep.PolicyInput) (gatekeep.Fingerprint, error) {
	roles := append([]string(nil), input.Principal.Roles...)
	sort.Strings(roles)

	canonicalInput := map[string]any{
		"principal_id": input.Principal.ID,
		"roles":        toAnySlice(roles),
		"action":       input.Action,
		"target": map[string]any{
			"provider":      input.Target.Provider,
			"tool":          input.Target.Tool,
			"resource":      input.Target.Resource,
			"protocol":      input.Target.Protocol,
			"server_handle": input.Target.ServerHandle,
		},
		"parameters": normalizeParameters(input.Parameters),
	}

	canonical, err := canonicalize(canonicalInput)
	if err != nil {
		return "", fmt.Errorf("cache: failed to canonicalize policy input: %w", err)
	}

	hash := sha256.Sum256(canonical)
	return gatekeep.Fingerprint(fmt.Sprintf("fp:%s", hex.EncodeToString(hash[:]))), nil
}

// A2AFingerprint fingerprints an agent-to-agent input the same way.
func (f *DefaultFingerprinter) A2AFingerprint(input gatekeep.A2AInput) (gatekeep.Fingerprint, error) {
	srcRoles := append([]string(nil), input.SourceAgent.Roles...)
	sort.Strings(srcRoles)
	dstRoles := append([]string(nil), input.TargetAgent.Roles...)
	sort.Strings(dstRoles)

	canonicalInput := map[string]any{
		"source_agent": input.SourceAgent.ID,
		"source_roles": toAnySlice(srcRoles),
		"target_agent": input.TargetAgent.ID,
		"target_roles": toAnySlice(dstRoles),
		"action":       input.Action,
		"parameters":   normalizeParameters(input.Parameters),
	}

	canonical, err := canonicalize(canonicalInput)
	if err != nil {
		return "", fmt.Errorf("cache: failed to canonicalize a2a input: %w", err)
	}

	hash := sha256.Sum256(canonical)
	return gatekeep.Fingerprint(fmt.Sprintf("fp:%s", hex.EncodeToString(hash[:]))), nil
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// normalizeParameters replaces nil parameters with an empty map and returns
// any other map unchanged; key order is left to canonicalize, which sorts it.
func normalizeParameters(params map[string]any) map[string]any {
	if params == nil {
		return map[string]any{}
	}
	return params
}

var _ Fingerprinter = (*DefaultFingerprinter)(nil)
