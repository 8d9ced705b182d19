// Package grpcadapter implements transport.Adapter over gRPC, using a
// generic protobuf-free envelope (capability name + JSON-encoded
// parameters marshaled to google.protobuf.Struct-shaped bytes) so the
// adapter works against any provider exposing the gatekeep invocation
// service, without requiring per-provider generated stubs. Client
// interceptors for logging come from
// github.com/grpc-ecosystem/go-grpc-middleware/v2, the same package
// Hola-to-network_logistics_problem and jordigilh-kubernaut use for their
// gRPC surfaces.
package grpcadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	gatekeep "github.com/jonwraymond/gatekeep"
	"github.com/jonwraymond/gatekeep/observe"
	"github.com/jonwraymond/gatekeep/transport"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/reflection/grpc_reflection_v1"
)

// Config configures the gRPC adapter.
type Config struct {
	// TLS, when non-nil, is used for transport credentials. Nil means
	// insecure (plaintext) — only appropriate for local/dev providers.
	TLS credentials.TransportCredentials

	// DialTimeout bounds the initial connection attempt.
	DialTimeout time.Duration

	// CallTimeout bounds each unary Invoke call absent an outer deadline.
	CallTimeout time.Duration

	// UseReflection enables capability discovery via gRPC server
	// reflection. When false, Capabilities must be pre-supplied.
	UseReflection bool

	// Capabilities is the pre-supplied capability descriptor used when
	// UseReflection is false.
	Capabilities []transport.Capability

	// Logger, when set, receives a structured log line for every unary
	// call via a go-grpc-middleware/v2 logging interceptor.
	Logger observe.Logger
}

func (c *Config) applyDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
}

// invokeClient is the minimal client-side contract a provider's gRPC
// invocation service must satisfy. Providers generate this from a
// gatekeep.proto; the adapter depends only on the method shape so it
// never needs the generated stub package at compile time.
type invokeClient interface {
	Invoke(ctx context.Context, in *InvokeRequest, opts ...grpc.CallOption) (*InvokeResponse, error)
	InvokeStream(ctx context.Context, in *InvokeRequest, opts ...grpc.CallOption) (StreamClient, error)
}

// InvokeRequest is the wire request sent to a provider's gRPC service.
type InvokeRequest struct {
	Capability string
	Parameters []byte // JSON-encoded
}

// InvokeResponse is the wire response from a provider's gRPC service.
type InvokeResponse struct {
	Result []byte
}

// StreamClient is satisfied by a generated server-streaming client.
type StreamClient interface {
	Recv() (*InvokeResponse, error)
}

// Adapter is a gRPC transport.Adapter.
type Adapter struct {
	resource gatekeep.AdapterResource
	cfg      Config
	conn     *grpc.ClientConn
	client   invokeClient
	caps     []transport.Capability
}

// New dials resource.Address and returns a gRPC Adapter. newClient
// constructs the generated invocation-service client from the
// connection; callers inject it since the concrete generated stub lives
// outside this package (one per provider's .proto).
func New(resource gatekeep.AdapterResource, cfg Config, newClient func(*grpc.ClientConn) invokeClient) (*Adapter, error) {
	cfg.applyDefaults()

	creds := cfg.TLS
	if creds == nil {
		creds = insecure.NewCredentials()
	}

	dialOpts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if cfg.Logger != nil {
		dialOpts = append(dialOpts, grpc.WithChainUnaryInterceptor(
			logging.UnaryClientInterceptor(loggingAdapter(cfg.Logger)),
		))
	}

	conn, err := grpc.NewClient(resource.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("grpcadapter: dial %s: %w", resource.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	conn.Connect()
	for conn.GetState().String() != "READY" {
		if !conn.WaitForStateChange(connectCtx, conn.GetState()) {
			break // timed out; Invoke calls will surface the connection error
		}
	}

	return &Adapter{
		resource: resource,
		cfg:      cfg,
		conn:     conn,
		client:   newClient(conn),
		caps:     cfg.Capabilities,
	}, nil
}

// Discover populates the capability list via reflection when configured,
// otherwise validates that a pre-supplied list was provided.
func (a *Adapter) Discover(ctx context.Context) error {
	if !a.cfg.UseReflection {
		if len(a.caps) == 0 {
			return gatekeep.NewError(gatekeep.ErrKindAdapterUnavailable, "discovery_failed: no capabilities configured and reflection disabled", nil)
		}
		return nil
	}

	reflClient := grpc_reflection_v1.NewServerReflectionClient(a.conn)
	stream, err := reflClient.ServerReflectionInfo(ctx)
	if err != nil {
		return gatekeep.NewError(gatekeep.ErrKindAdapterUnavailable, "discovery_failed: reflection stream", err)
	}
	if err := stream.Send(&grpc_reflection_v1.ServerReflectionRequest{
		MessageRequest: &grpc_reflection_v1.ServerReflectionRequest_ListServices{},
	}); err != nil {
		return gatekeep.NewError(gatekeep.ErrKindAdapterUnavailable, "discovery_failed: reflection request", err)
	}
	resp, err := stream.Recv()
	if err != nil {
		return gatekeep.NewError(gatekeep.ErrKindAdapterUnavailable, "discovery_failed: reflection response", err)
	}

	listServices := resp.GetListServicesResponse()
	if listServices == nil {
		return gatekeep.NewError(gatekeep.ErrKindAdapterUnavailable, "discovery_failed: empty reflection response", nil)
	}

	caps := make([]transport.Capability, 0, len(listServices.GetService()))
	for _, svc := range listServices.GetService() {
		caps = append(caps, transport.Capability{Name: svc.GetName()})
	}
	a.caps = caps
	return nil
}

// ListCapabilities returns the capabilities discovered or pre-supplied.
func (a *Adapter) ListCapabilities(_ context.Context) ([]transport.Capability, error) {
	return a.caps, nil
}

// Invoke performs a unary gRPC call.
func (a *Adapter) Invoke(ctx context.Context, capability string, parameters map[string]any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
	defer cancel()

	params, err := encodeParameters(parameters)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Invoke(ctx, &InvokeRequest{Capability: capability, Parameters: params})
	if err != nil {
		return nil, gatekeep.NewError(gatekeep.ErrKindTransientError, "provider grpc call failed", err)
	}
	return resp.Result, nil
}

// InvokeStream performs a server-streaming gRPC call.
func (a *Adapter) InvokeStream(ctx context.Context, capability string, parameters map[string]any) (<-chan transport.Chunk, error) {
	params, err := encodeParameters(parameters)
	if err != nil {
		return nil, err
	}

	stream, err := a.client.InvokeStream(ctx, &InvokeRequest{Capability: capability, Parameters: params})
	if err != nil {
		return nil, gatekeep.NewError(gatekeep.ErrKindTransientError, "provider grpc stream failed", err)
	}

	out := make(chan transport.Chunk, 16)
	go func() {
		defer close(out)
		for {
			resp, err := stream.Recv()
			if err != nil {
				if err.Error() == "EOF" {
					out <- transport.Chunk{Final: true}
					return
				}
				out <- transport.Chunk{Err: err, Final: true}
				return
			}
			select {
			case out <- transport.Chunk{Data: resp.Result}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Health checks the connection's reported gRPC connectivity state.
func (a *Adapter) Health(_ context.Context) transport.HealthStatus {
	state := a.conn.GetState()
	return transport.HealthStatus{Healthy: state.String() == "READY" || state.String() == "IDLE", Detail: state.String()}
}

// Close closes the underlying connection.
func (a *Adapter) Close(_ context.Context) error {
	return a.conn.Close()
}

func encodeParameters(parameters map[string]any) ([]byte, error) {
	return json.Marshal(parameters)
}

// loggingAdapter bridges observe.Logger into go-grpc-middleware/v2's
// logging.Logger interface so every gRPC call flows through the same
// structured logger as the rest of the gateway.
func loggingAdapter(l observe.Logger) logging.Logger {
	return logging.LoggerFunc(func(ctx context.Context, lvl logging.Level, msg string, fields ...any) {
		f := make([]observe.Field, 0, len(fields)/2)
		for i := 0; i+1 < len(fields); i += 2 {
			key, _ := fields[i].(string)
			f = append(f, observe.Field{Key: key, Value: fields[i+1]})
		}
		switch lvl {
		case logging.LevelDebug:
			l.Debug(ctx, msg, f...)
		case logging.LevelWarn:
			l.Warn(ctx, msg, f...)
		case logging.LevelError:
			l.Error(ctx, msg, f...)
		default:
			l.Info(ctx, msg, f...)
		}
	})
}

var _ transport.Adapter = (*Adapter)(nil)
