package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthhandler "bizlinkone/backend/internal/health/handler"
	"bizlinkone/backend/internal/server/interceptors"
	"bizlinkone/backend/internal/telemetry"
)

// Deps holds optional dependencies of the gRPC server.
type Deps struct {
	// Tokens validates Bearer tokens on non-public methods. If nil, no auth interceptor is installed.
	Tokens interceptors.TokenValidator
	// Emitter receives grpc.request events. If nil, the telemetry interceptor no-ops.
	Emitter telemetry.EventEmitter
	// HealthPinger is used for readiness (e.g. *sql.DB). If nil, Check skips the DB ping.
	HealthPinger healthhandler.Pinger
	// HealthPolicyChecker is used for readiness (e.g. OPA evaluator). If nil, Check skips the policy check.
	HealthPolicyChecker healthhandler.PolicyChecker
}

// healthMethods are public and not reported to telemetry.
var healthMethods = map[string]bool{
	healthpb.Health_Check_FullMethodName: true,
	healthpb.Health_Watch_FullMethodName: true,
	healthpb.Health_List_FullMethodName:  true,
}

// NewGRPCServer returns a server with OpenTelemetry instrumentation, the telemetry and auth
// interceptors, and every service registered.
func NewGRPCServer(deps Deps) *grpc.Server {
	unary := []grpc.UnaryServerInterceptor{interceptors.TelemetryUnary(deps.Emitter, healthMethods)}
	if deps.Tokens != nil {
		unary = append(unary, interceptors.AuthUnary(deps.Tokens, healthMethods))
	}
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(unary...),
	)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers every gRPC service with s.
//
//   - grpc.health.v1.Health → internal/health/handler
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	healthpb.RegisterHealthServer(s, healthhandler.NewServer(deps.HealthPinger, deps.HealthPolicyChecker))
}
