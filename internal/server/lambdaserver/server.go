package lambdaserver

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambda/messages"
	"github.com/aws/aws-lambda-go/lambdacontext"

	"github.com/yndnr/snapfn-go/internal/core/dispatch"
	"github.com/yndnr/snapfn-go/internal/core/domain"
	"github.com/yndnr/snapfn-go/internal/telemetry/logger"
)

// Invoker dispatches events. *dispatch.Dispatcher implements it.
type Invoker interface {
	Dispatch(ctx context.Context, raw []byte, deadline time.Time) domain.Outcome
	DispatchBatch(ctx context.Context, raw []byte, deadline time.Time) domain.Outcome
}

// Server implements lambda.Handler.
type Server struct {
	invoker Invoker
}

var _ lambda.Handler = (*Server)(nil)

// New creates a Lambda handler over invoker.
func New(invoker Invoker) *Server {
	return &Server{invoker: invoker}
}

// Invoke handles one platform invocation.
func (s *Server) Invoke(ctx context.Context, payload []byte) ([]byte, error) {
	if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
		ctx = logger.WithRequestID(ctx, lc.AwsRequestID)
	}
	deadline, _ := ctx.Deadline()

	var out domain.Outcome
	if dispatch.IsBatch(payload) {
		out = s.invoker.DispatchBatch(ctx, payload, deadline)
	} else {
		out = s.invoker.Dispatch(ctx, payload, deadline)
	}

	if !out.OK() {
		return nil, ToInvokeError(out)
	}
	return out.Value, nil
}

// ToInvokeError converts a failed outcome into the runtime API error shape.
// Stack traces are never included.
func ToInvokeError(out domain.Outcome) *messages.InvokeResponse_Error {
	p := out.ErrorPayload()
	return &messages.InvokeResponse_Error{
		Type:    p.Type,
		Message: p.Message,
	}
}

// Start runs the runtime API loop until the platform shuts the process
// down. onShutdown runs when SIGTERM arrives.
func (s *Server) Start(ctx context.Context, onShutdown func()) {
	opts := []lambda.Option{lambda.WithContext(ctx)}
	if onShutdown != nil {
		opts = append(opts, lambda.WithEnableSIGTERM(onShutdown))
	}
	lambda.StartWithOptions(s, opts...)
}
