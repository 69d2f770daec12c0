// Package tracing wires opentracing spans around the constraint-change
// protocol's barrier synchronization points (S1/S2/S3), so a burner run
// across many simulated CPUs can be visualized in Jaeger. Whole attempts
// and barrier waits outside the protocol get no span.
//
// Initialize is optional: until it is called, opentracing.GlobalTracer()
// returns the no-op tracer, and StartSpan calls are free.
package tracing

import (
	"io"

	"github.com/opentracing/opentracing-go"
	jaeger "github.com/uber/jaeger-client-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"
)

// Initialize configures the global tracer to report to the given Jaeger
// agent (host:port), tagging every span with serviceName.  It returns a
// io.Closer that must be closed on process shutdown to flush pending
// spans; if agentAddr is empty, tracing stays a no-op and the returned
// closer is a no-op too.
func Initialize(serviceName, agentAddr string) (io.Closer, error) {
	if agentAddr == "" {
		return io.NopCloser(nil), nil
	}

	cfg := jaegercfg.Configuration{
		ServiceName: serviceName,
		Sampler: &jaegercfg.SamplerConfig{
			Type:  jaeger.SamplerTypeConst,
			Param: 1,
		},
		Reporter: &jaegercfg.ReporterConfig{
			LocalAgentHostPort: agentAddr,
		},
	}

	tracer, closer, err := cfg.NewTracer()
	if err != nil {
		return nil, err
	}
	opentracing.SetGlobalTracer(tracer)
	return closer, nil
}

// StartSpan starts a span named op via opentracing.GlobalTracer(). It
// takes no context: the span has a parent only if opts supply one (e.g.
// opentracing.ChildOf). Callers finish it with span.Finish().
func StartSpan(op string, opts ...opentracing.StartSpanOption) opentracing.Span {
	return opentracing.StartSpan(op, opts...)
}
