package oracle

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/atmx/paper-ledger/internal/metrics"
)

// Instrumented records a span and a request metric for every lookup made
// through next.
type Instrumented struct {
	next   Oracle
	tracer trace.Tracer
}

// NewInstrumented wraps next. The tracer may come from a no-op provider.
func NewInstrumented(next Oracle, tracer trace.Tracer) *Instrumented {
	return &Instrumented{next: next, tracer: tracer}
}

func (o *Instrumented) Price(ctx context.Context, ticker string) (decimal.Decimal, error) {
	ctx, span := o.tracer.Start(ctx, "oracle.Price",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("ticker", ticker)))
	defer span.End()

	p, err := o.next.Price(ctx, ticker)
	if err != nil {
		metrics.OracleRequests.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "price unavailable")
		slog.Debug("price lookup failed", "ticker", ticker, "err", err)
		return decimal.Zero, err
	}
	metrics.OracleRequests.WithLabelValues("ok").Inc()
	span.SetAttributes(attribute.String("price", p.String()))
	return p, nil
}
