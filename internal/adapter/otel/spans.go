package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "runledger"

// StartLedgerSpan starts a span for a ledger operation such as "get_runs_batch".
func StartLedgerSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "ledger."+op, trace.WithAttributes(attrs...))
}

// StartTickSpan starts a span covering one scheduler tick.
func StartTickSpan(ctx context.Context) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "scheduler.tick")
}

// StartCampaignSpan starts a span for evaluating one recurring campaign.
func StartCampaignSpan(ctx context.Context, organizationID, campaignID, recurrence string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "scheduler.campaign",
		trace.WithAttributes(
			attribute.String("organization.id", organizationID),
			attribute.String("campaign.id", campaignID),
			attribute.String("campaign.recurrence", recurrence),
		),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
