package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mindburn-Labs/treasury/pkg/errs"
)

// Attribute keys shared by treasury spans and metrics.
const (
	AttrOperation   = attribute.Key("treasury.operation")
	AttrBeneficiary = attribute.Key("treasury.beneficiary")
	AttrFillType    = attribute.Key("treasury.fill.type")
	AttrRunID       = attribute.Key("treasury.run.id")
	AttrReceiver    = attribute.Key("treasury.receiver")
)

func OperationAttr(name string) attribute.KeyValue   { return AttrOperation.String(name) }
func BeneficiaryAttr(kind string) attribute.KeyValue { return AttrBeneficiary.String(kind) }
func FillTypeAttr(t string) attribute.KeyValue       { return AttrFillType.String(t) }
func RunIDAttr(id string) attribute.KeyValue         { return AttrRunID.String(id) }
func ReceiverAttr(account string) attribute.KeyValue { return AttrReceiver.String(account) }

// ErrorKindAttr labels a failure with its errs kind, or "internal" for
// unclassified errors.
func ErrorKindAttr(err error) attribute.KeyValue {
	kind := string(errs.KindOf(err))
	if kind == "" {
		kind = "internal"
	}
	return attribute.String("error.kind", kind)
}

// SpanFromContext returns the current span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus marks the current span failed when err is non-nil.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(ErrorKindAttr(err))
		return
	}
	span.SetStatus(codes.Ok, "")
}
