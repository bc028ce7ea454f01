package observability

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Mindburn-Labs/treasury/pkg/errs"
)

// manual returns a provider whose metrics are collected on demand.
func manual(t *testing.T) (*Provider, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	inst, err := newInstruments(mp.Meter(scope))
	require.NoError(t, err)
	return &Provider{tracer: otel.Tracer(scope), inst: inst, logger: slog.Default()}, reader
}

// sums collects every int64 sum keyed by metric name and one attribute.
func sums(t *testing.T, reader *sdkmetric.ManualReader, key attribute.Key) map[string]map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value(key)
				if out[m.Name] == nil {
					out[m.Name] = make(map[string]int64)
				}
				out[m.Name][v.AsString()] += dp.Value
			}
		}
	}
	return out
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, "treasury", config.ServiceName)
	assert.Equal(t, "localhost:4317", config.OTLPEndpoint)
	assert.Equal(t, 1.0, config.SampleRate)
	assert.Equal(t, 15*time.Second, config.ExportInterval)
	assert.True(t, config.Enabled)
	assert.False(t, config.Insecure)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p.Tracer())

	assert.NotPanics(t, func() {
		ctx, finish := p.TrackOperation(context.Background(), "treasury.run_payouts", RunIDAttr("run-1"))
		finish(errs.Precondition("payout.run", "no payouts are due"))
		p.RecordDisbursement(ctx, "tf", 100)
		p.RecordFill(ctx, "partial", 40)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, p.Shutdown(ctx))
}

func TestTrackOperation_CountsOutcomes(t *testing.T) {
	p, reader := manual(t)

	_, finish := p.TrackOperation(context.Background(), "treasury.set_rule")
	finish(nil)
	_, finish = p.TrackOperation(context.Background(), "treasury.set_rule")
	finish(errs.Validation("treasury.set_rule", "unknown kind"))
	_, finish = p.TrackOperation(context.Background(), "treasury.run_payouts")
	finish(errors.New("disk full"))

	ops := sums(t, reader, AttrOperation)
	assert.Equal(t, int64(2), ops["treasury.operations"]["treasury.set_rule"])
	assert.Equal(t, int64(1), ops["treasury.operations"]["treasury.run_payouts"])
	assert.Equal(t, int64(0), ops["treasury.operations.active"]["treasury.set_rule"])

	failed := sums(t, reader, "error.kind")["treasury.operations.failed"]
	assert.Equal(t, int64(1), failed[string(errs.KindValidation)])
	assert.Equal(t, int64(1), failed["internal"])
}

func TestBusinessCounters(t *testing.T) {
	p, reader := manual(t)
	ctx := context.Background()

	p.RecordDisbursement(ctx, "tf", 100)
	p.RecordDisbursement(ctx, "tf", 50)
	p.RecordDisbursement(ctx, "econdevfunds", 0)
	p.RecordFill(ctx, "full", 30)
	p.RecordFill(ctx, "partial", 20)
	p.RecordFill(ctx, "partial", 5)

	disbursed := sums(t, reader, AttrBeneficiary)["treasury.disbursed.amount"]
	assert.Equal(t, map[string]int64{"tf": 150}, disbursed)

	byType := sums(t, reader, AttrFillType)
	assert.Equal(t, map[string]int64{"full": 1, "partial": 2}, byType["treasury.allocation.fills"])
	assert.Equal(t, map[string]int64{"full": 30, "partial": 25}, byType["treasury.allocation.deposited.amount"])
}

func TestErrorKindAttr(t *testing.T) {
	assert.Equal(t, "internal", ErrorKindAttr(errors.New("plain")).Value.AsString())
	assert.Equal(t, string(errs.KindNotFound), ErrorKindAttr(errs.NotFound("rule", "missing")).Value.AsString())
}

func TestSpanHelpers(t *testing.T) {
	ctx := context.Background()
	assert.NotNil(t, SpanFromContext(ctx))
	assert.NotPanics(t, func() {
		AddSpanEvent(ctx, "fill", FillTypeAttr("full"))
		SetSpanStatus(ctx, errors.New("boom"))
		SetSpanStatus(ctx, nil)
	})
}
