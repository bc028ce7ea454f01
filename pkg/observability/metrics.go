package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// instruments are the treasury metrics. Amounts are in base units of the
// treasury token.
type instruments struct {
	operations metric.Int64Counter
	failures   metric.Int64Counter
	active     metric.Int64UpDownCounter
	duration   metric.Float64Histogram

	disbursed metric.Int64Counter
	deposited metric.Int64Counter
	fills     metric.Int64Counter
}

func newInstruments(m metric.Meter) (*instruments, error) {
	var (
		in  instruments
		err error
	)
	counter := func(dst *metric.Int64Counter, name, desc, unit string) {
		if err != nil {
			return
		}
		*dst, err = m.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		if err != nil {
			err = fmt.Errorf("observability: instrument %s: %w", name, err)
		}
	}

	counter(&in.operations, "treasury.operations", "Operations started", "{operation}")
	counter(&in.failures, "treasury.operations.failed", "Operations that returned an error", "{operation}")
	counter(&in.disbursed, "treasury.disbursed.amount", "Base units paid out to beneficiaries", "{unit}")
	counter(&in.deposited, "treasury.allocation.deposited.amount", "Base units deposited for resource obligations", "{unit}")
	counter(&in.fills, "treasury.allocation.fills", "Resource obligations funded, by fill type", "{fill}")
	if err != nil {
		return nil, err
	}

	in.active, err = m.Int64UpDownCounter("treasury.operations.active",
		metric.WithDescription("Operations in flight"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: instrument treasury.operations.active: %w", err)
	}

	in.duration, err = m.Float64Histogram("treasury.operation.duration",
		metric.WithDescription("Operation latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: instrument treasury.operation.duration: %w", err)
	}
	return &in, nil
}
