package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/tokenguard"
	"github.com/MrEthical07/tokenguard/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Source is satisfied by *tokenguard.Engine.
type Source interface {
	MetricsSnapshot() tokenguard.MetricsSnapshot
	AuditDropped() uint64
}

// sample is what one collection cycle reads from the source.
type sample struct {
	tokenguard.MetricsSnapshot
	auditDropped uint64
}

func (s sample) cumulative(id tokenguard.MetricID) [internaldefs.BucketCount]uint64 {
	return internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(s.Histograms[id]))
}

type reading struct {
	instrument metric.Int64Observable
	value      func(sample) uint64
}

// Exporter keeps the instrument registration alive until Close.
type Exporter struct {
	source       Source
	readings     []reading
	registration metric.Registration
}

// NewExporter registers one observable counter per engine counter and one
// gauge per cumulative latency bucket on meter.
func NewExporter(meter metric.Meter, source Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{source: source}
	if err := e.declare(meter); err != nil {
		return nil, err
	}

	observables := make([]metric.Observable, len(e.readings))
	for i, r := range e.readings {
		observables[i] = r.instrument
	}
	registration, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = registration
	return e, nil
}

func (e *Exporter) declare(meter metric.Meter) error {
	counter := func(name, help string, value func(sample) uint64) error {
		ins, err := meter.Int64ObservableCounter(name, metric.WithDescription(help))
		if err != nil {
			return fmt.Errorf("create counter %s: %w", name, err)
		}
		e.readings = append(e.readings, reading{instrument: ins, value: value})
		return nil
	}
	gauge := func(name, help string, value func(sample) uint64) error {
		ins, err := meter.Int64ObservableGauge(name, metric.WithDescription(help))
		if err != nil {
			return fmt.Errorf("create gauge %s: %w", name, err)
		}
		e.readings = append(e.readings, reading{instrument: ins, value: value})
		return nil
	}

	for _, def := range internaldefs.CounterDefs {
		if err := counter(def.Name, def.Help, func(s sample) uint64 { return s.Counters[def.ID] }); err != nil {
			return err
		}
	}

	suffixes := internaldefs.BoundSuffixes()
	for _, def := range internaldefs.HistogramDefs {
		for i, suffix := range suffixes {
			err := gauge(def.Name+"_bucket_le_"+suffix, "Cumulative histogram bucket count.",
				func(s sample) uint64 { return s.cumulative(def.ID)[i] })
			if err != nil {
				return err
			}
		}
		err := gauge(def.Name+"_count", "Histogram total sample count.", func(s sample) uint64 {
			c := s.cumulative(def.ID)
			return c[len(c)-1]
		})
		if err != nil {
			return err
		}
	}

	return counter(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp,
		func(s sample) uint64 { return s.auditDropped })
}

func (e *Exporter) observe(_ context.Context, observer metric.Observer) error {
	s := sample{MetricsSnapshot: e.source.MetricsSnapshot(), auditDropped: e.source.AuditDropped()}
	for _, r := range e.readings {
		observer.ObserveInt64(r.instrument, int64(r.value(s)))
	}
	return nil
}

// Close unregisters the callback. Instruments stop reporting.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
