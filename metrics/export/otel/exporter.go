package otel

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	manpower "github.com/Official-TiredRice-ch/FC-Manpower-1.0"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Source is satisfied by *manpower.Instruments and *manpower.Controller.
type Source interface {
	MetricsSnapshot() manpower.MetricsSnapshot
	AuditDroppedByType() map[string]uint64
}

type latencyGauges struct {
	id      manpower.MetricID
	buckets metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
	// le holds one precomputed attribute set per bucket bound.
	le []metric.ObserveOption
}

// Exporter publishes controller counters through asynchronous instruments.
// Latency buckets share one gauge keyed by an "le" attribute, and audit drops
// one counter keyed by "event_type".
type Exporter struct {
	source       Source
	registration metric.Registration
	counters     map[manpower.MetricID]metric.Int64ObservableCounter
	latencies    []latencyGauges
	auditDropped metric.Int64ObservableCounter
}

func NewExporter(meter metric.Meter, source Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{
		source:   source,
		counters: make(map[manpower.MetricID]metric.Int64ObservableCounter, len(internaldefs.CounterDefs)),
	}
	var observables []metric.Observable

	for _, def := range internaldefs.CounterDefs {
		c, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", def.Name, err)
		}
		e.counters[def.ID] = c
		observables = append(observables, c)
	}

	for _, def := range internaldefs.HistogramDefs {
		g := latencyGauges{id: def.ID}
		var err error
		if g.buckets, err = meter.Int64ObservableGauge(def.Name+"_bucket",
			metric.WithDescription(def.Help+" Cumulative count per upper bound."), metric.WithUnit("s")); err != nil {
			return nil, fmt.Errorf("bucket gauge %s: %w", def.Name, err)
		}
		if g.count, err = meter.Int64ObservableGauge(def.Name+"_count",
			metric.WithDescription(def.Help+" Total samples.")); err != nil {
			return nil, fmt.Errorf("count gauge %s: %w", def.Name, err)
		}
		for _, bound := range internaldefs.BucketUpperBounds {
			g.le = append(g.le, metric.WithAttributes(attribute.String("le", strconv.FormatFloat(bound, 'g', -1, 64))))
		}
		g.le = append(g.le, metric.WithAttributes(attribute.String("le", "+Inf")))
		e.latencies = append(e.latencies, g)
		observables = append(observables, g.buckets, g.count)
	}

	dropped, err := meter.Int64ObservableCounter(internaldefs.AuditDroppedName, metric.WithDescription(internaldefs.AuditDroppedHelp))
	if err != nil {
		return nil, fmt.Errorf("audit dropped counter: %w", err)
	}
	e.auditDropped = dropped
	observables = append(observables, dropped)

	reg, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = reg
	return e, nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()
	for id, c := range e.counters {
		o.ObserveInt64(c, int64(snap.Counters[id]))
	}
	for _, g := range e.latencies {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[g.id]))
		for i, opt := range g.le {
			o.ObserveInt64(g.buckets, int64(cumulative[i]), opt)
		}
		o.ObserveInt64(g.count, int64(cumulative[len(cumulative)-1]))
	}
	for eventType, n := range e.source.AuditDroppedByType() {
		o.ObserveInt64(e.auditDropped, int64(n), metric.WithAttributes(attribute.String("event_type", eventType)))
	}
	return nil
}

// Close unregisters the callback; the instruments stop reporting.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
