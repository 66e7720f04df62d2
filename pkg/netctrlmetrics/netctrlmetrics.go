// Package netctrlmetrics wires netctrl's controllers into
// github.com/VictoriaMetrics/metrics: each recorder registers all of its
// metrics on a caller-owned *metrics.Set when it is constructed.
package netctrlmetrics

import (
	"fmt"
	"io"
	"reflect"

	"github.com/VictoriaMetrics/metrics"

	"github.com/fluffynukeit/godot-sub000/pkg/netctrl"
)

// ServerMetrics exposes a ServerController's live state as pull-model gauges
// and its per-tick events as counters. label identifies the character this
// recorder tracks (e.g. a puppet id) and is attached to every metric as a
// "character" tag.
type ServerMetrics struct {
	ghost_count        *metrics.Gauge
	queue_depth        *metrics.Gauge
	target_queue_depth *metrics.Gauge
	master_speed       *metrics.Gauge
	missing_count      *metrics.Gauge

	ticks_total struct {
		new_input *metrics.Counter
		ghost     *metrics.Counter
	}
}

// NewServerRecorder registers gauges that poll s's accessors on every scrape
// and returns a netctrl.TickObserver to attach via netctrl.WithServerObserver
// so per-tick event counters stay current between scrapes.
func NewServerRecorder(set *metrics.Set, label string, s *netctrl.ServerController) (*ServerMetrics, netctrl.TickObserver) {
	m := &ServerMetrics{}
	m.ghost_count = set.NewGauge(`netctrl_server_ghost_count{character="`+label+`"}`, func() float64 {
		return float64(s.GhostCount())
	})
	m.queue_depth = set.NewGauge(`netctrl_server_queue_depth{character="`+label+`"}`, func() float64 {
		return float64(s.QueueLen())
	})
	m.target_queue_depth = set.NewGauge(`netctrl_server_target_queue_depth{character="`+label+`"}`, func() float64 {
		return s.TargetQueueDepth()
	})
	m.master_speed = set.NewGauge(`netctrl_server_master_speed{character="`+label+`"}`, func() float64 {
		return s.MasterSpeed()
	})
	m.missing_count = set.NewGauge(`netctrl_server_missing_count{character="`+label+`"}`, func() float64 {
		return float64(s.MissingCount())
	})
	m.ticks_total.new_input = set.NewCounter(`netctrl_server_ticks_total{character="` + label + `",result="new_input"}`)
	m.ticks_total.ghost = set.NewCounter(`netctrl_server_ticks_total{character="` + label + `",result="ghost"}`)

	checkInitialized(*m)
	return m, serverObserver{m}
}

type serverObserver struct{ m *ServerMetrics }

func (o serverObserver) OnServerTick(newInput bool) {
	if newInput {
		o.m.ticks_total.new_input.Inc()
	} else {
		o.m.ticks_total.ghost.Inc()
	}
}

func (o serverObserver) OnMasterTick(bool) {}
func (o serverObserver) OnPuppetTick()     {}

// MasterMetrics exposes a MasterController's live state.
type MasterMetrics struct {
	pending_len   *metrics.Gauge
	next_id       *metrics.Gauge
	reconciled_id *metrics.Gauge

	ticks_total struct {
		collected    *metrics.Counter
		backpressure *metrics.Counter
	}
	reconciliations_total *metrics.Counter
}

// NewMasterRecorder registers gauges polling m's accessors and returns a
// netctrl.TickObserver for the per-tick event counters.
func NewMasterRecorder(set *metrics.Set, label string, m *netctrl.MasterController) (*MasterMetrics, netctrl.TickObserver) {
	rm := &MasterMetrics{}
	rm.pending_len = set.NewGauge(`netctrl_master_pending_len{character="`+label+`"}`, func() float64 {
		return float64(m.PendingLen())
	})
	rm.next_id = set.NewGauge(`netctrl_master_next_id{character="`+label+`"}`, func() float64 {
		return float64(m.NextID())
	})
	rm.reconciled_id = set.NewGauge(`netctrl_master_reconciled_id{character="`+label+`"}`, func() float64 {
		return float64(m.ReconciledID())
	})
	rm.ticks_total.collected = set.NewCounter(`netctrl_master_ticks_total{character="` + label + `",result="collected"}`)
	rm.ticks_total.backpressure = set.NewCounter(`netctrl_master_ticks_total{character="` + label + `",result="backpressure"}`)
	rm.reconciliations_total = set.NewCounter(`netctrl_master_reconciliations_total{character="` + label + `"}`)

	checkInitialized(*rm)
	return rm, masterObserver{rm}
}

type masterObserver struct{ m *MasterMetrics }

func (o masterObserver) OnMasterTick(inputBufferFree bool) {
	if inputBufferFree {
		o.m.ticks_total.collected.Inc()
	} else {
		o.m.ticks_total.backpressure.Inc()
	}
}

func (o masterObserver) OnServerTick(bool) {}
func (o masterObserver) OnPuppetTick()     {}

// NotifyReconciliation is called by the embedding's ProcessRecovery callback
// to record that a reconciliation fired, since reconcile is an edge-triggered
// event rather than something pollable from controller state.
func (m *MasterMetrics) NotifyReconciliation() {
	m.reconciliations_total.Inc()
}

// WritePrometheus writes set's metrics in Prometheus exposition format.
func WritePrometheus(set *metrics.Set, w io.Writer) {
	set.WritePrometheus(w)
}

// checkInitialized panics if any pointer field of obj (including those of
// nested structs) is nil, catching a missed registration at recorder-construction
// time rather than at first scrape.
func checkInitialized(obj any) {
	var chk func(v reflect.Value, name string)
	chk = func(v reflect.Value, name string) {
		switch v.Kind() {
		case reflect.Struct:
			for i := 0; i < v.NumField(); i++ {
				chk(v.Field(i), name+"."+v.Type().Field(i).Name)
			}
		case reflect.Pointer:
			if v.IsNil() {
				panic(fmt.Errorf("netctrlmetrics: unexpected nil %q", name))
			}
		}
	}
	chk(reflect.ValueOf(obj), "metrics")
}
