// Package metrics wires the core's observation hooks into Prometheus
// collectors. It is read-only with respect to the core's state: nothing
// here mutates a Subject, a RuntimeState, or a Pool.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	core "github.com/forgefleet/orchestrator/internal/core/service"
	"github.com/forgefleet/orchestrator/internal/supervisor"
)

var (
	// Registry holds every collector this repository registers.
	Registry = prometheus.NewRegistry()

	launches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orchestrator",
			Subsystem: "supervisor",
			Name:      "launches_total",
			Help:      "Total number of subject launch attempts.",
		},
		[]string{"status"},
	)

	launchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "orchestrator",
			Subsystem: "supervisor",
			Name:      "launch_duration_seconds",
			Help:      "Duration from launch attempt to Running or failure.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"status"},
	)

	crashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orchestrator",
			Subsystem: "supervisor",
			Name:      "crashes_total",
			Help:      "Total number of crash-recovery entries.",
		},
		[]string{"subject"},
	)

	heartbeatMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orchestrator",
			Subsystem: "supervisor",
			Name:      "heartbeat_misses_total",
			Help:      "Total number of missed-heartbeat nudges sent.",
		},
		[]string{"subject"},
	)

	keyPoolUtilization = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "orchestrator",
			Subsystem: "keypool",
			Name:      "in_use_credentials",
			Help:      "Number of credentials currently assigned, per pool.",
		},
		[]string{"pool"},
	)

	subscriberCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "orchestrator",
			Subsystem: "eventbus",
			Name:      "subscribers",
			Help:      "Current number of live event bus subscribers.",
		},
	)

	subscribersEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orchestrator",
			Subsystem: "eventbus",
			Name:      "subscribers_evicted_total",
			Help:      "Total number of subscribers evicted for lag.",
		},
	)
)

func init() {
	Registry.MustRegister(
		launches,
		launchDuration,
		crashes,
		heartbeatMisses,
		keyPoolUtilization,
		subscriberCount,
		subscribersEvicted,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler exposes the registry in the Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// LaunchHooks returns core.ObservationHooks instrumenting one launch
// attempt: OnComplete records launches_total{status} and
// launch_duration_seconds{status}, and, when the attempt succeeded,
// crashes_total{subject} is left untouched; that counter is driven by
// RecordCrash from the Supervisor's crash-recovery path instead.
func LaunchHooks() core.ObservationHooks {
	return core.ObservationHooks{
		OnComplete: func(_ context.Context, _ map[string]string, err error, duration time.Duration) {
			RecordLaunch(err == nil, duration)
		},
	}
}

// SupervisorHooks returns the full set of Supervisor observation hooks
// wired to this package's collectors, ready for sup.SetMetricsHooks.
func SupervisorHooks() supervisor.MetricsHooks {
	return supervisor.MetricsHooks{
		Launch:          LaunchHooks(),
		OnCrash:         RecordCrash,
		OnHeartbeatMiss: RecordHeartbeatMiss,
	}
}

// RecordLaunch records one launch attempt's outcome and duration.
func RecordLaunch(success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	launches.WithLabelValues(status).Inc()
	launchDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordCrash increments the crash counter for one subject.
func RecordCrash(subjectName string) {
	crashes.WithLabelValues(subjectName).Inc()
}

// RecordHeartbeatMiss increments the missed-heartbeat counter for one
// subject.
func RecordHeartbeatMiss(subjectName string) {
	heartbeatMisses.WithLabelValues(subjectName).Inc()
}

// SetKeyPoolUtilization sets the in-use credential gauge for one pool.
func SetKeyPoolUtilization(poolName string, inUse int) {
	keyPoolUtilization.WithLabelValues(poolName).Set(float64(inUse))
}

// SetSubscriberCount sets the live event bus subscriber gauge.
func SetSubscriberCount(n int) {
	subscriberCount.Set(float64(n))
}

// RecordSubscriberEvicted increments the evicted-subscriber counter.
func RecordSubscriberEvicted() {
	subscribersEvicted.Inc()
}

// BusSubscriberCountHook and BusSubscriberEvictedHook are passed directly to
// Bus.SetMetricsHooks by the process-wiring layer, keeping the Event Bus
// free of any import on this package.
func BusSubscriberCountHook() func(n int) { return SetSubscriberCount }
func BusSubscriberEvictedHook() func()    { return RecordSubscriberEvicted }
