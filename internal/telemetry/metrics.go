/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "doorkeeper"

var (
	// Scheduler
	SchedulerTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduler_ticks_total",
		Help:      "Evaluation triggers received by the door scheduler.",
	})
	SchedulerTicksDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduler_ticks_dropped_total",
		Help:      "Evaluation triggers dropped because an evaluation was still running.",
	})
	SchedulerEvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduler_evaluations_total",
		Help:      "Door state decisions by resulting state and source.",
	}, []string{"state", "source"})
	SchedulerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduler_errors_total",
		Help:      "Scheduler errors by operation.",
	}, []string{"operation"})
	SchedulerEvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scheduler_evaluation_duration_seconds",
		Help:      "Time to compute a door state decision including holiday lookups.",
		Buckets:   prometheus.DefBuckets,
	})
	OverwriteClearsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduler_overwrite_clears_total",
		Help:      "Expired overwrites cleared by the scheduler.",
	})

	// Door
	DoorState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "door_state",
		Help:      "1 for the state the door was last driven to, 0 otherwise.",
	}, []string{"state"})

	// Actuator RPC
	ActuatorCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "actuator_calls_total",
		Help:      "Actuator RPC calls by method and result.",
	}, []string{"method", "result"})
	ActuatorCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "actuator_call_duration_seconds",
		Help:      "Actuator RPC round trip time.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"method"})

	// Holidays
	HolidayLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "holiday_lookups_total",
		Help:      "Holiday year loads by origin (shared, fetched, error).",
	}, []string{"result"})
	CacheEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_evictions_total",
		Help:      "Cache entries evicted by cache and reason.",
	}, []string{"cache", "reason"})

	// Leader election
	LeaderElectionStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "leader_election_status",
		Help:      "1 when this instance holds the scheduler lease.",
	}, []string{"instance_id"})
	LeaderElectionChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "leader_election_changes_total",
		Help:      "Leadership transitions by instance and direction.",
	}, []string{"instance_id", "change"})

	// Transport
	TransportMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transport_messages_total",
		Help:      "Messages published or received per transport backend.",
	}, []string{"backend", "direction"})

	// HTTP API
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "endpoint", "status"})
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "api_request_duration_seconds",
		Help:      "HTTP request latency by method, route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "api_active_connections",
		Help:      "HTTP requests currently in flight.",
	})
	APIStreamConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "api_stream_connections",
		Help:      "Open door state websocket streams.",
	})
)

// SetDoorState marks state as the current door state gauge.
func SetDoorState(state string) {
	for _, s := range []string{"locked", "unlocked", "open"} {
		v := 0.0
		if s == state {
			v = 1
		}
		DoorState.WithLabelValues(s).Set(v)
	}
}

// Handler exposes metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Database
var (
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "database_query_duration_seconds",
		Help:      "Database operation latency by operation and table.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"operation", "table"})
	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "database_errors_total",
		Help:      "Failed database operations by operation and table.",
	}, []string{"operation", "table"})
)
