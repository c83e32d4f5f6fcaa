// Package metrics provides Prometheus metrics for OpsAssist.
// It tracks event ingestion, incident grouping and classification latencies
// to help identify performance bottlenecks and measure SLOs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "opsassist"
)

// Event metrics track the ingestion pipeline.
var (
	// EventsReceivedTotal counts events accepted by the ingest API.
	EventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Total number of events received by the ingest API",
		},
		[]string{"level", "outcome"}, // outcome: no_action, attached_to_existing, new_incident_opened, rejected, failed
	)

	// EventIngestLatency measures time from API receipt to grouping commit.
	EventIngestLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_ingest_latency_seconds",
			Help:      "Time from event receipt to grouping decision in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)
)

// Incident metrics track grouping and lifecycle.
var (
	// IncidentsOpenedTotal counts incidents opened by the detector.
	IncidentsOpenedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_opened_total",
			Help:      "Total number of incidents opened",
		},
	)

	// EventsAttachedTotal counts ERROR events attached to an already open incident.
	EventsAttachedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_attached_total",
			Help:      "Total number of events attached to an existing open incident",
		},
	)

	// IncidentGroupSize tracks the number of events claimed when an incident opens.
	IncidentGroupSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "incident_group_size",
			Help:      "Number of events linked to an incident when it opens",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	// GroupingConflictsTotal counts lost grouping races, labeled by whether
	// the retry budget was exhausted.
	GroupingConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grouping_conflicts_total",
			Help:      "Total number of grouping conflicts",
		},
		[]string{"result"}, // result: retried, exhausted
	)

	// StatusTransitionsTotal counts lifecycle transitions.
	StatusTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Total number of incident status transitions",
		},
		[]string{"from", "to"},
	)
)

// Classification metrics track the enrichment workers.
var (
	// ClassificationsTotal counts classification attempts by provider and result.
	ClassificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Total number of incident classifications",
		},
		[]string{"provider", "result"}, // result: success, failure, skipped
	)

	// ClassificationLatency measures a single classifier call.
	ClassificationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "classification_latency_seconds",
			Help:      "Latency of a classifier call in seconds",
			Buckets:   []float64{.001, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider"},
	)

	// ClassificationTasksEnqueuedTotal counts tasks handed to the queue.
	ClassificationTasksEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classification_tasks_enqueued_total",
			Help:      "Total number of classification tasks published",
		},
		[]string{"status"}, // status: success, failure
	)
)

// Notification metrics track the notification pipeline.
var (
	// NotificationsSentTotal counts notifications sent.
	NotificationsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Total number of notifications sent",
		},
		[]string{"kind", "status"}, // status: success, failure
	)

	// NotificationLatency measures time from the incident change to dispatch.
	NotificationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "notification_latency_seconds",
			Help:      "Time from incident state change to notification dispatch in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)
)
