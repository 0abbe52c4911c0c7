package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Turn counters, labelled by outcome (completed, failed, panic).
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coach",
			Subsystem: "relay",
			Name:      "turns_total",
			Help:      "Total turns processed",
		},
		[]string{"status"},
	)

	// Queued turns across all conversations.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "coach",
			Subsystem: "relay",
			Name:      "queue_depth",
			Help:      "Turns waiting in the intake queue",
		},
	)

	// Remote engine jobs, labelled by terminal status.
	EngineJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coach",
			Subsystem: "relay",
			Name:      "engine_jobs_total",
			Help:      "Remote engine jobs by terminal status",
		},
		[]string{"status"},
	)

	// Synthesis provider calls, labelled by outcome (ok, rate_limited, error).
	SynthProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coach",
			Subsystem: "relay",
			Name:      "synthesis_provider_calls_total",
			Help:      "Calls to the speech synthesis provider",
		},
		[]string{"status"},
	)

	// Webhook updates received, labelled by kind (text, voice, ignored, unauthorized).
	WebhookUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coach",
			Subsystem: "relay",
			Name:      "webhook_updates_total",
			Help:      "Inbound platform updates by kind",
		},
		[]string{"kind"},
	)
)
