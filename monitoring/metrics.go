package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "automation_cycles_total",
		Help: "Automation cycles run, by outcome.",
	}, []string{"outcome"})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "automation_cycle_duration_seconds",
		Help:    "Duration of a full automation cycle.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	ReviewsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "automation_reviews_ingested_total",
		Help: "New reviews persisted, by classification path.",
	}, []string{"path"})

	RepliesPosted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "automation_replies_posted_total",
		Help: "Replies posted to the review platform, by result.",
	}, []string{"result"})

	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "automation_messages_sent_total",
		Help: "Notifications handed to the messaging provider, by template and result.",
	}, []string{"template", "result"})

	RemindersSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "automation_reminders_sent_total",
		Help: "Manual-queue reminders delivered.",
	})

	EscalationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "automation_escalations_total",
		Help: "Queue entries escalated after exhausting reminders.",
	})

	FetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "automation_fetch_failures_total",
		Help: "Review fetches that failed, by error class.",
	}, []string{"class"})
)
