package obs

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// LigneMutationsTotal counts devis line create/update/delete/reorder outcomes.
	LigneMutationsTotal *prometheus.CounterVec
	// DevisTransitionsTotal counts devis status transition outcomes.
	DevisTransitionsTotal *prometheus.CounterVec
	// ConversionsTotal counts devis->commande and commande->facture conversions.
	ConversionsTotal *prometheus.CounterVec
	// TotalsRecalcLatency records devis totals recomputation latency in milliseconds.
	TotalsRecalcLatency prometheus.Histogram
	// WebhookDeliveriesTotal tracks webhook dispatch outcomes.
	WebhookDeliveriesTotal *prometheus.CounterVec
	// WebhookAttemptLatency records delivery attempt latency in milliseconds.
	WebhookAttemptLatency *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		LigneMutationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ligne_mutations_total",
			Help:      "Count of devis line mutations by operation and outcome.",
		}, []string{"operation", "result"})
		DevisTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "devis_transitions_total",
			Help:      "Count of devis status transitions by target status and outcome.",
		}, []string{"status", "result"})
		ConversionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversions_total",
			Help:      "Count of document conversions by kind and outcome.",
		}, []string{"kind", "result"})
		TotalsRecalcLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "totals_recalc_duration_ms",
			Help:      "Latency of devis totals recomputation in milliseconds.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
		})
		WebhookDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Count of webhook delivery outcomes.",
		}, []string{"result"})
		WebhookAttemptLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_attempt_duration_ms",
			Help:      "Latency for webhook delivery attempts in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"result"})

		mustRegisterCollector(reg, LigneMutationsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				LigneMutationsTotal = v
			}
		})
		mustRegisterCollector(reg, DevisTransitionsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				DevisTransitionsTotal = v
			}
		})
		mustRegisterCollector(reg, ConversionsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ConversionsTotal = v
			}
		})
		mustRegisterCollector(reg, TotalsRecalcLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				TotalsRecalcLatency = v
			}
		})
		mustRegisterCollector(reg, WebhookDeliveriesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				WebhookDeliveriesTotal = v
			}
		})
		mustRegisterCollector(reg, WebhookAttemptLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				WebhookAttemptLatency = v
			}
		})
	})
}

// ObserveLigneMutation records the outcome of one devis line mutation.
func ObserveLigneMutation(operation string, err error) {
	if LigneMutationsTotal != nil {
		LigneMutationsTotal.WithLabelValues(operation, outcomeLabel(err)).Inc()
	}
}

// ObserveDevisTransition records the outcome of one devis status transition.
func ObserveDevisTransition(status string, err error) {
	if DevisTransitionsTotal != nil {
		DevisTransitionsTotal.WithLabelValues(status, outcomeLabel(err)).Inc()
	}
}

// ObserveConversion records the outcome of one document conversion.
func ObserveConversion(kind string, err error) {
	if ConversionsTotal != nil {
		ConversionsTotal.WithLabelValues(kind, outcomeLabel(err)).Inc()
	}
}

// ObserveTotalsRecalc records the latency of one totals recomputation.
func ObserveTotalsRecalc(start time.Time) {
	if TotalsRecalcLatency != nil {
		TotalsRecalcLatency.Observe(DurationMillis(time.Since(start)))
	}
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
