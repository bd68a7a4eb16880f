package obs

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentCreateTotal counts payment creation outcomes per method.
	PaymentCreateTotal *prometheus.CounterVec
	// PaymentVerifyTotal counts verification outcomes per method.
	PaymentVerifyTotal *prometheus.CounterVec
	// PaymentWebhookTotal counts inbound gateway webhooks by outcome.
	PaymentWebhookTotal *prometheus.CounterVec
	// GatewayCallDuration records outbound gateway call latency in milliseconds.
	GatewayCallDuration *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers payment collectors. Safe to call more than once.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentCreateTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_create_total",
			Help:      "Count of payment creation outcomes.",
		}, []string{"method", "result"})
		PaymentVerifyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_verify_total",
			Help:      "Count of payment verification outcomes.",
		}, []string{"method", "result"})
		PaymentWebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Count of processed payment webhooks by outcome.",
		}, []string{"provider", "result"})
		GatewayCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_call_duration_ms",
			Help:      "Latency of outbound payment gateway calls in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"gateway", "operation", "result"})

		mustRegisterCollector(reg, PaymentCreateTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentCreateTotal = v
			}
		})
		mustRegisterCollector(reg, PaymentVerifyTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentVerifyTotal = v
			}
		})
		mustRegisterCollector(reg, PaymentWebhookTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentWebhookTotal = v
			}
		})
		mustRegisterCollector(reg, GatewayCallDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				GatewayCallDuration = v
			}
		})
	})
}

// CountPaymentCreate increments the create counter when metrics are registered.
func CountPaymentCreate(method, result string) {
	if PaymentCreateTotal != nil {
		PaymentCreateTotal.WithLabelValues(method, result).Inc()
	}
}

// CountPaymentVerify increments the verify counter when metrics are registered.
func CountPaymentVerify(method, result string) {
	if PaymentVerifyTotal != nil {
		PaymentVerifyTotal.WithLabelValues(method, result).Inc()
	}
}

// CountWebhook increments the webhook counter when metrics are registered.
func CountWebhook(provider, result string) {
	if PaymentWebhookTotal != nil {
		PaymentWebhookTotal.WithLabelValues(provider, result).Inc()
	}
}

// ObserveGatewayCall records the latency of one gateway call.
func ObserveGatewayCall(gateway, operation string, err error, took time.Duration) {
	if GatewayCallDuration == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	GatewayCallDuration.WithLabelValues(gateway, operation, result).Observe(DurationMillis(took))
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
