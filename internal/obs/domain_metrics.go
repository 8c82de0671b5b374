package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CheckoutQuoteTotal counts quote computations by outcome.
	CheckoutQuoteTotal *prometheus.CounterVec
	// CouponRejectedTotal counts coupons dropped from a quote, by reason.
	CouponRejectedTotal *prometheus.CounterVec
	// CheckoutTransitionTotal counts checkout lifecycle transitions.
	CheckoutTransitionTotal *prometheus.CounterVec
	// OrderMaterializeTotal counts materialization outcomes (created, replayed, error).
	OrderMaterializeTotal *prometheus.CounterVec
	// OrderMaterializeRetries counts unit-of-work retries after order number collisions.
	OrderMaterializeRetries prometheus.Counter
	// PaymentStartTotal counts payment requests sent to a gateway.
	PaymentStartTotal *prometheus.CounterVec
	// PaymentVerifyTotal counts gateway verification outcomes.
	PaymentVerifyTotal *prometheus.CounterVec
	// EventDeliveryTotal counts webhook deliveries of domain events by outcome.
	EventDeliveryTotal *prometheus.CounterVec
	// TaskProcessedTotal counts background tasks handled by the worker.
	TaskProcessedTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CheckoutQuoteTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_quote_total",
			Help:      "Count of checkout quote computations by result.",
		}, []string{"result"})
		CouponRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coupon_rejected_total",
			Help:      "Count of coupons not applied to a quote, by reason.",
		}, []string{"reason"})
		CheckoutTransitionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_transition_total",
			Help:      "Count of checkout status transitions.",
		}, []string{"to"})
		OrderMaterializeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_materialize_total",
			Help:      "Count of order materialization outcomes.",
		}, []string{"result"})
		OrderMaterializeRetries = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_materialize_retries_total",
			Help:      "Number of materialization attempts retried after an order number collision.",
		})
		PaymentStartTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_start_total",
			Help:      "Count of payment requests sent to a gateway.",
		}, []string{"gateway", "result"})
		PaymentVerifyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_verify_total",
			Help:      "Count of payment verification outcomes.",
		}, []string{"gateway", "result"})
		EventDeliveryTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_delivery_total",
			Help:      "Count of domain event webhook deliveries by topic and result.",
		}, []string{"topic", "result"})
		TaskProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_processed_total",
			Help:      "Count of background tasks processed by type and result.",
		}, []string{"type", "result"})

		mustRegisterCollector(reg, CheckoutQuoteTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CheckoutQuoteTotal = v
			}
		})
		mustRegisterCollector(reg, CouponRejectedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CouponRejectedTotal = v
			}
		})
		mustRegisterCollector(reg, CheckoutTransitionTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CheckoutTransitionTotal = v
			}
		})
		mustRegisterCollector(reg, OrderMaterializeTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				OrderMaterializeTotal = v
			}
		})
		mustRegisterCollector(reg, OrderMaterializeRetries, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				OrderMaterializeRetries = v
			}
		})
		mustRegisterCollector(reg, PaymentStartTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentStartTotal = v
			}
		})
		mustRegisterCollector(reg, PaymentVerifyTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentVerifyTotal = v
			}
		})
		mustRegisterCollector(reg, EventDeliveryTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				EventDeliveryTotal = v
			}
		})
		mustRegisterCollector(reg, TaskProcessedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				TaskProcessedTotal = v
			}
		})
	})
}

// Inc increments the labelled counter when domain metrics are registered.
func Inc(vec *prometheus.CounterVec, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Inc()
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
