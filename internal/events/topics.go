package events

// Topic constants for domain events emitted by checkout and ordering.
const (
	TopicCheckoutStarted    = "checkout.started"
	TopicCheckoutAbandoned  = "checkout.abandoned"
	TopicOrderCreated       = "order.created"
	TopicOrderPaid          = "order.paid"
	TopicOrderStatusChanged = "order.status_changed"
	TopicPaymentFailed      = "payment.failed"
	// TopicPaymentRefundRequired carries captured payments with no order.
	TopicPaymentRefundRequired = "payment.refund_required"
)

// DefaultTopics returns the topics forwarded to background workers.
func DefaultTopics() []string {
	return []string{
		TopicCheckoutStarted,
		TopicCheckoutAbandoned,
		TopicOrderCreated,
		TopicOrderPaid,
		TopicOrderStatusChanged,
		TopicPaymentFailed,
		TopicPaymentRefundRequired,
	}
}
