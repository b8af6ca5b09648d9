// Package broker implements the messaging substrate (spec §4.10, C10) on
// top of Kafka topics: the spec's topic exchanges map onto Kafka topics,
// per-queue prefetch maps onto bounded consumer concurrency, dead-letter
// routing maps onto a sibling "<topic>.dlq" topic, and publisher confirms
// map onto RequiredAcks: RequireAll.
package broker

// Config holds broker connection parameters, mirroring the teacher's
// kafka.Config.
type Config struct {
	Brokers       []string
	ConsumerGroup string
	TLS           bool
}

// Topology names the exchanges/topics from spec §4.10. Queues are not
// declared separately from topics in the Kafka mapping: a queue is a
// (topic, consumer group) pair.
const (
	TopicPaymentsValidation = "payments.validation"
	TopicPaymentsSaga       = "payments.saga"
	TopicPaymentsEvents     = "payments.events"
	TopicPaymentsAudit      = "payments.audit"
	TopicPaymentsDLQ        = "payments.dlq"
	TopicEscrowSaga         = "escrow.saga"
	TopicEscrowEvents       = "escrow.events"
	TopicEscrowDLQ          = "escrow.dlq"
	TopicCashEvents         = "cash.events"
	TopicCollectionsSaga    = "collections.saga"
	TopicCollectionsEvents  = "collections.events"
	TopicACHEvents          = "ach.events"
	TopicReconcileEvents    = "reconcile.events"
)

// DefaultDeliveryLimit is the number of redelivery attempts before a
// message is routed to its topic's DLQ (spec §4.10: x-delivery-limit,
// default 6).
const DefaultDeliveryLimit = 6

// DLQTopic returns the dead-letter topic name for a given topic.
func DLQTopic(topic string) string {
	return topic + ".dlq"
}

// Prefetch defaults per spec §5: "typical: payment_validation 20;
// payment_processing 5; reconcile/compliance 5; audit_log 100;
// servicing_cycle 1".
const (
	PrefetchPaymentValidation = 20
	PrefetchPaymentProcessing = 5
	PrefetchReconcile         = 5
	PrefetchAuditLog          = 100
	PrefetchServicingCycle    = 1
)
