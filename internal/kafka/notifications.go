package kafka

import (
	"encoding/json"
	"fmt"

	"ms-ragers/internal/logger"
	"ms-ragers/internal/models"
)

// Lifecycle topics. Consumers (notification service, audit) subscribe to
// these; nothing in the lifecycle engine depends on delivery.
const (
	TopicTransferCreated   = "ragers.transfer.created"
	TopicTransferClaimed   = "ragers.transfer.claimed"
	TopicTransferCancelled = "ragers.transfer.cancelled"
	TopicTransferExpired   = "ragers.transfer.expired"
	TopicCheckinScanned    = "ragers.checkin.scanned"
)

// LifecycleTopics lists every topic the service publishes, for startup
// creation.
func LifecycleTopics() []string {
	return []string{
		TopicTransferCreated,
		TopicTransferClaimed,
		TopicTransferCancelled,
		TopicTransferExpired,
		TopicCheckinScanned,
	}
}

// Notifier publishes transfer lifecycle events, fire and forget. Publish
// failures are logged and swallowed.
type Notifier struct {
	Producer *Producer
	Logger   *logger.Logger
}

func NewNotifier(producer *Producer, log *logger.Logger) *Notifier {
	return &Notifier{Producer: producer, Logger: log}
}

type transferEvent struct {
	TransferID string `json:"transferId"`
	TicketID   string `json:"ticketId"`
	EventID    string `json:"eventId"`
	FromUserID string `json:"fromUserId"`
	ToUserID   string `json:"toUserId,omitempty"`
	ToEmail    string `json:"toEmail,omitempty"`
	Status     string `json:"status"`
}

func (n *Notifier) publish(topic string, rec *models.TransferRecord) {
	value, err := json.Marshal(transferEvent{
		TransferID: rec.ID,
		TicketID:   rec.TicketID,
		EventID:    rec.EventID,
		FromUserID: rec.FromUserID,
		ToUserID:   rec.ToUserID,
		ToEmail:    rec.ToEmail,
		Status:     string(rec.Status),
	})
	if err != nil {
		n.Logger.Error("KAFKA", fmt.Sprintf("failed to marshal %s event for transfer %s: %v", topic, rec.ID, err))
		return
	}
	if err := n.Producer.Publish(topic, rec.ID, value); err != nil {
		n.Logger.Warn("KAFKA", fmt.Sprintf("failed to publish %s for transfer %s: %v", topic, rec.ID, err))
		return
	}
	n.Logger.LogKafka("PUBLISH", topic, rec.ID)
}

func (n *Notifier) TransferCreated(rec *models.TransferRecord)   { n.publish(TopicTransferCreated, rec) }
func (n *Notifier) TransferClaimed(rec *models.TransferRecord)   { n.publish(TopicTransferClaimed, rec) }
func (n *Notifier) TransferCancelled(rec *models.TransferRecord) { n.publish(TopicTransferCancelled, rec) }
func (n *Notifier) TransferExpired(rec *models.TransferRecord)   { n.publish(TopicTransferExpired, rec) }

// ScanRecorded streams a successful door scan for live dashboards.
func (n *Notifier) ScanRecorded(ticketID, eventID, scannerID string, usedCount, quantity int) {
	value, err := json.Marshal(map[string]any{
		"ticketId":  ticketID,
		"eventId":   eventID,
		"scannerId": scannerID,
		"usedCount": usedCount,
		"quantity":  quantity,
	})
	if err != nil {
		n.Logger.Error("KAFKA", fmt.Sprintf("failed to marshal scan event for ticket %s: %v", ticketID, err))
		return
	}
	if err := n.Producer.Publish(TopicCheckinScanned, ticketID, value); err != nil {
		n.Logger.Warn("KAFKA", fmt.Sprintf("failed to publish scan event for ticket %s: %v", ticketID, err))
		return
	}
	n.Logger.LogKafka("PUBLISH", TopicCheckinScanned, ticketID)
}
