// Package sse is the optional change-subscription layer: clients that want
// live updates subscribe here instead of polling. The persisted state machine
// never depends on it.
package sse

import (
	"context"
	"sync"

	"ms-ragers/internal/models"
)

// TransferUpdate is pushed to the sender and recipient when a transfer
// changes state.
type TransferUpdate struct {
	TransferID string `json:"transferId"`
	TicketID   string `json:"ticketId"`
	EventID    string `json:"eventId"`
	Status     string `json:"status"`
}

// ScanUpdate is pushed to event dashboards on every successful door scan.
type ScanUpdate struct {
	TicketID  string `json:"ticketId"`
	EventID   string `json:"eventId"`
	ScannerID string `json:"scannerId"`
	UsedCount int    `json:"usedCount"`
	Quantity  int    `json:"quantity"`
}

// LifecycleEventEmitter manages SSE connections and event broadcasting for
// transfer and check-in updates.
type LifecycleEventEmitter struct {
	// key: userID, transfer updates for that user's sent/received transfers
	userClients     map[string][]chan TransferUpdate
	userClientMutex sync.RWMutex

	// key: eventID, live scan updates for that event's dashboard
	eventClients     map[string][]chan ScanUpdate
	eventClientMutex sync.RWMutex
}

func NewLifecycleEventEmitter() *LifecycleEventEmitter {
	return &LifecycleEventEmitter{
		userClients:  make(map[string][]chan TransferUpdate),
		eventClients: make(map[string][]chan ScanUpdate),
	}
}

// SubscribeToUser adds a client to a user's transfer updates.
func (e *LifecycleEventEmitter) SubscribeToUser(ctx context.Context, userID string) chan TransferUpdate {
	clientChan := make(chan TransferUpdate, 10)

	e.userClientMutex.Lock()
	e.userClients[userID] = append(e.userClients[userID], clientChan)
	e.userClientMutex.Unlock()

	go func() {
		<-ctx.Done()
		e.removeUserClient(userID, clientChan)
	}()

	return clientChan
}

// SubscribeToEvent adds a client to an event's scan updates.
func (e *LifecycleEventEmitter) SubscribeToEvent(ctx context.Context, eventID string) chan ScanUpdate {
	clientChan := make(chan ScanUpdate, 10)

	e.eventClientMutex.Lock()
	e.eventClients[eventID] = append(e.eventClients[eventID], clientChan)
	e.eventClientMutex.Unlock()

	go func() {
		<-ctx.Done()
		e.removeEventClient(eventID, clientChan)
	}()

	return clientChan
}

func (e *LifecycleEventEmitter) emitTransfer(rec *models.TransferRecord) {
	update := TransferUpdate{
		TransferID: rec.ID,
		TicketID:   rec.TicketID,
		EventID:    rec.EventID,
		Status:     string(rec.Status),
	}

	targets := []string{rec.FromUserID}
	if rec.ToUserID != "" {
		targets = append(targets, rec.ToUserID)
	}

	e.userClientMutex.RLock()
	defer e.userClientMutex.RUnlock()
	for _, userID := range targets {
		for _, clientChan := range e.userClients[userID] {
			// Non-blocking send so a slow client never stalls the emitter.
			select {
			case clientChan <- update:
			default:
			}
		}
	}
}

// The emitter satisfies the transfer workflow's Notifier interface so it can
// sit next to the kafka notifier in a fan-out.
func (e *LifecycleEventEmitter) TransferCreated(rec *models.TransferRecord)   { e.emitTransfer(rec) }
func (e *LifecycleEventEmitter) TransferClaimed(rec *models.TransferRecord)   { e.emitTransfer(rec) }
func (e *LifecycleEventEmitter) TransferCancelled(rec *models.TransferRecord) { e.emitTransfer(rec) }
func (e *LifecycleEventEmitter) TransferExpired(rec *models.TransferRecord)   { e.emitTransfer(rec) }

// ScanRecorded broadcasts a successful scan to the event's dashboard clients.
func (e *LifecycleEventEmitter) ScanRecorded(ticketID, eventID, scannerID string, usedCount, quantity int) {
	update := ScanUpdate{
		TicketID:  ticketID,
		EventID:   eventID,
		ScannerID: scannerID,
		UsedCount: usedCount,
		Quantity:  quantity,
	}

	e.eventClientMutex.RLock()
	clients := e.eventClients[eventID]
	e.eventClientMutex.RUnlock()

	for _, clientChan := range clients {
		select {
		case clientChan <- update:
		default:
		}
	}
}

func (e *LifecycleEventEmitter) removeUserClient(userID string, clientChan chan TransferUpdate) {
	e.userClientMutex.Lock()
	defer e.userClientMutex.Unlock()

	clients := e.userClients[userID]
	for i, ch := range clients {
		if ch == clientChan {
			e.userClients[userID] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}
	if len(e.userClients[userID]) == 0 {
		delete(e.userClients, userID)
	}
}

func (e *LifecycleEventEmitter) removeEventClient(eventID string, clientChan chan ScanUpdate) {
	e.eventClientMutex.Lock()
	defer e.eventClientMutex.Unlock()

	clients := e.eventClients[eventID]
	for i, ch := range clients {
		if ch == clientChan {
			e.eventClients[eventID] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}
	if len(e.eventClients[eventID]) == 0 {
		delete(e.eventClients, eventID)
	}
}

// UserClientCount returns how many clients follow a user's transfers.
func (e *LifecycleEventEmitter) UserClientCount(userID string) int {
	e.userClientMutex.RLock()
	defer e.userClientMutex.RUnlock()
	return len(e.userClients[userID])
}

// EventClientCount returns how many clients follow an event's scans.
func (e *LifecycleEventEmitter) EventClientCount(eventID string) int {
	e.eventClientMutex.RLock()
	defer e.eventClientMutex.RUnlock()
	return len(e.eventClients[eventID])
}
