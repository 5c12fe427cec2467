package transfer_api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"ms-ragers/internal/auth"
	"ms-ragers/internal/logger"
	"ms-ragers/internal/sse"
)

// SSEHandler streams transfer lifecycle updates to the caller so wallet UIs
// can react without polling.
type SSEHandler struct {
	Logger       *logger.Logger
	EventEmitter *sse.LifecycleEventEmitter
}

func NewSSEHandler(log *logger.Logger, emitter *sse.LifecycleEventEmitter) *SSEHandler {
	return &SSEHandler{Logger: log, EventEmitter: emitter}
}

// HandleTransferUpdates streams transfer state changes for the caller's
// sent and received transfers.
func (h *SSEHandler) HandleTransferUpdates(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	setupSSEHeaders(w)

	ctx := r.Context()
	updateChan := h.EventEmitter.SubscribeToUser(ctx, userID)

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\"}\n\n")
	flusher.Flush()

	h.Logger.Info("SSE", fmt.Sprintf("Client connected to transfer updates for user: %s", userID))

	for {
		select {
		case update, ok := <-updateChan:
			if !ok {
				h.Logger.Debug("SSE", fmt.Sprintf("Channel closed for user: %s", userID))
				return
			}

			jsonData, err := json.Marshal(update)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize transfer update: %v", err))
				continue
			}

			fmt.Fprintf(w, "event: transfer\ndata: %s\n\n", jsonData)
			flusher.Flush()

		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client disconnected from transfer updates for user: %s", userID))
			return
		}
	}
}

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
}
