package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/freightquote/internal/domain"
	"github.com/alanyoungcy/freightquote/internal/freight"
)

// NotificationSink accepts decoded change notifications.
type NotificationSink interface {
	Dispatch(ctx context.Context, n domain.ChangeNotification)
}

// NotificationHandler receives marketplace change webhooks.
type NotificationHandler struct {
	sink   NotificationSink
	logger *slog.Logger
}

// NewNotificationHandler creates a NotificationHandler.
func NewNotificationHandler(sink NotificationSink, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{sink: sink, logger: logger.With(slog.String("handler", "notification"))}
}

// Receive decodes a notification and hands it off without waiting for the
// invalidation to run.
// POST /api/notifications
func (h *NotificationHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}
	n, err := freight.DecodeNotification(body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "rejected notification", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.sink.Dispatch(r.Context(), n)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted":   true,
		"listing_id": n.ListingID,
		"topic":      n.Topic,
	})
}
