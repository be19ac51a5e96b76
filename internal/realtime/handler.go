package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/rushboard/rushboard/internal/platform/httpx"
)

// Handler streams hub events to websocket clients.
type Handler struct {
	hub            *Hub
	logger         *slog.Logger
	originPatterns []string
	buffer         int
	writeTimeout   time.Duration
}

// NewHandler constructs a websocket stream handler.
func NewHandler(hub *Hub, logger *slog.Logger, originPatterns []string) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		hub:            hub,
		logger:         logger,
		originPatterns: originPatterns,
		buffer:         64,
		writeTimeout:   5 * time.Second,
	}
}

// MountRoutes registers the stream endpoint.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{channel}", h.stream)
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	channel := strings.TrimSpace(chi.URLParam(r, "channel"))
	if !KnownChannel(channel) {
		httpx.Problem(w, http.StatusNotFound, "not_found", "Not Found", "unknown channel")
		return
	}
	if h.hub == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "internal", "Unavailable", "stream unavailable")
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Warn("websocket accept", slog.Any("error", err))
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := h.hub.Subscribe(channel, h.buffer)
	defer h.hub.Unsubscribe(sub)

	_ = wsjson.Write(ctx, conn, NewEvent(channel, EventReady, nil))

	// Clients only listen; reading detects disconnects.
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-readErr:
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case ev, ok := <-sub.Events():
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, h.writeTimeout)
			err := wsjson.Write(writeCtx, conn, ev)
			cancelWrite()
			if err != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}
