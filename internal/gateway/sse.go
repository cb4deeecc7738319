// ABOUTME: Server-Sent Events transport for turn streams.
// ABOUTME: Writes id/event/data frames per stream event plus comment heartbeats.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mimrai-org/mimrai-sub005/internal/session"
	"github.com/mimrai-org/mimrai-sub005/internal/stream"
)

const defaultHeartbeatInterval = 15 * time.Second

// writeSSEHeaders prepares w for an event stream.
func writeSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}

// formatSSEEvent formats an event frame:
// id: <seq>\nevent: <kind>\ndata: <json>\n\n
func formatSSEEvent(ev stream.Event) (string, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Kind(), data), nil
}

// streamEvents relays consumer events to w until End, a failure, or client
// disconnect. The consumer is detached on return; the producer keeps running.
func (g *Gateway) streamEvents(ctx context.Context, w http.ResponseWriter, consumer *session.Consumer) {
	defer consumer.Close()

	flusher := w.(http.Flusher)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan stream.Event)
	errCh := make(chan error, 1)
	go func() {
		defer close(events)
		for ev, err := range consumer.Events(ctx) {
			if err != nil {
				errCh <- err
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	writeSSEHeaders(w)
	flusher.Flush()

	interval := g.config.Streams.HeartbeatInterval
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	heartbeat := time.NewTicker(interval)
	defer heartbeat.Stop()

	logger := g.logger.With("consumer_id", consumer.ID(), "conversation_id", consumer.Key().ConversationID)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				select {
				case err := <-errCh:
					if !errors.Is(err, context.Canceled) && !errors.Is(err, stream.ErrCursorClosed) {
						logger.Warn("stream read failed", "error", err)
					}
				default:
				}
				return
			}
			frame, err := formatSSEEvent(ev)
			if err != nil {
				logger.Error("failed to encode stream event", "seq", ev.Seq, "error", err)
				return
			}
			if _, err := fmt.Fprint(w, frame); err != nil {
				logger.Debug("client write failed", "error", err)
				return
			}
			flusher.Flush()

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case <-ctx.Done():
			logger.Debug("client disconnected", "offset", consumer.Offset())
			return
		}
	}
}
