package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/campus-canteen/internal/domain/order"
	"github.com/xenking/campus-canteen/internal/watch"
)

// StreamOrders streams the caller's orders as server-sent events. Every
// snapshot is an "orders" event; each status change that is announced to
// the owner is followed by a "notification" event.
func (h *Handler) StreamOrders(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	lg := zctx.From(r.Context())

	rc := http.NewResponseController(w)
	// The server write timeout would cut the stream.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		lg.Debug("Write deadline not cleared", zap.Error(err))
	}
	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		lg.Warn("Streaming not supported", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	updates := make(chan watch.Update, 8)
	done := make(chan error, 1)
	go func() {
		done <- h.watcher.Run(ctx, p.UID, func(u watch.Update) {
			select {
			case updates <- u:
			case <-ctx.Done():
			}
		})
	}()

	send := func(u watch.Update) bool {
		if err := writeUpdate(w, u); err != nil {
			lg.Debug("Order stream closed", zap.Error(err))
			return false
		}
		return rc.Flush() == nil
	}

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-updates:
			if !send(u) {
				return
			}
		case <-ticker.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			if rc.Flush() != nil {
				return
			}
		case err := <-done:
			// Run has returned, so the fallback snapshot is already queued.
		drain:
			for {
				select {
				case u := <-updates:
					if !send(u) {
						return
					}
				default:
					break drain
				}
			}
			if err != nil {
				lg.Warn("Order stream ended", zap.Error(err))
				_ = writeEvent(w, "error", encodeStreamError(err))
				_ = rc.Flush()
			}
			return
		}
	}
}

func writeUpdate(w http.ResponseWriter, u watch.Update) error {
	data, err := encodeSnapshot(u)
	if err != nil {
		return err
	}
	if err := writeEvent(w, "orders", data); err != nil {
		return err
	}
	for _, n := range u.Notifications {
		if err := writeEvent(w, "notification", encodeNotification(n)); err != nil {
			return err
		}
	}
	return nil
}

func writeEvent(w http.ResponseWriter, name string, data []byte) error {
	buf := make([]byte, 0, len(name)+len(data)+16)
	buf = append(buf, "event: "...)
	buf = append(buf, name...)
	buf = append(buf, "\ndata: "...)
	buf = append(buf, data...)
	buf = append(buf, "\n\n"...)
	if _, err := w.Write(buf); err != nil {
		return errors.Wrap(err, "write event")
	}
	return nil
}

// encodeSnapshot encodes {"orders":[...],"changes":[{"id","from","to"}]}.
func encodeSnapshot(u watch.Update) ([]byte, error) {
	orders, err := json.Marshal(newOrderViews(u.Orders))
	if err != nil {
		return nil, errors.Wrap(err, "encode orders")
	}
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("orders", func(e *jx.Encoder) { e.Raw(orders) })
		e.Field("changes", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, c := range u.Changes {
					e.Obj(func(e *jx.Encoder) {
						e.Field("id", func(e *jx.Encoder) { e.Str(c.Order.ID) })
						e.Field("from", func(e *jx.Encoder) { e.Str(string(c.From)) })
						e.Field("to", func(e *jx.Encoder) { e.Str(string(c.Order.Status)) })
					})
				}
			})
		})
	})
	return e.Bytes(), nil
}

func encodeNotification(n order.Notification) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("title", func(e *jx.Encoder) { e.Str(n.Title) })
		e.Field("body", func(e *jx.Encoder) { e.Str(n.Body) })
		e.Field("tag", func(e *jx.Encoder) { e.Str(n.Tag) })
	})
	return e.Bytes()
}

func encodeStreamError(err error) []byte {
	_, msg := statusOf(err)
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
	})
	return e.Bytes()
}
