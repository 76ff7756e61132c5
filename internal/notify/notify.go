// Package notify delivers order notifications to their recipients.
package notify

import (
	"context"
	"time"

	"github.com/go-faster/jx"
	"go.uber.org/zap"

	"github.com/xenking/campus-canteen/internal/domain/order"
)

// Nop drops every notification. It stands in when no transport is configured.
type Nop struct{}

func (Nop) Notify(context.Context, order.Notification) {}

// Log writes notifications to a logger.
type Log struct {
	lg *zap.Logger
}

func NewLog(lg *zap.Logger) *Log {
	return &Log{lg: lg}
}

func (l *Log) Notify(_ context.Context, n order.Notification) {
	l.lg.Info("Notification",
		zap.String("user_id", n.UserID),
		zap.String("title", n.Title),
		zap.String("body", n.Body),
		zap.String("tag", n.Tag),
	)
}

// Multi fans a notification out to several sinks in order.
type Multi []order.Notifier

func (m Multi) Notify(ctx context.Context, n order.Notification) {
	for _, s := range m {
		s.Notify(ctx, n)
	}
}

// Encode writes n as the JSON message body shared by every transport.
func Encode(e *jx.Encoder, n order.Notification, sentAt time.Time) {
	e.ObjStart()
	e.FieldStart("userId")
	e.Str(n.UserID)
	e.FieldStart("title")
	e.Str(n.Title)
	e.FieldStart("body")
	e.Str(n.Body)
	e.FieldStart("tag")
	e.Str(n.Tag)
	e.FieldStart("sentAt")
	e.Str(sentAt.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
}

// Decode parses a message body written by Encode.
func Decode(data []byte) (order.Notification, time.Time, error) {
	var (
		n      order.Notification
		sentAt time.Time
	)
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "userId":
			v, err := d.Str()
			n.UserID = v
			return err
		case "title":
			v, err := d.Str()
			n.Title = v
			return err
		case "body":
			v, err := d.Str()
			n.Body = v
			return err
		case "tag":
			v, err := d.Str()
			n.Tag = v
			return err
		case "sentAt":
			v, err := d.Str()
			if err != nil {
				return err
			}
			sentAt, err = time.Parse(time.RFC3339Nano, v)
			return err
		default:
			return d.Skip()
		}
	})
	return n, sentAt, err
}
