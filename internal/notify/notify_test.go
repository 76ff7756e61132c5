package notify

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xenking/campus-canteen/internal/domain/order"
)

// --- Mock implementations ---

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
	deadline bool
}

type mockChannel struct {
	declared   []string
	declareErr error
	publishErr error
	published  []published
}

func (m *mockChannel) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	if m.declareErr != nil {
		return m.declareErr
	}
	m.declared = append(m.declared, name+"/"+kind)
	return nil
}

func (m *mockChannel) PublishWithContext(ctx context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if m.publishErr != nil {
		return m.publishErr
	}
	_, ok := ctx.Deadline()
	m.published = append(m.published, published{exchange: exchange, key: key, msg: msg, deadline: ok})
	return nil
}

type countingSink struct{ got []order.Notification }

func (c *countingSink) Notify(_ context.Context, n order.Notification) { c.got = append(c.got, n) }

// --- Tests ---

var sample = order.Notification{
	UserID: "u1",
	Title:  "Order Ready for Pickup!",
	Body:   `Your order #abc is "ready"`,
	Tag:    "order-abc",
}

func TestEncodeDecode(t *testing.T) {
	sentAt := time.Date(2026, 3, 1, 12, 30, 0, 500, time.UTC)
	var e jx.Encoder
	Encode(&e, sample, sentAt)

	assert.True(t, jx.Valid(e.Bytes()))
	n, at, err := Decode(e.Bytes())
	require.NoError(t, err)
	assert.Equal(t, sample, n)
	assert.True(t, sentAt.Equal(at))
}

func TestDecode_SkipsUnknownFields(t *testing.T) {
	n, _, err := Decode([]byte(`{"userId":"u1","extra":{"a":[1,2]},"tag":"t"}`))
	require.NoError(t, err)
	assert.Equal(t, "u1", n.UserID)
	assert.Equal(t, "t", n.Tag)

	_, _, err = Decode([]byte(`{"sentAt":"yesterday"}`))
	require.Error(t, err)
}

func TestAMQP_Publish(t *testing.T) {
	ch := &mockChannel{}
	sink, err := NewAMQP(ch, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{Exchange + "/topic"}, ch.declared)

	sink.Notify(context.Background(), sample)
	require.Len(t, ch.published, 1)
	p := ch.published[0]
	assert.Equal(t, Exchange, p.exchange)
	assert.Equal(t, "order.status.u1", p.key)
	assert.True(t, p.deadline)
	assert.Equal(t, "application/json", p.msg.ContentType)
	assert.Equal(t, amqp.Persistent, p.msg.DeliveryMode)

	n, _, err := Decode(p.msg.Body)
	require.NoError(t, err)
	assert.Equal(t, sample, n)
}

func TestAMQP_DeclareFailure(t *testing.T) {
	_, err := NewAMQP(&mockChannel{declareErr: errors.New("channel closed")}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), Exchange)
}

func TestAMQP_PublishFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	ch := &mockChannel{publishErr: errors.New("connection reset")}
	sink, err := NewAMQP(ch, zap.New(core))
	require.NoError(t, err)

	require.Error(t, sink.Publish(context.Background(), sample))
	sink.Notify(context.Background(), sample)
	assert.Equal(t, 1, logs.FilterMessage("Notification not published").Len())
}

func TestLog(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	NewLog(zap.New(core)).Notify(context.Background(), sample)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "order-abc", entries[0].ContextMap()["tag"])
}

func TestMulti(t *testing.T) {
	a, b := &countingSink{}, &countingSink{}
	Multi{a, Nop{}, b}.Notify(context.Background(), sample)
	assert.Len(t, a.got, 1)
	assert.Len(t, b.got, 1)
}
