package amqp

import (
	"context"
	"errors"
	"testing"

	"github.com/Veraticus/spice-sentinel/internal/alert"
	"github.com/Veraticus/spice-sentinel/internal/model"
	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	err       error
	exchange  string
	key       string
	published []amqp091.Publishing
	closed    bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp091.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.exchange, f.key = exchange, key
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestNotifier_Notify(t *testing.T) {
	ch := &fakeChannel{}
	n := &Notifier{channel: ch, exchangeName: "spice", routingKey: DefaultRoutingKey}
	subID := int64(7)

	a := model.Alert{
		ID:             "a-1",
		Type:           model.AlertZombie,
		Severity:       model.SeverityMedium,
		Message:        "NETFLIX has charged $15.99 monthly for 5 months without acknowledgment",
		SubscriptionID: &subID,
		Metadata:       map[string]any{"months_active": 5},
	}
	require.NoError(t, n.Notify(context.Background(), alert.EventCreated, a))

	require.Len(t, ch.published, 1)
	assert.Equal(t, "spice", ch.exchange)
	assert.Equal(t, DefaultRoutingKey, ch.key)
	assert.Equal(t, "application/json", ch.published[0].ContentType)
	assert.Equal(t, "a-1", ch.published[0].MessageId)

	msg, err := AlertMessageFromJSON(ch.published[0].Body)
	require.NoError(t, err)
	assert.Equal(t, "created", msg.Event)
	assert.Equal(t, model.AlertZombie, msg.Type)
	require.NotNil(t, msg.SubscriptionID)
	assert.Equal(t, subID, *msg.SubscriptionID)
	assert.Nil(t, msg.TransactionID)

	require.NoError(t, n.Close())
	assert.True(t, ch.closed)
}

func TestNotifier_PublishError(t *testing.T) {
	n := &Notifier{channel: &fakeChannel{err: errors.New("channel closed")}, exchangeName: "spice", routingKey: DefaultRoutingKey}
	err := n.Notify(context.Background(), alert.EventReopened, model.Alert{ID: "a-2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish message")
}

func TestAlertMessageFromJSON_Invalid(t *testing.T) {
	_, err := AlertMessageFromJSON([]byte("{"))
	require.Error(t, err)
}
