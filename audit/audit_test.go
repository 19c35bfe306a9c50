package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_RingAndQuery(t *testing.T) {
	m := NewMemory(3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, Record(ctx, m, Entry{
			SessionID: "s1",
			Actor:     fmt.Sprintf("agent-%d", i),
			Action:    ActionDelegate,
		}))
	}

	assert.Equal(t, 3, m.Len())
	all := m.Query(Filter{})
	require.Len(t, all, 3)
	assert.Equal(t, "agent-2", all[0].Actor)
	assert.Equal(t, "agent-4", all[2].Actor)
	assert.False(t, all[0].Timestamp.IsZero())

	assert.Len(t, m.Query(Filter{Actor: "agent-3"}), 1)
	assert.Empty(t, m.Query(Filter{SessionID: "other"}))
	assert.Len(t, m.Query(Filter{Limit: 2}), 2)
	assert.Empty(t, m.Query(Filter{Since: time.Now().Add(time.Hour)}))
}

type fakePublisher struct {
	msgs []amqp.Publishing
	key  string
	err  error
}

func (f *fakePublisher) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	f.key = key
	f.msgs = append(f.msgs, msg)
	return f.err
}

func TestAMQPSink(t *testing.T) {
	pub := &fakePublisher{}
	s := NewAMQPSink(pub, "", "devmesh.audit")

	require.NoError(t, Record(context.Background(), s, Entry{Actor: "human_interaction_agent", Action: ActionTransfer}))
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "devmesh.audit", pub.key)
	assert.Equal(t, "application/json", pub.msgs[0].ContentType)

	var e Entry
	require.NoError(t, json.Unmarshal(pub.msgs[0].Body, &e))
	assert.Equal(t, ActionTransfer, e.Action)
	assert.NoError(t, s.Close())
}

func TestMulti_JoinsErrors(t *testing.T) {
	mem := NewMemory(10)
	failing := &fakePublisher{err: errors.New("broker down")}
	m := Multi{mem, NewAMQPSink(failing, "", "q")}

	err := m.Record(context.Background(), Entry{Action: ActionToolCall})
	assert.ErrorContains(t, err, "broker down")
	assert.Equal(t, 1, mem.Len())
}

func TestDialAMQP_RequiresURL(t *testing.T) {
	_, err := DialAMQP(AMQPConfig{})
	assert.Error(t, err)
}
