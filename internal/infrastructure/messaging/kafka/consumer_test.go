package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KeyIP-MMP/internal/config"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/monitoring/logging"
	pkgerrors "github.com/turtacn/KeyIP-MMP/pkg/errors"
)

// mockKafkaReader serves queued messages, then blocks until ctx ends.
type mockKafkaReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []kafka.Message
	closed    bool
}

func (m *mockKafkaReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	m.mu.Lock()
	if len(m.queue) > 0 {
		msg := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		return msg, nil
	}
	m.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (m *mockKafkaReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committed = append(m.committed, msgs...)
	return nil
}

func (m *mockKafkaReader) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockKafkaReader) commits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.committed)
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*ProducerMessage
	err  error
}

func (r *recordingPublisher) Publish(_ context.Context, msg *ProducerMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

func (r *recordingPublisher) Close() error { return nil }

func newTestConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Brokers: []string{"localhost:9092"},
		GroupID: "mmp-worker",
		Topics:  []string{TopicMoleculeSubmitted},
		RetryConfig: RetryConfig{
			MaxRetries:      2,
			RetryBackoff:    time.Millisecond,
			DeadLetterTopic: TopicDeadLetter,
		},
	}
}

func TestValidateConsumerConfig(t *testing.T) {
	assert.NoError(t, ValidateConsumerConfig(newTestConsumerConfig()))

	cases := map[string]func(*ConsumerConfig){
		"no brokers":   func(c *ConsumerConfig) { c.Brokers = nil },
		"no group":     func(c *ConsumerConfig) { c.GroupID = "" },
		"no topics":    func(c *ConsumerConfig) { c.Topics = nil },
		"bad offset":   func(c *ConsumerConfig) { c.AutoOffsetReset = "middle" },
		"neg retries":  func(c *ConsumerConfig) { c.RetryConfig.MaxRetries = -1 },
		"bad sasl":     func(c *ConsumerConfig) { c.Security.SASLMechanism = "OAUTHBEARER" },
		"no sasl user": func(c *ConsumerConfig) { c.Security.SASLMechanism = MechanismPlain },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := newTestConsumerConfig()
			mutate(&cfg)
			assert.True(t, pkgerrors.IsCode(ValidateConsumerConfig(cfg), pkgerrors.ErrCodeValidation))
		})
	}
}

func TestConsumerConfigFrom(t *testing.T) {
	cfg := ConsumerConfigFrom(config.KafkaConfig{
		Brokers:         []string{"k:9092"},
		ConsumerGroup:   "g",
		AutoOffsetReset: "latest",
		MaxRetries:      4,
	}, TopicMoleculeSubmitted)
	assert.Equal(t, []string{TopicMoleculeSubmitted}, cfg.Topics)
	assert.Equal(t, "g", cfg.GroupID)
	assert.Equal(t, 4, cfg.RetryConfig.MaxRetries)
	assert.Equal(t, TopicDeadLetter, cfg.RetryConfig.DeadLetterTopic)
}

func TestConsumer_StartTwice(t *testing.T) {
	c := NewConsumerWithReader(&mockKafkaReader{}, newTestConsumerConfig(), nil, logging.NewNopLogger())
	require.NoError(t, c.Start(context.Background()))
	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyRunning)
	require.NoError(t, c.Close())
}

func TestConsumer_DispatchesAndCommits(t *testing.T) {
	reader := &mockKafkaReader{queue: []kafka.Message{
		{Topic: TopicMoleculeSubmitted, Offset: 7, Value: []byte("v1"), Headers: []kafka.Header{{Key: "event_type", Value: []byte("x")}}},
		{Topic: "unrouted", Offset: 8, Value: []byte("v2")},
	}}
	c := NewConsumerWithReader(reader, newTestConsumerConfig(), nil, nil)

	got := make(chan *Message, 1)
	c.Subscribe(TopicMoleculeSubmitted, func(_ context.Context, msg *Message) error {
		got <- msg
		return nil
	})
	require.NoError(t, c.Start(context.Background()))

	select {
	case msg := <-got:
		assert.Equal(t, "v1", string(msg.Value))
		assert.Equal(t, int64(7), msg.Offset)
		assert.Equal(t, "x", msg.Headers["event_type"])
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}
	assert.Eventually(t, func() bool { return reader.commits() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Close())
	assert.True(t, reader.closed)
	assert.Equal(t, int64(2), c.Metrics().MessagesConsumed.Load())
	assert.Equal(t, int64(1), c.Metrics().MessagesProcessed.Load())
}

func TestProcessMessage_RetrySuccess(t *testing.T) {
	c := NewConsumerWithReader(&mockKafkaReader{}, newTestConsumerConfig(), nil, nil)

	attempts := 0
	handler := func(context.Context, *Message) error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	}

	require.NoError(t, c.processMessage(context.Background(), &Message{}, handler))
	assert.Equal(t, 2, attempts)
	assert.Equal(t, int64(1), c.Metrics().MessagesRetried.Load())
	assert.Equal(t, int64(1), c.Metrics().MessagesProcessed.Load())
}

func TestProcessMessage_DeadLetter(t *testing.T) {
	dl := &recordingPublisher{}
	c := NewConsumerWithReader(&mockKafkaReader{}, newTestConsumerConfig(), dl, nil)

	attempts := 0
	handler := func(context.Context, *Message) error {
		attempts++
		return pkgerrors.New(pkgerrors.ErrCodeMMPSinkFailed, "postgres down")
	}
	msg := &Message{Topic: TopicMoleculeSubmitted, Key: []byte("s1"), Value: []byte("payload"), Headers: map[string]string{"event_type": EventMoleculeSubmitted}}

	require.NoError(t, c.processMessage(context.Background(), msg, handler))
	assert.Equal(t, 3, attempts)
	require.Len(t, dl.msgs, 1)
	out := dl.msgs[0]
	assert.Equal(t, TopicDeadLetter, out.Topic)
	assert.Equal(t, "payload", string(out.Value))
	assert.Equal(t, TopicMoleculeSubmitted, out.Headers[HeaderOriginalTopic])
	assert.Equal(t, "MMP_006", out.Headers[HeaderErrorCode])
	assert.Equal(t, EventMoleculeSubmitted, out.Headers["event_type"])
	assert.NotContains(t, msg.Headers, HeaderOriginalTopic)
	assert.Equal(t, int64(1), c.Metrics().MessagesDeadLettered.Load())
	assert.Equal(t, int64(1), c.Metrics().MessagesFailed.Load())
}

func TestProcessMessage_ContextCancelled(t *testing.T) {
	cfg := newTestConsumerConfig()
	cfg.RetryConfig.RetryBackoff = time.Hour
	c := NewConsumerWithReader(&mockKafkaReader{}, cfg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.processMessage(ctx, &Message{}, func(context.Context, *Message) error { return errors.New("fail") })
	assert.ErrorIs(t, err, context.Canceled)
}
