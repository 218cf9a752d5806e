package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KeyIP-MMP/internal/domain/fragment"
	pkgerrors "github.com/turtacn/KeyIP-MMP/pkg/errors"
)

type mockKafkaConn struct {
	createFunc func(topics ...kafka.TopicConfig) error
	partitions map[string][]kafka.Partition
}

func (m *mockKafkaConn) CreateTopics(topics ...kafka.TopicConfig) error {
	if m.createFunc != nil {
		return m.createFunc(topics...)
	}
	return nil
}

func (m *mockKafkaConn) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	if len(topics) == 1 {
		return m.partitions[topics[0]], nil
	}
	return nil, nil
}

func (m *mockKafkaConn) Close() error { return nil }

func TestDefaultTopics(t *testing.T) {
	topics := DefaultTopics(6, 3)
	require.Len(t, topics, 4)
	names := make([]string, len(topics))
	for i, tc := range topics {
		names[i] = tc.Name
		assert.Equal(t, 3, tc.ReplicationFactor)
	}
	assert.Equal(t, []string{"mmp.molecule.submitted", "mmp.fragment.created", "mmp.fragment.failed", "mmp.dead_letter"}, names)
	assert.Equal(t, 6, topics[0].NumPartitions)
	assert.Equal(t, 1, topics[3].NumPartitions)
}

func TestCreateTopic(t *testing.T) {
	var got []kafka.TopicConfig
	m := NewTopicManagerWithConn(&mockKafkaConn{createFunc: func(topics ...kafka.TopicConfig) error {
		got = append(got, topics...)
		return nil
	}}, nil)

	err := m.CreateTopic(context.Background(), TopicConfig{Name: "t", NumPartitions: 2, ReplicationFactor: 1, RetentionMs: 1000, CleanupPolicy: "delete"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "t", got[0].Topic)
	assert.Equal(t, []kafka.ConfigEntry{
		{ConfigName: "retention.ms", ConfigValue: "1000"},
		{ConfigName: "cleanup.policy", ConfigValue: "delete"},
	}, got[0].ConfigEntries)
}

func TestCreateTopic_Validation(t *testing.T) {
	m := NewTopicManagerWithConn(&mockKafkaConn{}, nil)
	ctx := context.Background()
	assert.Error(t, m.CreateTopic(ctx, TopicConfig{NumPartitions: 1, ReplicationFactor: 1}))
	assert.Error(t, m.CreateTopic(ctx, TopicConfig{Name: "t", ReplicationFactor: 1}))
	assert.Error(t, m.CreateTopic(ctx, TopicConfig{Name: "t", NumPartitions: 1}))
}

func TestCreateTopic_AlreadyExists(t *testing.T) {
	m := NewTopicManagerWithConn(&mockKafkaConn{createFunc: func(...kafka.TopicConfig) error {
		return kafka.TopicAlreadyExists
	}}, nil)
	assert.NoError(t, m.CreateTopic(context.Background(), TopicConfig{Name: "t", NumPartitions: 1, ReplicationFactor: 1}))

	m = NewTopicManagerWithConn(&mockKafkaConn{
		createFunc: func(...kafka.TopicConfig) error { return errors.New("race") },
		partitions: map[string][]kafka.Partition{"t": {{Topic: "t"}}},
	}, nil)
	assert.NoError(t, m.CreateTopic(context.Background(), TopicConfig{Name: "t", NumPartitions: 1, ReplicationFactor: 1}))
}

func TestCreateTopic_Failure(t *testing.T) {
	m := NewTopicManagerWithConn(&mockKafkaConn{createFunc: func(...kafka.TopicConfig) error {
		return errors.New("not controller")
	}}, nil)
	err := m.CreateTopic(context.Background(), TopicConfig{Name: "t", NumPartitions: 1, ReplicationFactor: 1})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeMessageQueueError))
}

func TestEventEnvelope_RoundTrip(t *testing.T) {
	payload := FragmentCreatedPayload{
		RunID: "run-1",
		Records: []fragment.Record{{
			OriginalIdentifier: "CCOCC",
			CompoundID:         "ether",
			SideChains:         "[*:1]C.[*:1]COCC",
		}},
	}
	env, err := NewEventEnvelope(EventFragmentCreated, payload)
	require.NoError(t, err)
	_, err = uuid.Parse(env.EventID)
	require.NoError(t, err)
	assert.Equal(t, SourceService, env.Source)

	msg, err := env.ToMessage(TopicFragmentCreated, "ether")
	require.NoError(t, err)
	assert.Equal(t, "ether", string(msg.Key))
	assert.Equal(t, EventFragmentCreated, msg.Headers["event_type"])

	decoded, err := MessageToEventEnvelope(&Message{Value: msg.Value})
	require.NoError(t, err)
	assert.Equal(t, env.EventID, decoded.EventID)

	var got FragmentCreatedPayload
	require.NoError(t, decoded.DecodePayload(&got))
	assert.Equal(t, payload, got)
}

func TestMessageToEventEnvelope_Invalid(t *testing.T) {
	_, err := MessageToEventEnvelope(&Message{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeValidation))

	_, err = MessageToEventEnvelope(&Message{Value: []byte("{not json")})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeSerialization))

	_, err = MessageToEventEnvelope(&Message{Value: []byte(`{"event_id":"x"}`)})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeValidation))

	env := &EventEnvelope{EventType: "x"}
	assert.Error(t, env.DecodePayload(&struct{}{}))
}
