package storage

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-agent-go/internal/config"
)

func TestRoutingKeyDefaults(t *testing.T) {
	mq := &RabbitMQ{cfg: &config.RabbitMQConfig{}}
	assert.Equal(t, "resume.indexed", mq.IndexedRoutingKey())
	assert.Equal(t, "resume.deleted", mq.DeletedRoutingKey())
}

func TestRoutingKeyConfigOverrides(t *testing.T) {
	mq := &RabbitMQ{cfg: &config.RabbitMQConfig{
		IndexedRoutingKey: "cv.ready",
		DeletedRoutingKey: "cv.gone",
	}}
	assert.Equal(t, "cv.ready", mq.IndexedRoutingKey())
	assert.Equal(t, "cv.gone", mq.DeletedRoutingKey())
}

func TestResumeIndexedEventSerialization(t *testing.T) {
	event := ResumeIndexedEvent{
		DocID:      "resume_jane",
		UserID:     "jane",
		ChunkCount: 7,
		CharCount:  9800,
		IndexedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	body, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "resume_jane", decoded["doc_id"])
	assert.Equal(t, float64(7), decoded["chunk_count"])
	// 发件箱补发时的消息体与直接发布完全一致
	assert.Contains(t, string(body), `"indexed_at":"2026-03-01T12:00:00Z"`)
}
