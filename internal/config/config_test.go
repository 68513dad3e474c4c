package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
aliyun:
  api_key: file_key
  model: qwen-max
  task_models:
    analysis: qwen-plus
qdrant:
  endpoint: http://localhost:6333
  collection: custom_chunks
server:
  address: ":9090"
  api_keys:
    - secret1
rag:
  chunk_size: 1000
  default_top_k: 3
logger:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "file_key", cfg.Aliyun.APIKey)
	assert.Equal(t, "qwen-max", cfg.Aliyun.Model)
	assert.Equal(t, "custom_chunks", cfg.Qdrant.Collection)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, []string{"secret1"}, cfg.Server.APIKeys)
	assert.Equal(t, "debug", cfg.Logger.Level)

	// 未设置的字段由默认值补齐
	assert.Equal(t, 1000, cfg.RAG.ChunkSize)
	assert.Equal(t, 400, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 50, cfg.RAG.MinLength)
	assert.Equal(t, 100000, cfg.RAG.MaxLength)
	assert.Equal(t, 2000, cfg.RAG.KeywordCheckLength)
	assert.Equal(t, 2, cfg.RAG.MinKeywordMatches)
	assert.Equal(t, 1536, cfg.RAG.EmbeddingDimensions)
	assert.Equal(t, 100, cfg.RAG.UpsertBatchSize)
	assert.Equal(t, 3, cfg.RAG.DefaultTopK)
	assert.Equal(t, 0.1, cfg.RAG.MinScoreThreshold)
	assert.Equal(t, 15000, cfg.RAG.ParserMaxChars)
	assert.Equal(t, 1536, cfg.Aliyun.Embedding.Dimensions)
	assert.Equal(t, "2m", cfg.Redis.IngestLeaseTTL)
}

func TestLoadConfigMissingFileInTestEnv(t *testing.T) {
	// 测试进程里配置文件不存在时返回默认配置而不是报错
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "no_such.yaml"))
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.True(t, cfg.UseMemoryVectorStore())
}

func TestUseMemoryVectorStore(t *testing.T) {
	var cfg Config
	assert.True(t, cfg.UseMemoryVectorStore(), "无Qdrant端点时自动回退内存库")

	cfg.Qdrant.Endpoint = "http://localhost:6333"
	assert.False(t, cfg.UseMemoryVectorStore())

	cfg.RAG.UseMemoryStore = true
	assert.True(t, cfg.UseMemoryVectorStore(), "显式开关优先于端点配置")
}

func TestGetModelForTask(t *testing.T) {
	var cfg Config
	cfg.Aliyun.Model = "qwen-plus"
	cfg.Aliyun.TaskModels = map[string]string{
		"analysis":     "qwen-max",
		"resume_parse": "",
	}

	assert.Equal(t, "qwen-max", cfg.GetModelForTask("analysis"))
	// 空字符串的任务模型回退到默认模型
	assert.Equal(t, "qwen-plus", cfg.GetModelForTask("resume_parse"))
	assert.Equal(t, "qwen-plus", cfg.GetModelForTask("unknown_task"))
}

func TestGetDuration(t *testing.T) {
	assert.Equal(t, 2*time.Minute, GetDuration("2m", 0))
	assert.Equal(t, 5*time.Second, GetDuration("", 5*time.Second))
	assert.Equal(t, 5*time.Second, GetDuration("not-a-duration", 5*time.Second))
}

func TestCreateSampleConfigRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, CreateSampleConfig(path))

	// 再次生成到同一路径必须拒绝
	err := CreateSampleConfig(path)
	require.Error(t, err)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "resume_chunks", cfg.Qdrant.Collection)
}
