package storage

import (
	"context"
	"fmt"
	"strings"

	"outreach-agent-go/internal/config"
	"outreach-agent-go/internal/logger"
)

// Storage 存储管理器，聚合所有存储相关依赖
// 向量库是硬依赖，其余组件按配置初始化，失败时降级运行
type Storage struct {
	// 向量数据库，未配置Qdrant时回退到内存实现
	Vectors VectorStore

	// 对象存储（原始PDF）
	MinIO *MinIO

	// 消息队列（入库事件）
	RabbitMQ *RabbitMQ

	// 关系型数据库（简历画像与入库审计）
	MySQL *MySQL

	// 键值存储（摄取租约与画像缓存）
	Redis *Redis
}

// NewStorage 创建存储管理器
// 可选组件初始化失败只告警，向量库初始化失败才返回错误
func NewStorage(ctx context.Context, cfg *config.Config) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}

	storage := &Storage{}
	var err error
	var initErrors []string

	if cfg.UseMemoryVectorStore() {
		logger.Info().Msg("使用内存向量库")
		storage.Vectors = NewMemoryVectorStore()
	} else {
		storage.Vectors, err = NewQdrant(&cfg.Qdrant,
			WithUpsertBatchSize(cfg.RAG.UpsertBatchSize))
		if err != nil {
			return nil, fmt.Errorf("初始化Qdrant失败: %w", err)
		}
	}

	if cfg.MinIO.Endpoint != "" {
		storage.MinIO, err = NewMinIO(&cfg.MinIO)
		if err != nil {
			logger.Warn().Err(err).Msg("初始化MinIO失败")
			initErrors = append(initErrors, fmt.Sprintf("MinIO: %v", err))
		}
	}

	if cfg.RabbitMQ.URL != "" {
		storage.RabbitMQ, err = NewRabbitMQ(&cfg.RabbitMQ)
		if err != nil {
			logger.Warn().Err(err).Msg("初始化RabbitMQ失败")
			initErrors = append(initErrors, fmt.Sprintf("RabbitMQ: %v", err))
		}
	}

	if cfg.MySQL.Host != "" {
		storage.MySQL, err = NewMySQL(&cfg.MySQL)
		if err != nil {
			logger.Warn().Err(err).Msg("初始化MySQL失败")
			initErrors = append(initErrors, fmt.Sprintf("MySQL: %v", err))
		}
	}

	if cfg.Redis.Address != "" {
		storage.Redis, err = NewRedis(&cfg.Redis)
		if err != nil {
			logger.Warn().Err(err).Msg("初始化Redis失败")
			initErrors = append(initErrors, fmt.Sprintf("Redis: %v", err))
		}
	}

	if len(initErrors) > 0 {
		logger.Warn().Str("components", strings.Join(initErrors, "; ")).Msg("部分存储组件初始化失败，降级运行")
	}

	return storage, nil
}

// Close 关闭所有连接
func (s *Storage) Close() {
	if s.RabbitMQ != nil {
		if err := s.RabbitMQ.Close(); err != nil {
			logger.Warn().Err(err).Msg("关闭RabbitMQ连接失败")
		}
	}
	if s.MySQL != nil {
		if err := s.MySQL.Close(); err != nil {
			logger.Warn().Err(err).Msg("关闭MySQL连接失败")
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			logger.Warn().Err(err).Msg("关闭Redis连接失败")
		}
	}
	// Qdrant与MinIO的HTTP客户端无需显式关闭
}
