package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"

	"outreach-agent-go/internal/config"
	"outreach-agent-go/internal/constants"
	"outreach-agent-go/internal/logger"
	"outreach-agent-go/internal/types"
)

// Redis 提供摄取租约与画像缓存功能
type Redis struct {
	client      *redis.Client
	leaseTTL    time.Duration
	profileTTL  time.Duration
	leasePrefix string
	cachePrefix string
}

// NewRedis 创建Redis客户端并验证连通性
func NewRedis(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis配置不能为空")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
	})

	// 为Redis操作启用OpenTelemetry追踪
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Warn().Err(err).Msg("启用Redis追踪失败，继续使用未插桩的客户端")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("连接Redis失败: %w", err)
	}

	leaseTTL := 2 * time.Minute
	if cfg.IngestLeaseTTL != "" {
		if d, err := time.ParseDuration(cfg.IngestLeaseTTL); err == nil && d > 0 {
			leaseTTL = d
		}
	}
	profileTTL := constants.ProfileCacheDuration
	if cfg.ProfileCacheExpireHours > 0 {
		profileTTL = time.Duration(cfg.ProfileCacheExpireHours) * time.Hour
	}

	logger.Info().Str("address", cfg.Address).Msg("成功连接到Redis")
	return &Redis{
		client:      client,
		leaseTTL:    leaseTTL,
		profileTTL:  profileTTL,
		leasePrefix: constants.IngestLeaseKeyPrefix,
		cachePrefix: constants.ProfileCacheKeyPrefix,
	}, nil
}

// Client 返回底层客户端
func (r *Redis) Client() *redis.Client {
	return r.client
}

// Close 关闭Redis连接
func (r *Redis) Close() error {
	return r.client.Close()
}

// AcquireIngestLease 用SET NX尝试为文档获取摄取租约
// 返回false表示该文档正在被别的进程摄取
func (r *Redis) AcquireIngestLease(ctx context.Context, docID string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.leasePrefix+docID, time.Now().UTC().Format(time.RFC3339), r.leaseTTL).Result()
	if err != nil {
		return false, fmt.Errorf("获取摄取租约失败: %w", err)
	}
	return ok, nil
}

// ReleaseIngestLease 释放文档的摄取租约
func (r *Redis) ReleaseIngestLease(ctx context.Context, docID string) error {
	if err := r.client.Del(ctx, r.leasePrefix+docID).Err(); err != nil {
		return fmt.Errorf("释放摄取租约失败: %w", err)
	}
	return nil
}

// CacheResumeProfile 缓存用户画像
func (r *Redis) CacheResumeProfile(ctx context.Context, userID string, parsed *types.ParsedResume) error {
	data, err := json.Marshal(parsed)
	if err != nil {
		return fmt.Errorf("序列化画像缓存失败: %w", err)
	}
	if err := r.client.Set(ctx, r.cachePrefix+userID, data, r.profileTTL).Err(); err != nil {
		return fmt.Errorf("写入画像缓存失败: %w", err)
	}
	return nil
}

// GetCachedResumeProfile 读取缓存画像，未命中返回(nil, nil)
func (r *Redis) GetCachedResumeProfile(ctx context.Context, userID string) (*types.ParsedResume, error) {
	data, err := r.client.Get(ctx, r.cachePrefix+userID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("读取画像缓存失败: %w", err)
	}
	var parsed types.ParsedResume
	if err := json.Unmarshal(data, &parsed); err != nil {
		// 缓存损坏当作未命中处理，让上层回源数据库
		logger.Warn().Err(err).Str("user_id", userID).Msg("画像缓存内容无法解析，忽略")
		return nil, nil
	}
	return &parsed, nil
}

// InvalidateResumeProfile 删除用户画像缓存
func (r *Redis) InvalidateResumeProfile(ctx context.Context, userID string) error {
	return r.client.Del(ctx, r.cachePrefix+userID).Err()
}
