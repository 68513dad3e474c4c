package outbox

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"outreach-agent-go/internal/logger"
	"outreach-agent-go/internal/storage"
	"outreach-agent-go/internal/storage/models"
)

var relayTracer = otel.Tracer("outreach-agent-go/outbox")

const (
	defaultPollingInterval = 5 * time.Second
	defaultBatchSize       = 10
	// maxRetryCount 超过后消息标记为FAILED，不再补发
	maxRetryCount = 5
)

// MessageRelay 轮询发件箱表，把直接发布失败的事件补发到RabbitMQ
type MessageRelay struct {
	db              *gorm.DB
	publisher       *storage.RabbitMQ
	pollingInterval time.Duration
	batchSize       int
}

// RelayOption MessageRelay构造选项
type RelayOption func(*MessageRelay)

// WithPollingInterval 设置轮询间隔
func WithPollingInterval(interval time.Duration) RelayOption {
	return func(r *MessageRelay) {
		if interval > 0 {
			r.pollingInterval = interval
		}
	}
}

// WithBatchSize 设置单次轮询的消息批量大小
func WithBatchSize(size int) RelayOption {
	return func(r *MessageRelay) {
		if size > 0 {
			r.batchSize = size
		}
	}
}

// NewMessageRelay 创建发件箱中继
func NewMessageRelay(db *gorm.DB, publisher *storage.RabbitMQ, opts ...RelayOption) *MessageRelay {
	r := &MessageRelay{
		db:              db,
		publisher:       publisher,
		pollingInterval: defaultPollingInterval,
		batchSize:       defaultBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start 阻塞运行中继循环，ctx取消时退出
func (r *MessageRelay) Start(ctx context.Context) {
	logger.Info().
		Dur("interval", r.pollingInterval).
		Int("batch_size", r.batchSize).
		Msg("发件箱中继已启动")

	ticker := time.NewTicker(r.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("发件箱中继已停止")
			return
		case <-ticker.C:
			if err := r.processBatch(ctx); err != nil {
				logger.Warn().Err(err).Msg("发件箱批次处理失败")
			}
		}
	}
}

// processBatch 锁定一批待发消息并逐条补发
// SKIP LOCKED保证多实例部署时不重复消费
func (r *MessageRelay) processBatch(ctx context.Context) error {
	ctx, span := relayTracer.Start(ctx, "MessageRelay.processBatch")
	defer span.End()

	var messages []models.OutboxMessage
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND retry_count < ?", models.OutboxStatusPending, maxRetryCount).
			Order("id").
			Limit(r.batchSize).
			Find(&messages).Error
		if err != nil {
			return err
		}

		for i := range messages {
			r.dispatch(ctx, tx, &messages[i])
		}
		return nil
	})
	if err != nil {
		return err
	}

	if len(messages) > 0 {
		span.SetAttributes(attribute.Int("outbox.batch", len(messages)))
	}
	return nil
}

// dispatch 补发单条消息并更新其状态
func (r *MessageRelay) dispatch(ctx context.Context, tx *gorm.DB, msg *models.OutboxMessage) {
	ctx, span := relayTracer.Start(ctx, "MessageRelay.dispatch",
		trace.WithAttributes(
			attribute.Int64("outbox.id", int64(msg.ID)),
			attribute.String("outbox.routing_key", msg.RoutingKey),
		))
	defer span.End()

	publishErr := r.publisher.PublishRaw(ctx, msg.RoutingKey, []byte(msg.Payload))

	updates := map[string]interface{}{"retry_count": msg.RetryCount + 1}
	switch {
	case publishErr == nil:
		updates["status"] = models.OutboxStatusSent
		updates["last_error"] = ""
	case msg.RetryCount+1 >= maxRetryCount:
		updates["status"] = models.OutboxStatusFailed
		updates["last_error"] = publishErr.Error()
		logger.Error().Err(publishErr).Uint64("outbox_id", msg.ID).Msg("发件箱消息超过最大重试次数")
	default:
		updates["last_error"] = publishErr.Error()
		logger.Warn().Err(publishErr).Uint64("outbox_id", msg.ID).Int("retry", msg.RetryCount+1).Msg("发件箱消息补发失败，稍后重试")
	}

	if err := tx.Model(msg).Updates(updates).Error; err != nil {
		logger.Error().Err(err).Uint64("outbox_id", msg.ID).Msg("更新发件箱消息状态失败")
	}
}
