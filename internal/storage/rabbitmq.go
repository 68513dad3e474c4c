package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"outreach-agent-go/internal/config"
	"outreach-agent-go/internal/logger"
)

// ResumeIndexedEvent 文档入库完成事件
type ResumeIndexedEvent struct {
	DocID      string    `json:"doc_id"`
	UserID     string    `json:"user_id,omitempty"`
	ChunkCount int       `json:"chunk_count"`
	CharCount  int       `json:"char_count"`
	IndexedAt  time.Time `json:"indexed_at"`
}

// ResumeDeletedEvent 文档删除事件
type ResumeDeletedEvent struct {
	DocID     string    `json:"doc_id"`
	DeletedAt time.Time `json:"deleted_at"`
}

// EventPublisher 摄取事件发布接口
type EventPublisher interface {
	PublishIndexed(ctx context.Context, event ResumeIndexedEvent) error
	PublishDeleted(ctx context.Context, event ResumeDeletedEvent) error
	Close() error
}

// 确保RabbitMQ实现了EventPublisher接口
var _ EventPublisher = (*RabbitMQ)(nil)

// RabbitMQ 消息队列客户端，发布简历入库与删除事件
type RabbitMQ struct {
	conn        *amqp.Connection
	channelPool sync.Pool
	// 记录已声明的exchange
	exchangeMap map[string]bool
	exchangeMu  sync.Mutex
	cfg         *config.RabbitMQConfig
}

// NewRabbitMQ 创建RabbitMQ客户端并声明简历事件交换机
func NewRabbitMQ(cfg *config.RabbitMQConfig) (*RabbitMQ, error) {
	if cfg == nil {
		return nil, fmt.Errorf("RabbitMQ配置不能为空")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("RabbitMQ URL配置不能为空")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("无法连接到RabbitMQ服务器 (%s): %w", cfg.URL, err)
	}

	mq := &RabbitMQ{
		conn:        conn,
		exchangeMap: make(map[string]bool),
		cfg:         cfg,
	}
	mq.channelPool = sync.Pool{
		New: func() interface{} {
			ch, errPool := conn.Channel()
			if errPool != nil {
				logger.Error().Err(errPool).Msg("创建RabbitMQ通道失败")
				return nil
			}
			return ch
		},
	}

	testCh := mq.getChannel()
	if testCh == nil {
		conn.Close()
		return nil, fmt.Errorf("无法创建RabbitMQ通道")
	}
	mq.putChannel(testCh)

	exchange := cfg.ResumeEventsExchange
	if exchange == "" {
		exchange = "resume.events"
	}
	if err := mq.EnsureExchange(exchange, "topic", true); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Info().Str("url", cfg.URL).Str("exchange", exchange).Msg("成功连接到RabbitMQ服务器")
	return mq, nil
}

func (r *RabbitMQ) getChannel() *amqp.Channel {
	ch := r.channelPool.Get()
	if ch == nil {
		newCh, err := r.conn.Channel()
		if err != nil {
			logger.Error().Err(err).Msg("创建新RabbitMQ通道失败")
			return nil
		}
		return newCh
	}
	return ch.(*amqp.Channel)
}

func (r *RabbitMQ) putChannel(ch *amqp.Channel) {
	if ch != nil {
		r.channelPool.Put(ch)
	}
}

// Close 关闭连接
func (r *RabbitMQ) Close() error {
	return r.conn.Close()
}

// EnsureExchange 确保exchange存在，已声明过的直接跳过
func (r *RabbitMQ) EnsureExchange(exchangeName, exchangeType string, durable bool) error {
	if exchangeName == "" {
		return fmt.Errorf("exchange名称不能为空")
	}

	r.exchangeMu.Lock()
	defer r.exchangeMu.Unlock()
	if r.exchangeMap[exchangeName] {
		return nil
	}

	ch := r.getChannel()
	if ch == nil {
		return fmt.Errorf("无法获取RabbitMQ通道")
	}
	defer r.putChannel(ch)

	err := ch.ExchangeDeclare(
		exchangeName,
		exchangeType,
		durable,
		false, // 自动删除
		false, // 内部专用
		false, // 非阻塞
		nil,
	)
	if err != nil {
		return fmt.Errorf("声明exchange失败: %w", err)
	}

	r.exchangeMap[exchangeName] = true
	return nil
}

// IndexedRoutingKey 入库事件的路由键
func (r *RabbitMQ) IndexedRoutingKey() string {
	if r.cfg.IndexedRoutingKey != "" {
		return r.cfg.IndexedRoutingKey
	}
	return "resume.indexed"
}

// DeletedRoutingKey 删除事件的路由键
func (r *RabbitMQ) DeletedRoutingKey() string {
	if r.cfg.DeletedRoutingKey != "" {
		return r.cfg.DeletedRoutingKey
	}
	return "resume.deleted"
}

// PublishIndexed 发布文档入库完成事件
func (r *RabbitMQ) PublishIndexed(ctx context.Context, event ResumeIndexedEvent) error {
	return r.publishJSON(ctx, r.IndexedRoutingKey(), event)
}

// PublishDeleted 发布文档删除事件
func (r *RabbitMQ) PublishDeleted(ctx context.Context, event ResumeDeletedEvent) error {
	return r.publishJSON(ctx, r.DeletedRoutingKey(), event)
}

func (r *RabbitMQ) publishJSON(ctx context.Context, routingKey string, data interface{}) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	return r.PublishRaw(ctx, routingKey, body)
}

// PublishRaw 按路由键发布已序列化的事件体，发件箱中继补发时使用
func (r *RabbitMQ) PublishRaw(ctx context.Context, routingKey string, body []byte) error {
	exchange := r.cfg.ResumeEventsExchange
	if exchange == "" {
		exchange = "resume.events"
	}

	ch := r.getChannel()
	if ch == nil {
		return fmt.Errorf("无法获取RabbitMQ通道")
	}
	defer r.putChannel(ch)

	err := ch.PublishWithContext(ctx,
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("发布事件失败 (routing_key=%s): %w", routingKey, err)
	}
	return nil
}
