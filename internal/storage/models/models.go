package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"outreach-agent-go/internal/types"
)

// ResumeProfileRecord 结构化简历画像表，按用户维度保存最新一次解析结果
type ResumeProfileRecord struct {
	UserID      string         `gorm:"type:varchar(64);primaryKey"`
	DocID       string         `gorm:"type:varchar(128);not null;index:idx_resume_profiles_doc_id"`
	ProfileJSON datatypes.JSON `gorm:"type:json;not null"`
	ParserModel string         `gorm:"type:varchar(100)"`
	CreatedAt   time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt   time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (ResumeProfileRecord) TableName() string {
	return "resume_profiles"
}

// Profile 反序列化画像字段
func (r *ResumeProfileRecord) Profile() (*types.ParsedResume, error) {
	if len(r.ProfileJSON) == 0 {
		return nil, nil
	}
	var parsed types.ParsedResume
	if err := json.Unmarshal(r.ProfileJSON, &parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

// SetProfile 序列化画像字段
func (r *ResumeProfileRecord) SetProfile(parsed *types.ParsedResume) error {
	data, err := json.Marshal(parsed)
	if err != nil {
		return err
	}
	r.ProfileJSON = datatypes.JSON(data)
	return nil
}

// IngestRecord 入库审计表，记录每次文档入库的结果与统计
type IngestRecord struct {
	ID          uint64         `gorm:"primaryKey;autoIncrement"`
	DocID       string         `gorm:"type:varchar(128);not null;index:idx_ingest_records_doc_id"`
	UserID      string         `gorm:"type:varchar(64);index:idx_ingest_records_user_id"`
	Filename    string         `gorm:"type:varchar(255)"`
	ChunkCount  int            `gorm:"not null"`
	CharCount   int            `gorm:"not null"`
	NumPages    int            `gorm:"default:0"`
	SectionsSum datatypes.JSON `gorm:"type:json"`
	Status      string         `gorm:"type:varchar(50);default:'INDEXED';index:idx_ingest_records_status"`
	CreatedAt   time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
}

func (IngestRecord) TableName() string {
	return "ingest_records"
}

// 发件箱消息状态
const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// OutboxMessage 事件发件箱表
// 直接发布失败的事件落到这里，由中继轮询补发
type OutboxMessage struct {
	ID         uint64         `gorm:"primaryKey;autoIncrement"`
	RoutingKey string         `gorm:"type:varchar(128);not null"`
	Payload    datatypes.JSON `gorm:"type:json;not null"`
	Status     string         `gorm:"type:varchar(20);default:'PENDING';index:idx_outbox_messages_status"`
	RetryCount int            `gorm:"default:0"`
	LastError  string         `gorm:"type:varchar(512)"`
	CreatedAt  time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt  time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (OutboxMessage) TableName() string {
	return "outbox_messages"
}
