package constants

import "time"

const (
	// DocIDPrefix 默认docId前缀，docId约定为 resume_<userId>
	DocIDPrefix = "resume_"

	// SourceResumeUpload 简历上传来源标记
	SourceResumeUpload = "resume_upload"

	// Redis键前缀
	IngestLeaseKeyPrefix  = "ingest:lease:"
	ProfileCacheKeyPrefix = "profile:"

	// ProfileCacheDuration 档案缓存默认过期时间
	ProfileCacheDuration = 24 * time.Hour

	// 外部调用默认超时
	VectorOpTimeout = 30 * time.Second
	EmbedOpTimeout  = 30 * time.Second
	ChatOpTimeout   = 60 * time.Second

	// UpsertBatchPause 批量写入之间的短暂停顿
	UpsertBatchPause = 100 * time.Millisecond
)
