package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"outreach-agent-go/internal/config"
	"outreach-agent-go/internal/logger"
)

// MinIO 对象存储客户端，保存原始简历PDF
type MinIO struct {
	client          *minio.Client
	originalsBucket string
}

// NewMinIO 创建MinIO客户端并确保原始文件桶存在
func NewMinIO(cfg *config.MinIOConfig) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("minio配置不能为空")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	bucket := cfg.OriginalsBucket
	if bucket == "" {
		bucket = "resume-originals"
	}

	m := &MinIO{
		client:          client,
		originalsBucket: bucket,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.ensureBucket(ctx, bucket, cfg.Location); err != nil {
		return nil, err
	}

	logger.Info().Str("endpoint", cfg.Endpoint).Str("bucket", bucket).Msg("成功连接到MinIO")
	return m, nil
}

func (m *MinIO) ensureBucket(ctx context.Context, bucket, location string) error {
	exists, err := m.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("检查存储桶 '%s' 失败: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: location}); err != nil {
		return fmt.Errorf("创建存储桶 '%s' 失败: %w", bucket, err)
	}
	logger.Info().Str("bucket", bucket).Msg("已创建MinIO存储桶")
	return nil
}

// StoreOriginal 保存原始PDF，对象名为 {docID}.pdf
func (m *MinIO) StoreOriginal(ctx context.Context, docID string, data []byte) (string, error) {
	objectName := docID + ".pdf"
	_, err := m.client.PutObject(ctx, m.originalsBucket, objectName,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/pdf"})
	if err != nil {
		return "", fmt.Errorf("上传原始简历失败: %w", err)
	}
	return objectName, nil
}

// GetOriginal 读取原始PDF内容
func (m *MinIO) GetOriginal(ctx context.Context, docID string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.originalsBucket, docID+".pdf", minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("获取原始简历失败: %w", err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("读取原始简历失败: %w", err)
	}
	return data, nil
}

// DeleteOriginal 删除原始PDF，对象不存在时也返回成功
func (m *MinIO) DeleteOriginal(ctx context.Context, docID string) error {
	err := m.client.RemoveObject(ctx, m.originalsBucket, docID+".pdf", minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("删除原始简历失败: %w", err)
	}
	return nil
}
