package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// EventRecord 事件在 SQL 中的行结构
type EventRecord struct {
	EventID          string    `gorm:"primaryKey;size:64"`
	EventType        string    `gorm:"size:64;index"`
	Timestamp        time.Time `gorm:"index"`
	AgentID          string    `gorm:"size:128;index"`
	ContractID       string    `gorm:"size:64;index"`
	ExecutionID      string    `gorm:"size:64"`
	DelegationDepth  int
	RootDelegationID string    `gorm:"size:64;index"`
	ChainDepth       int
	Severity         string `gorm:"size:16"`
	Payload          string `gorm:"type:text"`
	Metrics          string `gorm:"type:text"`
}

// TableName 指定表名
func (EventRecord) TableName() string { return "delegation_events" }

// GormSink 将事件批量写入 SQL 数据库
type GormSink struct {
	db        *gorm.DB
	batchSize int
}

// NewGormSink 创建 SQL Sink，migrate 为 true 时自动建表
func NewGormSink(db *gorm.DB, batchSize int, migrate bool) (*GormSink, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	if migrate {
		if err := db.AutoMigrate(&EventRecord{}); err != nil {
			return nil, fmt.Errorf("migrate delegation_events: %w", err)
		}
	}
	return &GormSink{db: db, batchSize: batchSize}, nil
}

// Name 实现 Sink
func (s *GormSink) Name() string { return "database" }

// Write 实现 Sink
func (s *GormSink) Write(ctx context.Context, events []TelemetryEvent) error {
	if len(events) == 0 {
		return nil
	}
	records := make([]EventRecord, 0, len(events))
	for i := range events {
		r, err := toRecord(&events[i])
		if err != nil {
			return err
		}
		records = append(records, r)
	}
	return s.db.WithContext(ctx).CreateInBatches(records, s.batchSize).Error
}

// Close 实现 Sink；连接由 database 管理器关闭
func (s *GormSink) Close() error { return nil }

func toRecord(e *TelemetryEvent) (EventRecord, error) {
	r := EventRecord{
		EventID:          e.EventID,
		EventType:        string(e.EventType),
		Timestamp:        e.Timestamp,
		AgentID:          e.AgentID,
		ContractID:       e.ContractID,
		ExecutionID:      e.ExecutionID,
		DelegationDepth:  e.DelegationDepth,
		RootDelegationID: e.RootID(),
		ChainDepth:       e.Depth(),
		Severity:         e.Severity.String(),
	}
	if len(e.Payload) > 0 {
		data, err := json.Marshal(e.Payload)
		if err != nil {
			return r, fmt.Errorf("encode payload of %s: %w", e.EventID, err)
		}
		r.Payload = string(data)
	}
	if e.PerformanceMetrics != nil {
		data, err := json.Marshal(e.PerformanceMetrics)
		if err != nil {
			return r, fmt.Errorf("encode metrics of %s: %w", e.EventID, err)
		}
		r.Metrics = string(data)
	}
	return r, nil
}
