package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter kafka.Writer 的最小接口
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink 将事件发布到 Kafka topic。
// 消息以链根为 key，同一条链的事件落在同一分区并保持顺序。
type KafkaSink struct {
	writer MessageWriter
}

// NewKafkaSink 使用 brokers 与 topic 创建同步写入的 kafka.Writer
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return NewKafkaSinkWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
		Async:        false,
	})
}

// NewKafkaSinkWithWriter 使用自定义 writer 创建 Sink
func NewKafkaSinkWithWriter(w MessageWriter) *KafkaSink {
	return &KafkaSink{writer: w}
}

// Name 实现 Sink
func (s *KafkaSink) Name() string { return "kafka" }

// Write 实现 Sink
func (s *KafkaSink) Write(ctx context.Context, events []TelemetryEvent) error {
	msgs := make([]kafka.Message, 0, len(events))
	for i := range events {
		e := &events[i]
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", e.EventID, err)
		}
		key := e.RootID()
		if key == "" {
			key = e.ContractID
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(key),
			Value: data,
			Time:  e.Timestamp,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(e.EventType)},
				{Key: "severity", Value: []byte(e.Severity.String())},
			},
		})
	}
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close 实现 Sink
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// ParseBrokers 解析逗号分隔的 broker 列表
func ParseBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
