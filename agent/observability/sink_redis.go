package observability

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStreamSink 通过 XADD 将事件追加到 Redis Stream
type RedisStreamSink struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

// NewRedisStreamSink 创建 Redis Stream Sink。maxLen > 0 时按近似长度裁剪。
// client 由调用方管理生命周期。
func NewRedisStreamSink(client redis.Cmdable, stream string, maxLen int64) *RedisStreamSink {
	if stream == "" {
		stream = "delegation:events"
	}
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

// Name 实现 Sink
func (s *RedisStreamSink) Name() string { return "redis" }

// Write 实现 Sink，一次 flush 使用一个 pipeline
func (s *RedisStreamSink) Write(ctx context.Context, events []TelemetryEvent) error {
	pipe := s.client.Pipeline()
	for i := range events {
		e := &events[i]
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", e.EventID, err)
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.stream,
			MaxLen: s.maxLen,
			Approx: s.maxLen > 0,
			Values: map[string]any{
				"event_id":    e.EventID,
				"event_type":  string(e.EventType),
				"contract_id": e.ContractID,
				"data":        string(data),
			},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

// Close 实现 Sink
func (s *RedisStreamSink) Close() error { return nil }
