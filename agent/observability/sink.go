package observability

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/agentdelegation/internal/pool"
)

// Sink 遥测事件的只写导出目标。
// Write 可能被不同 flush 依次调用，但同一 Sink 不会被并发调用。
type Sink interface {
	Name() string
	Write(ctx context.Context, events []TelemetryEvent) error
	Close() error
}

// =============================================================================
// 🎯 MemorySink
// =============================================================================

// MemorySink 将事件保存在内存中，主要用于测试与嵌入式场景
type MemorySink struct {
	mu     sync.Mutex
	events []TelemetryEvent
	writes int
}

// NewMemorySink 创建内存 Sink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Name 实现 Sink
func (s *MemorySink) Name() string { return "memory" }

// Write 实现 Sink
func (s *MemorySink) Write(_ context.Context, events []TelemetryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	s.writes++
	return nil
}

// Close 实现 Sink
func (s *MemorySink) Close() error { return nil }

// Events 返回已写入事件的副本
func (s *MemorySink) Events() []TelemetryEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TelemetryEvent(nil), s.events...)
}

// Writes 返回 Write 调用次数
func (s *MemorySink) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// =============================================================================
// 🎯 LogSink
// =============================================================================

// LogSink 通过 zap 输出结构化事件日志
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink 创建日志 Sink
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.With(zap.String("sink", "log"))}
}

// Name 实现 Sink
func (s *LogSink) Name() string { return "log" }

// Write 实现 Sink
func (s *LogSink) Write(_ context.Context, events []TelemetryEvent) error {
	for i := range events {
		e := &events[i]
		fields := []zap.Field{
			zap.String("event_id", e.EventID),
			zap.String("event_type", string(e.EventType)),
			zap.String("agent_id", e.AgentID),
			zap.String("contract_id", e.ContractID),
			zap.String("severity", e.Severity.String()),
			zap.Time("timestamp", e.Timestamp),
		}
		if e.ExecutionID != "" {
			fields = append(fields, zap.String("execution_id", e.ExecutionID))
		}
		if e.Chain != nil {
			fields = append(fields,
				zap.String("root_delegation_id", e.Chain.RootDelegationID),
				zap.Int("chain_depth", e.Chain.ChainDepth),
			)
		}
		if len(e.Payload) > 0 {
			fields = append(fields, zap.Any("payload", e.Payload))
		}
		s.logger.Info("telemetry event", fields...)
	}
	return nil
}

// Close 实现 Sink
func (s *LogSink) Close() error {
	_ = s.logger.Sync()
	return nil
}

// =============================================================================
// 🎯 FileSink (JSONL)
// =============================================================================

// FileSink 以 JSON Lines 格式追加写入文件
type FileSink struct {
	path string
	file *os.File
}

// NewFileSink 打开（必要时创建）目标文件
func NewFileSink(path string) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create event directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event file: %w", err)
	}
	return &FileSink{path: path, file: f}, nil
}

// Name 实现 Sink
func (s *FileSink) Name() string { return "file" }

// Write 实现 Sink，一次 flush 只产生一次系统调用
func (s *FileSink) Write(_ context.Context, events []TelemetryEvent) error {
	buf := pool.Buffers.Get()
	defer pool.Buffers.Put(buf)

	enc := json.NewEncoder(buf)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			return fmt.Errorf("encode event %s: %w", events[i].EventID, err)
		}
	}
	if _, err := s.file.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}

// Close 实现 Sink
func (s *FileSink) Close() error {
	if err := s.file.Sync(); err != nil {
		_ = s.file.Close()
		return err
	}
	return s.file.Close()
}

// ReadJSONL 读取 FileSink 导出的事件，空行被忽略
func ReadJSONL(r io.Reader) ([]TelemetryEvent, error) {
	var events []TelemetryEvent
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		var e TelemetryEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
