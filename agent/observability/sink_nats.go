package observability

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSPublisher nats.Conn 的最小接口
type NATSPublisher interface {
	Publish(subject string, data []byte) error
}

type natsFlusher interface {
	FlushWithContext(ctx context.Context) error
}

// NATSSink 将事件发布到 "<subject>.<event_type>"
type NATSSink struct {
	conn    NATSPublisher
	subject string
	closeFn func()
}

// NewNATSSink 连接 NATS 服务器并创建 Sink
func NewNATSSink(url, subject string) (*NATSSink, error) {
	nc, err := nats.Connect(url, nats.Name("agentdelegation-telemetry"))
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	s := NewNATSSinkWithPublisher(nc, subject)
	s.closeFn = func() { _ = nc.Drain() }
	return s, nil
}

// NewNATSSinkWithPublisher 使用已有连接创建 Sink
func NewNATSSinkWithPublisher(p NATSPublisher, subject string) *NATSSink {
	if subject == "" {
		subject = "delegation.events"
	}
	return &NATSSink{conn: p, subject: subject}
}

// Name 实现 Sink
func (s *NATSSink) Name() string { return "nats" }

// Write 实现 Sink
func (s *NATSSink) Write(ctx context.Context, events []TelemetryEvent) error {
	for i := range events {
		e := &events[i]
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", e.EventID, err)
		}
		if err := s.conn.Publish(s.subject+"."+string(e.EventType), data); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
	}
	if f, ok := s.conn.(natsFlusher); ok {
		return f.FlushWithContext(ctx)
	}
	return nil
}

// Close 实现 Sink
func (s *NATSSink) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}
