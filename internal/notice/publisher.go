package notice

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"dismissal/internal/logging"
	"dismissal/internal/queue"
)

// MessageKind tags notices on the queue.
const MessageKind = "notice"

// Publisher hands notices to the worker through the queue.
type Publisher struct {
	q   queue.Queue
	log *zap.Logger
}

// NewPublisher creates a publisher. A nil queue drops every notice.
func NewPublisher(q queue.Queue, log *zap.Logger) *Publisher {
	return &Publisher{q: q, log: logging.OrNop(log)}
}

// Publish enqueues n. Failures are logged; notices are best effort.
func (p *Publisher) Publish(ctx context.Context, n Notice) {
	if p == nil || p.q == nil {
		return
	}
	body, err := json.Marshal(n)
	if err != nil {
		p.log.Warn("encode notice", zap.Error(err))
		return
	}
	if err := p.q.Publish(ctx, queue.Message{Kind: MessageKind, Body: body, At: n.At}); err != nil {
		p.log.Warn("publish notice failed", zap.String("kind", string(n.Kind)), zap.Error(err))
	}
}

// Decode reads a notice back from a queue message.
func Decode(msg queue.Message) (Notice, error) {
	var n Notice
	err := json.Unmarshal(msg.Body, &n)
	return n, err
}
