package testkit

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/aak1247/sitetap/internal/consumer"
	"github.com/google/uuid"
)

// InlinePublisher bypasses NSQ in tests by handing each message straight to
// the ingestor, so a collect request is stored before it returns.
type InlinePublisher struct {
	Ingestor *consumer.Ingestor
	handled  atomic.Int64
}

func (p *InlinePublisher) Publish(_ string, body []byte) error {
	if p.Ingestor == nil {
		return errors.New("testkit: ingestor is nil")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Ingestor.Handle(ctx, uuid.New(), body); err != nil {
		return err
	}
	p.handled.Add(1)
	return nil
}

// Handled counts messages the ingestor acknowledged.
func (p *InlinePublisher) Handled() int64 { return p.handled.Load() }
