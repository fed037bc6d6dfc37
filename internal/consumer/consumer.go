package consumer

import (
	"context"
	"fmt"
	"time"

	"github.com/aak1247/sitetap/internal/ingest"
	"github.com/aak1247/sitetap/internal/queue"
	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"
	"github.com/sirupsen/logrus"
)

type NSQOptions struct {
	Address     string
	Channel     string
	MaxInFlight int
	Concurrency int
	Log         *logrus.Logger
}

type NSQConsumer struct {
	consumer *nsq.Consumer
	onStop   []func()
}

// NewNSQEventConsumer subscribes the ingestor to the events topic. The
// ingestor is closed when the consumer stops.
func NewNSQEventConsumer(ctx context.Context, opts NSQOptions, ing *Ingestor) (*NSQConsumer, error) {
	if opts.Channel == "" {
		opts.Channel = "event-consumer"
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	c, err := newConsumer(ctx, opts, ingest.TopicEvents, messageHandler(ing))
	if err != nil {
		return nil, err
	}
	c.onStop = append(c.onStop, ing.Close)
	return c, nil
}

func messageHandler(ing *Ingestor) nsq.HandlerFunc {
	return func(m *nsq.Message) error {
		// The 16-byte NSQ message id is stable across redeliveries.
		var id uuid.UUID
		copy(id[:], m.ID[:])
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		return ing.Handle(ctx, id, m.Body)
	}
}

func (c *NSQConsumer) Stop() {
	if c == nil || c.consumer == nil {
		return
	}
	c.consumer.Stop()
	<-c.consumer.StopChan
	for _, fn := range c.onStop {
		if fn != nil {
			fn()
		}
	}
}

func newConsumer(ctx context.Context, opts NSQOptions, topic string, handler nsq.HandlerFunc) (*NSQConsumer, error) {
	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxInFlight = opts.MaxInFlight
	if nsqCfg.MaxInFlight <= 0 {
		nsqCfg.MaxInFlight = 200
	}
	nsqCfg.MsgTimeout = 30 * time.Second
	cons, err := nsq.NewConsumer(topic, opts.Channel, nsqCfg)
	if err != nil {
		return nil, err
	}
	log := opts.Log.WithFields(logrus.Fields{"component": "nsq-consumer", "topic": topic})
	cons.SetLogger(queue.NSQLogger{Log: log}, queue.NSQLogLevel(opts.Log.GetLevel()))
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		// Enough handlers to fill a batch without waiting on the interval.
		concurrency = nsqCfg.MaxInFlight
	}
	cons.AddConcurrentHandlers(handler, concurrency)

	if err := connectToNSQDWithRetry(ctx, cons, opts.Address, log); err != nil {
		cons.Stop()
		return nil, err
	}
	return &NSQConsumer{consumer: cons}, nil
}

func connectToNSQDWithRetry(ctx context.Context, cons *nsq.Consumer, addr string, log logrus.FieldLogger) error {
	const (
		totalWait = 2 * time.Minute
		maxDelay  = 5 * time.Second
	)
	deadline := time.Now().Add(totalWait)
	delay := 300 * time.Millisecond

	for {
		err := cons.ConnectToNSQD(addr)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("connect nsqd addr=%s: %w", addr, err)
		}
		log.WithError(err).WithField("retry_in", delay.String()).Warn("nsq connect failed")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
