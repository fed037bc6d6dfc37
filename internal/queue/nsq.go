package queue

import (
	"errors"
	"strings"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/sirupsen/logrus"
)

// NSQLogger routes go-nsq's internal logging through logrus.
type NSQLogger struct {
	Log logrus.FieldLogger
}

func (l NSQLogger) Output(_ int, s string) error {
	msg := strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(msg, "ERR"):
		l.Log.Error(msg)
	case strings.HasPrefix(msg, "WRN"):
		l.Log.Warn(msg)
	default:
		l.Log.Debug(msg)
	}
	return nil
}

// NSQLogLevel maps the logrus level onto the closest go-nsq level.
func NSQLogLevel(lvl logrus.Level) nsq.LogLevel {
	switch {
	case lvl >= logrus.DebugLevel:
		return nsq.LogLevelDebug
	case lvl >= logrus.InfoLevel:
		return nsq.LogLevelInfo
	case lvl >= logrus.WarnLevel:
		return nsq.LogLevelWarning
	default:
		return nsq.LogLevelError
	}
}

type NSQPublisher struct {
	producer *nsq.Producer
}

func NewNSQPublisher(nsqdAddress string, log *logrus.Logger) (*NSQPublisher, error) {
	if nsqdAddress == "" {
		return nil, errors.New("nsqd address is empty")
	}
	cfg := nsq.NewConfig()
	cfg.DialTimeout = 2 * time.Second
	// ReadTimeout must exceed the 30s heartbeat interval.
	cfg.ReadTimeout = 35 * time.Second
	cfg.WriteTimeout = 5 * time.Second
	producer, err := nsq.NewProducer(nsqdAddress, cfg)
	if err != nil {
		return nil, err
	}
	if log != nil {
		producer.SetLogger(NSQLogger{Log: log.WithField("component", "nsq-producer")}, NSQLogLevel(log.GetLevel()))
	}
	return &NSQPublisher{producer: producer}, nil
}

func (p *NSQPublisher) Publish(topic string, body []byte) error {
	return p.producer.Publish(topic, body)
}

func (p *NSQPublisher) MultiPublish(topic string, bodies [][]byte) error {
	return p.producer.MultiPublish(topic, bodies)
}

// Ping checks the producer can reach nsqd.
func (p *NSQPublisher) Ping() error {
	return p.producer.Ping()
}

func (p *NSQPublisher) Stop() {
	p.producer.Stop()
}
