package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/noah-isme/xray-triage-api/pkg/jobs"
)

// Message is one record read from the result topic.
type Message struct {
	Key     string
	Payload []byte
	Topic   string
	Offset  int64
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type jobSink interface {
	Enqueue(job jobs.Job) error
}

// KafkaConsumer reads classification results and hands them to the worker queue.
type KafkaConsumer struct {
	reader    messageReader
	sink      jobSink
	jobType   string
	batchSize int
	logger    *zap.Logger
}

// ConsumerConfig configures the result consumer.
type ConsumerConfig struct {
	Brokers   []string
	GroupID   string
	Topic     string
	JobType   string
	BatchSize int
}

// NewKafkaConsumer joins the consumer group for the result topic.
func NewKafkaConsumer(cfg ConsumerConfig, sink jobSink, logger *zap.Logger) (*KafkaConsumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer requires at least one broker")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("kafka consumer requires group id")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka consumer requires a topic")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: []string{cfg.Topic},
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
	})
	return newConsumer(reader, sink, cfg, logger), nil
}

func newConsumer(reader messageReader, sink jobSink, cfg ConsumerConfig, logger *zap.Logger) *KafkaConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &KafkaConsumer{reader: reader, sink: sink, jobType: cfg.JobType, batchSize: cfg.BatchSize, logger: logger}
}

// Poll reads up to max messages, returning early when the topic goes quiet.
func (c *KafkaConsumer) Poll(ctx context.Context, max int) ([]Message, error) {
	if max <= 0 {
		max = 1
	}
	out := make([]Message, 0, max)
	for i := 0; i < max; i++ {
		readCtx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
		msg, err := c.reader.ReadMessage(readCtx)
		cancel()
		if err != nil {
			switch {
			case errors.Is(err, context.DeadlineExceeded):
				return out, nil
			case errors.Is(err, context.Canceled):
				return out, ctx.Err()
			default:
				return out, err
			}
		}
		out = append(out, Message{
			Key:     string(msg.Key),
			Payload: msg.Value,
			Topic:   msg.Topic,
			Offset:  msg.Offset,
		})
	}
	return out, nil
}

// Run polls until ctx is cancelled, enqueueing each message as a job. Read errors
// are logged and retried after a short pause.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	c.logger.Info("result consumer started")
	for {
		batch, err := c.Poll(ctx, c.batchSize)
		for _, msg := range batch {
			job := jobs.Job{
				ID:      fmt.Sprintf("%s@%d", msg.Topic, msg.Offset),
				Type:    c.jobType,
				Payload: msg.Payload,
			}
			if qErr := c.sink.Enqueue(job); qErr != nil {
				c.logger.Error("failed to enqueue result", zap.String("job_id", job.ID), zap.Error(qErr))
			}
		}
		if ctx.Err() != nil {
			c.logger.Info("result consumer stopped")
			return nil
		}
		if err != nil {
			c.logger.Warn("result poll failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

// Close leaves the consumer group.
func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
