package kafka

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler returns nil only when the message is done and its offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type committer interface {
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Consumer struct {
	r        *kafka.Reader
	commit   committer
	workers  int
	attempts int
	backoff  time.Duration
	log      *zap.Logger

	deadLetter      Sink
	deadLetterTopic string
}

func NewConsumer(brokers []string, group, topic string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{
		r: r, commit: r, workers: workers, attempts: 3, backoff: 200 * time.Millisecond,
		log: log.Named("kafka.consumer").With(zap.String("topic", topic)),
	}
}

// WithDeadLetter parks messages that exhausted their attempts on topic, so a
// later commit on the same partition cannot skip them silently.
func (c *Consumer) WithDeadLetter(s Sink, topic string) *Consumer {
	c.deadLetter, c.deadLetterTopic = s, topic
	return c
}

// Start dispatches messages to a pool of workers until ctx is cancelled.
// A message is retried with backoff; after the last failed attempt it is
// moved to the dead-letter topic and committed, or without one logged with
// its payload and left uncommitted.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make(chan kafka.Message, 1024)
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range jobs {
				c.handle(ctx, h, m)
			}
		}()
	}
	defer wg.Wait()

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			close(jobs)
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case jobs <- m:
		case <-ctx.Done():
			close(jobs)
			return nil
		}
	}
}

func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) {
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			c.ack(ctx, m)
			return
		}
		if ctx.Err() != nil {
			return
		}
		if attempt >= c.attempts {
			c.giveUp(ctx, m, attempt, err)
			return
		}
		select {
		case <-time.After(time.Duration(attempt) * c.backoff):
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) ack(ctx context.Context, m kafka.Message) {
	if err := c.commit.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		c.log.Warn("commit failed", zap.Int64("offset", m.Offset), zap.Error(err))
	}
}

func (c *Consumer) giveUp(ctx context.Context, m kafka.Message, attempts int, cause error) {
	log := c.log.With(
		zap.Int("partition", m.Partition),
		zap.Int64("offset", m.Offset),
		zap.ByteString("key", m.Key),
		zap.ByteString("value", m.Value),
		zap.Int("attempts", attempts),
		zap.Error(cause),
	)
	if c.deadLetter == nil {
		log.Error("handler gave up, message left uncommitted")
		return
	}
	err := c.deadLetter.Publish(ctx, c.deadLetterTopic, m.Key, m.Value, append(m.Headers,
		kafka.Header{Key: "x-original-topic", Value: []byte(m.Topic)},
		kafka.Header{Key: "x-original-partition", Value: []byte(strconv.Itoa(m.Partition))},
		kafka.Header{Key: "x-original-offset", Value: []byte(strconv.FormatInt(m.Offset, 10))},
		kafka.Header{Key: "x-error", Value: []byte(cause.Error())},
	)...)
	if err != nil {
		log.Error("handler gave up, dead-letter publish failed", zap.NamedError("dead_letter_error", err))
		return
	}
	log.Error("handler gave up, message dead-lettered", zap.String("dead_letter_topic", c.deadLetterTopic))
	c.ack(ctx, m)
}
