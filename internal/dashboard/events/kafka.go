package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/segmentio/kafka-go"
)

// KafkaSource consumes change notifications from a Kafka topic and fans them
// out to in-process subscribers. One consumer goroutine serves all
// subscriptions; per-scope filtering happens locally.
type KafkaSource struct {
	reader *kafka.Reader
	logger *slog.Logger

	mu     sync.RWMutex
	nextID int
	subs   map[int]*kafkaSubscription

	cancel context.CancelFunc
	done   chan struct{}
}

// NewKafkaSource creates a Kafka-backed change event source. Start must be
// called before events are delivered.
func NewKafkaSource(brokers string, topic, groupID string, logger *slog.Logger) *KafkaSource {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: strings.Split(brokers, ","),
		Topic:   topic,
		GroupID: groupID,
	})
	return &KafkaSource{
		reader: reader,
		logger: logger,
		subs:   make(map[int]*kafkaSubscription),
	}
}

type kafkaSubscription struct {
	source  *KafkaSource
	id      int
	filter  Filter
	handler Handler
	once    sync.Once
}

func (s *kafkaSubscription) Close() error {
	s.once.Do(func() {
		s.source.mu.Lock()
		delete(s.source.subs, s.id)
		s.source.mu.Unlock()
	})
	return nil
}

// Subscribe registers a handler for matching events.
func (s *KafkaSource) Subscribe(_ context.Context, filter Filter, handler Handler) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	sub := &kafkaSubscription{source: s, id: s.nextID, filter: filter, handler: handler}
	s.subs[sub.id] = sub
	return sub, nil
}

// Start begins consuming. It returns immediately; consumption stops when the
// context is cancelled or Close is called.
func (s *KafkaSource) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		for {
			msg, err := s.reader.ReadMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
					return
				}
				s.logger.Warn("change event read failed", "error", err)
				continue
			}

			var event ChangeEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				s.logger.Warn("malformed change event", "offset", msg.Offset, "error", err)
				continue
			}
			s.dispatch(event)
		}
	}()
}

// Close stops the consumer goroutine and releases the Kafka reader.
func (s *KafkaSource) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return s.reader.Close()
}

func (s *KafkaSource) dispatch(event ChangeEvent) {
	s.mu.RLock()
	subs := make([]*kafkaSubscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()

	for _, sub := range subs {
		if sub.filter.Matches(event) {
			sub.handler(event)
		}
	}
}
