package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/reactor/pkg/events"
)

// DefaultStream is the stream key used when none is configured.
const DefaultStream = "reactor:events"

// StreamMirror copies change events into a Redis stream so other processes
// can replay or consume them. Events are written by a background goroutine;
// the bus handler never waits on Redis.
type StreamMirror struct {
	client *redis.Client
	logger *zap.Logger
	stream string
	maxLen int64

	mu      sync.Mutex
	closed  bool
	queue   chan events.ChangeEvent
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

// NewStreamMirror creates a mirror writing to stream, trimmed to roughly
// maxLen entries. buffer bounds the events waiting to be written.
func NewStreamMirror(client *redis.Client, stream string, maxLen int64, buffer int, logger *zap.Logger) *StreamMirror {
	if stream == "" {
		stream = DefaultStream
	}
	if buffer <= 0 {
		buffer = 1024
	}
	s := &StreamMirror{
		client: client,
		logger: logger,
		stream: stream,
		maxLen: maxLen,
		queue:  make(chan events.ChangeEvent, buffer),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Attach mirrors every event emitted on bus until the returned function is
// called.
func (s *StreamMirror) Attach(bus *events.Bus) (detach func()) {
	return bus.Subscribe(s.Handle)
}

// Handle queues ev for writing. Events are dropped when the buffer is full.
func (s *StreamMirror) Handle(_ context.Context, ev events.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.queue <- ev:
	default:
		s.dropped.Add(1)
		s.logger.Warn("event mirror buffer full, dropping event",
			zap.String("type", string(ev.Type)),
			zap.Uint64("sequence", ev.Sequence))
	}
}

// Dropped returns how many events were dropped because the buffer was full.
func (s *StreamMirror) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *StreamMirror) run() {
	defer s.wg.Done()

	for ev := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.Publish(ctx, ev); err != nil {
			s.logger.Error("failed to mirror event",
				zap.String("type", string(ev.Type)),
				zap.Error(err))
		}
		cancel()
	}
}

// Publish writes ev to the stream
func (s *StreamMirror) Publish(ctx context.Context, ev events.ChangeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"type": string(ev.Type),
			"data": string(data),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	if _, err := s.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	s.logger.Debug("event mirrored",
		zap.String("event_id", ev.ID.String()),
		zap.String("type", string(ev.Type)),
		zap.String("stream", s.stream))
	return nil
}

// Replay returns up to count of the most recent mirrored events, oldest
// first.
func (s *StreamMirror) Replay(ctx context.Context, count int64) ([]events.ChangeEvent, error) {
	msgs, err := s.client.XRevRangeN(ctx, s.stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}

	out := make([]events.ChangeEvent, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		ev, err := decode(msgs[i])
		if err != nil {
			s.logger.Warn("skipping undecodable stream entry",
				zap.String("message_id", msgs[i].ID),
				zap.Error(err))
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Consume reads the stream as member consumer of group, calling handler for
// each event and acknowledging it when handler succeeds. It returns once the
// group exists; reading continues until ctx is done.
func (s *StreamMirror) Consume(ctx context.Context, group, consumer string, handler func(context.Context, events.ChangeEvent) error) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	s.logger.Info("consuming event stream",
		zap.String("stream", s.stream),
		zap.String("consumer_group", group),
		zap.String("consumer", consumer))

	go s.readStream(ctx, group, consumer, handler)
	return nil
}

func (s *StreamMirror) readStream(ctx context.Context, group, consumer string, handler func(context.Context, events.ChangeEvent) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{s.stream, ">"},
			Count:    10,
			Block:    time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			s.logger.Error("failed to read from stream",
				zap.String("stream", s.stream),
				zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				s.processMessage(ctx, group, msg, handler)
			}
		}
	}
}

func (s *StreamMirror) processMessage(ctx context.Context, group string, msg redis.XMessage, handler func(context.Context, events.ChangeEvent) error) {
	ev, err := decode(msg)
	if err != nil {
		s.logger.Error("invalid stream message",
			zap.String("stream", s.stream),
			zap.String("message_id", msg.ID),
			zap.Error(err))
		return
	}

	if err := handler(ctx, ev); err != nil {
		s.logger.Error("handler error",
			zap.String("stream", s.stream),
			zap.String("message_id", msg.ID),
			zap.Error(err))
		return
	}

	if err := s.client.XAck(ctx, s.stream, group, msg.ID).Err(); err != nil {
		s.logger.Error("failed to acknowledge message",
			zap.String("stream", s.stream),
			zap.String("message_id", msg.ID),
			zap.Error(err))
	}
}

// Close stops accepting events and waits until queued ones are written.
func (s *StreamMirror) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

func decode(msg redis.XMessage) (events.ChangeEvent, error) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return events.ChangeEvent{}, fmt.Errorf("missing data field")
	}

	var ev events.ChangeEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return events.ChangeEvent{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return ev, nil
}
