package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"nutriplan/internal/events"
	"nutriplan/internal/logger"
)

// InvalidationBus relays cache invalidation events between replicas over a pub/sub channel.
type InvalidationBus interface {
	Publish(ctx context.Context, ev events.Event) error
	StartForwarder(ctx context.Context, onEvent func(ev events.Event)) error
	Close() error
}

type invalidationBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

func NewInvalidationBus(log *logger.Logger, addr, channel string) (InvalidationBus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}
	if strings.TrimSpace(channel) == "" {
		channel = "nutrition-invalidation"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &invalidationBus{
		log:     log.With("service", "RedisInvalidationBus"),
		rdb:     rdb,
		channel: channel,
	}, nil
}

func (b *invalidationBus) Publish(ctx context.Context, ev events.Event) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis invalidation bus not initialized")
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *invalidationBus) StartForwarder(ctx context.Context, onEvent func(ev events.Event)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis invalidation bus not initialized")
	}
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				ev, err := decodeEvent(m.Payload)
				if err != nil {
					b.log.Warn("bad invalidation payload", "error", err)
					continue
				}
				onEvent(ev)
			}
		}
	}()

	return nil
}

func decodeEvent(payload string) (events.Event, error) {
	var ev events.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return events.Event{}, err
	}
	if ev.Kind == "" {
		return events.Event{}, fmt.Errorf("event without kind")
	}
	return ev, nil
}

func (b *invalidationBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
