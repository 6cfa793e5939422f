package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// redisAdapter backs a channel with a Redis pub/sub channel of the same
// name. Open blocks until Redis confirms the subscription, which is what
// gives the connection manager its acknowledged-subscription guarantee.
// Published frames loop back to the subscribing side, so heartbeats on a
// Redis-backed connection are self-acknowledging.
type redisAdapter struct {
	client *redis.Client
	logger *zap.Logger

	mu      sync.Mutex
	name    string
	sub     *redis.PubSub
	cancel  context.CancelFunc
	inbound func([]byte)
	onClose func(error)
	closed  atomic.Bool
}

func redisFactory(opts Options) Factory {
	return func(channel Channel) Adapter {
		opt := &redis.Options{Addr: opts.URL}
		if parsed, err := redis.ParseURL(opts.URL); err == nil {
			opt = parsed
		}
		return &redisAdapter{
			client: redis.NewClient(opt),
			logger: opts.Logger.Named("redis"),
		}
	}
}

func (a *redisAdapter) Open(ctx context.Context, name string) (OpenResult, error) {
	sub := a.client.Subscribe(ctx, name)

	// Receive waits for the subscription confirmation from the server.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		if ctx.Err() != nil {
			return OpenTimedOut, fmt.Errorf("subscribe %s: %w", name, err)
		}
		return OpenErrored, fmt.Errorf("subscribe %s: %w", name, err)
	}

	readCtx, cancel := context.WithCancel(context.Background())

	a.mu.Lock()
	a.name = name
	a.sub = sub
	a.cancel = cancel
	a.mu.Unlock()

	a.logger.Debug("channel subscribed", zap.String("channel", name))

	go a.readLoop(readCtx, name, sub)

	return OpenSubscribed, nil
}

func (a *redisAdapter) Send(ctx context.Context, frame []byte) error {
	a.mu.Lock()
	sub := a.sub
	name := a.name
	a.mu.Unlock()

	if sub == nil || a.closed.Load() {
		return errors.New("redis adapter is not open")
	}

	return a.client.Publish(ctx, name, frame).Err()
}

func (a *redisAdapter) OnInbound(handler func(frame []byte)) {
	a.mu.Lock()
	a.inbound = handler
	a.mu.Unlock()
}

func (a *redisAdapter) OnClose(handler func(err error)) {
	a.mu.Lock()
	a.onClose = handler
	a.mu.Unlock()
}

func (a *redisAdapter) Close(ctx context.Context) error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}

	a.mu.Lock()
	sub := a.sub
	cancel := a.cancel
	a.sub = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var err error
	if sub != nil {
		err = sub.Close()
	}
	if cerr := a.client.Close(); err == nil {
		err = cerr
	}
	return err
}

func (a *redisAdapter) readLoop(ctx context.Context, name string, sub *redis.PubSub) {
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				if !a.closed.Load() {
					a.logger.Warn("redis subscription lost", zap.String("channel", name))
					a.notifyClose(errors.New("redis subscription closed"))
				}
				return
			}

			a.mu.Lock()
			handler := a.inbound
			a.mu.Unlock()

			if handler != nil {
				handler([]byte(msg.Payload))
			}
		}
	}
}

func (a *redisAdapter) notifyClose(err error) {
	if !a.closed.CompareAndSwap(false, true) {
		return
	}

	a.mu.Lock()
	handler := a.onClose
	a.mu.Unlock()

	if handler != nil {
		handler(err)
	}
}
