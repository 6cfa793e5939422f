package tether

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// heartbeat sends a liveness ping through the connection at a fixed
// interval while the connection is connected. An inbound frame of any kind
// acknowledges liveness; after `misses` consecutive intervals without an
// acknowledgement, or a failed ping send, onStale is invoked once and the
// scheduler stops itself.
type heartbeat struct {
	interval time.Duration
	misses   int
	logger   *zap.Logger

	// send pushes one ping-typed message through the adapter.
	send func(ctx context.Context) error
	// onStale signals the owning connection to begin reconnecting.
	onStale func(err error)

	alive    atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newHeartbeat(interval time.Duration, misses int, logger *zap.Logger,
	send func(ctx context.Context) error, onStale func(err error)) *heartbeat {
	return &heartbeat{
		interval: interval,
		misses:   misses,
		logger:   logger,
		send:     send,
		onStale:  onStale,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (h *heartbeat) start() {
	h.alive.Store(true)
	go h.loop()
}

func (h *heartbeat) loop() {
	defer close(h.done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	consecutive := 0
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			if h.alive.Swap(false) {
				consecutive = 0
			} else {
				consecutive++
				h.logger.Warn("heartbeat unacknowledged",
					zap.Int("consecutive", consecutive),
					zap.Int("threshold", h.misses),
				)
				if consecutive >= h.misses {
					h.onStale(ErrHeartbeatMissed)
					return
				}
			}

			ctx, cancel := context.WithTimeout(context.Background(), h.interval)
			err := h.send(ctx)
			cancel()
			if err != nil {
				select {
				case <-h.stopCh:
				default:
					h.logger.Warn("heartbeat send failed", zap.Error(err))
					h.onStale(err)
				}
				return
			}
		}
	}
}

// ack records that the connection saw inbound traffic since the last ping.
func (h *heartbeat) ack() {
	h.alive.Store(true)
}

// stop halts the scheduler. Safe to call multiple times and from onStale.
func (h *heartbeat) stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
	})
}
