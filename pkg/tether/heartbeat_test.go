package tether

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestHeartbeat_AcknowledgedStaysAlive(t *testing.T) {
	var pings atomic.Int64
	var stale atomic.Int64

	hb := newHeartbeat(20*time.Millisecond, 2, zaptest.NewLogger(t),
		func(ctx context.Context) error {
			pings.Add(1)
			return nil
		},
		func(err error) { stale.Add(1) },
	)
	hb.start()
	defer hb.stop()

	// Keep acknowledging faster than the interval.
	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		hb.ack()
		time.Sleep(2 * time.Millisecond)
	}

	if stale.Load() != 0 {
		t.Errorf("heartbeat went stale despite acknowledgements")
	}
	if pings.Load() == 0 {
		t.Errorf("expected at least one ping to be sent")
	}
}

func TestHeartbeat_MissedTriggersStale(t *testing.T) {
	staleCh := make(chan error, 1)

	hb := newHeartbeat(10*time.Millisecond, 1, zaptest.NewLogger(t),
		func(ctx context.Context) error { return nil },
		func(err error) { staleCh <- err },
	)
	hb.start()
	defer hb.stop()

	select {
	case err := <-staleCh:
		if !errors.Is(err, ErrHeartbeatMissed) {
			t.Errorf("expected ErrHeartbeatMissed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("heartbeat never reported staleness")
	}
}

func TestHeartbeat_MissesThreshold(t *testing.T) {
	staleCh := make(chan error, 1)
	var pings atomic.Int64

	hb := newHeartbeat(10*time.Millisecond, 3, zaptest.NewLogger(t),
		func(ctx context.Context) error {
			pings.Add(1)
			return nil
		},
		func(err error) { staleCh <- err },
	)
	hb.start()
	defer hb.stop()

	select {
	case <-staleCh:
		// Three unacknowledged intervals must elapse first, so at least
		// two pings have been sent by now.
		if pings.Load() < 2 {
			t.Errorf("stale fired after only %d pings with threshold 3", pings.Load())
		}
	case <-time.After(time.Second):
		t.Fatal("heartbeat never reported staleness")
	}
}

func TestHeartbeat_SendFailureTriggersStale(t *testing.T) {
	staleCh := make(chan error, 1)
	sendErr := errors.New("wire broke")

	hb := newHeartbeat(10*time.Millisecond, 5, zaptest.NewLogger(t),
		func(ctx context.Context) error { return sendErr },
		func(err error) { staleCh <- err },
	)
	hb.start()
	defer hb.stop()

	// An inbound frame keeps the liveness check satisfied, but the failed
	// ping send must still surface.
	hb.ack()

	select {
	case err := <-staleCh:
		if !errors.Is(err, sendErr) {
			t.Errorf("expected send error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("heartbeat never reported the send failure")
	}
}

func TestHeartbeat_StopIdempotent(t *testing.T) {
	hb := newHeartbeat(10*time.Millisecond, 1, zaptest.NewLogger(t),
		func(ctx context.Context) error { return nil },
		func(err error) {},
	)
	hb.start()

	hb.stop()
	hb.stop()

	select {
	case <-hb.done:
	case <-time.After(time.Second):
		t.Fatal("heartbeat loop did not exit after stop")
	}
}
