package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// websocketAdapter backs a channel with one WebSocket connection. The
// channel name becomes the final path segment of the base URL, so a server
// can multiplex many named channels behind one endpoint.
type websocketAdapter struct {
	baseURL     string
	token       string
	dialTimeout time.Duration
	logger      *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	inbound func([]byte)
	onClose func(error)
	closed  atomic.Bool
}

func websocketFactory(opts Options) Factory {
	return func(channel Channel) Adapter {
		return &websocketAdapter{
			baseURL:     opts.URL,
			token:       channel.SessionToken,
			dialTimeout: opts.DialTimeout,
			logger:      opts.Logger.Named("ws"),
		}
	}
}

func (a *websocketAdapter) Open(ctx context.Context, name string) (OpenResult, error) {
	target, err := url.JoinPath(a.baseURL, url.PathEscape(name))
	if err != nil {
		return OpenErrored, fmt.Errorf("invalid channel URL: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, a.dialTimeout)
	defer cancel()

	dialOptions := &websocket.DialOptions{}
	if a.token != "" {
		dialOptions.HTTPHeader = map[string][]string{
			"Authorization": {"Bearer " + a.token},
		}
	}

	conn, _, err := websocket.Dial(dialCtx, target, dialOptions)
	if err != nil {
		if dialCtx.Err() != nil {
			return OpenTimedOut, fmt.Errorf("dial %s: %w", target, err)
		}
		return OpenErrored, fmt.Errorf("dial %s: %w", target, err)
	}

	readCtx, readCancel := context.WithCancel(context.Background())

	a.mu.Lock()
	a.conn = conn
	a.cancel = readCancel
	a.mu.Unlock()

	a.logger.Debug("channel opened", zap.String("url", target))

	go a.readLoop(readCtx, conn)

	return OpenSubscribed, nil
}

func (a *websocketAdapter) Send(ctx context.Context, frame []byte) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()

	if conn == nil || a.closed.Load() {
		return errors.New("websocket adapter is not open")
	}

	return conn.Write(ctx, websocket.MessageText, frame)
}

func (a *websocketAdapter) OnInbound(handler func(frame []byte)) {
	a.mu.Lock()
	a.inbound = handler
	a.mu.Unlock()
}

func (a *websocketAdapter) OnClose(handler func(err error)) {
	a.mu.Lock()
	a.onClose = handler
	a.mu.Unlock()
}

func (a *websocketAdapter) Close(ctx context.Context) error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}

	a.mu.Lock()
	conn := a.conn
	cancel := a.cancel
	a.conn = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

func (a *websocketAdapter) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if !a.closed.Load() && ctx.Err() == nil {
				a.logger.Warn("websocket read failed", zap.Error(err))
				a.notifyClose(err)
			}
			return
		}

		a.mu.Lock()
		handler := a.inbound
		a.mu.Unlock()

		if handler != nil {
			handler(data)
		}
	}
}

func (a *websocketAdapter) notifyClose(err error) {
	if !a.closed.CompareAndSwap(false, true) {
		return
	}

	a.mu.Lock()
	handler := a.onClose
	a.conn = nil
	a.mu.Unlock()

	if handler != nil {
		handler(err)
	}
}
