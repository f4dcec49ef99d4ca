// Package notify publishes run progress to an external socket.io endpoint
// so a dashboard can follow a fine-tuning run. Publishing is best-effort:
// a slow or broken endpoint never fails the run.
package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/specialistvlad/lorapack/internal/ctxlog"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// EventName is the socket.io event every message is emitted under.
const EventName = "lorapack:progress"

// Message kinds.
const (
	KindStage   = "stage"
	KindTrainer = "trainer"
	KindResult  = "result"
)

// DefaultConnectTimeout bounds the initial connection.
const DefaultConnectTimeout = 15 * time.Second

// Message is one progress record.
type Message struct {
	Kind         string    `json:"kind"`
	RunID        string    `json:"run_id"`
	Time         time.Time `json:"time"`
	From         string    `json:"from,omitzero"`
	State        string    `json:"state,omitzero"`
	Event        string    `json:"event,omitzero"`
	Step         int       `json:"step,omitzero"`
	Epoch        float64   `json:"epoch,omitzero"`
	Loss         float64   `json:"loss,omitzero"`
	LearningRate float64   `json:"learning_rate,omitzero"`
	Path         string    `json:"path,omitzero"`
	Error        string    `json:"error,omitzero"`
}

// Publisher delivers messages. Implementations are safe for concurrent use.
type Publisher interface {
	Publish(msg Message)
	Close()
}

// Nop discards every message.
type Nop struct{}

func (Nop) Publish(Message) {}
func (Nop) Close()          {}

// Options configure a socket.io connection.
type Options struct {
	URL                string
	Namespace          string
	InsecureSkipVerify bool
	// ConnectTimeout defaults to DefaultConnectTimeout.
	ConnectTimeout time.Duration
}

// SocketIO emits messages on a connected socket.io client.
type SocketIO struct {
	mu     sync.Mutex
	emit   func(event string, data any)
	close  func()
	closed bool
}

// NewSocketIO wraps an emitter. Dial is the usual constructor; NewSocketIO
// exists for callers that manage the connection themselves.
func NewSocketIO(emit func(event string, data any), closeFn func()) *SocketIO {
	return &SocketIO{emit: emit, close: closeFn}
}

// Publish emits msg unless the publisher is closed.
func (s *SocketIO) Publish(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.emit(EventName, msg)
}

// Close disconnects. It is idempotent.
func (s *SocketIO) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.close != nil {
		s.close()
	}
}

// Dial connects to a socket.io server and waits for the connect or
// connect_error event.
func Dial(ctx context.Context, opts Options) (*SocketIO, error) {
	logger := ctxlog.FromContext(ctx).With("notify_url", opts.URL)
	if opts.URL == "" {
		return nil, errors.New("notify url is empty")
	}
	parsedURL, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	sopts := socket.DefaultOptions()
	sopts.SetPath(parsedURL.Path)
	if opts.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		sopts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	sopts.SetTransports(types.NewSet(transports.WebSocket))

	connectChan := make(chan error, 1)

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, sopts)
	io := manager.Socket(opts.Namespace, sopts)

	io.Once(types.EventName("connect"), func(...any) {
		logger.Info("Progress notifier connected", "sid", io.Id())
		signal(connectChan, nil)
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err := errors.New("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		signal(connectChan, err)
	})

	logger.Debug("Connecting progress notifier...")
	io.Connect()

	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
	case <-ctx.Done():
		io.Disconnect()
		return nil, ctx.Err()
	case <-time.After(timeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", timeout)
	}

	emit := func(event string, data any) {
		if !io.Connected() {
			return
		}
		io.Emit(event, data)
	}
	return NewSocketIO(emit, func() { io.Disconnect() }), nil
}

// signal delivers the first connection outcome; later ones are dropped.
func signal(ch chan<- error, err error) {
	select {
	case ch <- err:
	default:
	}
}
