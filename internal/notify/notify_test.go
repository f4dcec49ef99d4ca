package notify

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/specialistvlad/lorapack/internal/ctxlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []string
	msgs   []Message
	closes int
}

func (r *recorder) emit(event string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.msgs = append(r.msgs, data.(Message))
}

func (r *recorder) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
}

func testContext() context.Context {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	return ctxlog.WithLogger(context.Background(), logger)
}

func TestSocketIO_PublishAndClose(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	pub := NewSocketIO(rec.emit, rec.close)

	pub.Publish(Message{Kind: KindStage, RunID: "r1", From: "idle", State: "loading"})
	pub.Publish(Message{Kind: KindTrainer, RunID: "r1", Event: "log", Step: 10, Loss: 1.5})
	pub.Close()
	pub.Close()
	pub.Publish(Message{Kind: KindResult, RunID: "r1", State: "complete"})

	assert.Equal(t, []string{EventName, EventName}, rec.events)
	require.Len(t, rec.msgs, 2)
	assert.Equal(t, "loading", rec.msgs[0].State)
	assert.Equal(t, 10, rec.msgs[1].Step)
	assert.Equal(t, 1, rec.closes)
}

func TestSocketIO_ConcurrentPublish(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	pub := NewSocketIO(rec.emit, nil)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pub.Publish(Message{Kind: KindTrainer, Step: i})
		}()
	}
	wg.Wait()
	pub.Close()

	assert.Len(t, rec.msgs, 20)
}

func TestMessage_OmitsZeroFields(t *testing.T) {
	t.Parallel()
	b, err := json.Marshal(Message{Kind: KindStage, RunID: "r1", Time: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC), State: "training"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"stage","run_id":"r1","time":"2026-03-14T09:00:00Z","state":"training"}`, string(b))
}

func TestDial_RejectsBadURL(t *testing.T) {
	t.Parallel()

	_, err := Dial(testContext(), Options{})
	require.ErrorContains(t, err, "notify url is empty")

	_, err = Dial(testContext(), Options{URL: "://nope"})
	require.ErrorContains(t, err, "failed to parse URL")
}

func TestNop(t *testing.T) {
	t.Parallel()
	var p Publisher = Nop{}
	p.Publish(Message{Kind: KindStage})
	p.Close()
}
