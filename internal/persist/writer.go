package persist

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/bugfix-relay/internal/store"
)

var (
	ErrClosed    = errors.New("writer closed")
	ErrQueueFull = errors.New("write queue full")
)

type job struct {
	kind string
	id   string
	run  func(ctx context.Context) error
}

// Writer hands records to the store from one background goroutine. Callers
// never wait on the store; failures are logged and dropped.
type Writer struct {
	store   store.Store
	log     *zap.Logger
	timeout time.Duration

	inbox chan job
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewWriter(s store.Store, log *zap.Logger, queue int, timeout time.Duration) *Writer {
	if queue <= 0 {
		queue = 64
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	w := &Writer{
		store:   s,
		log:     log.Named("persist"),
		timeout: timeout,
		inbox:   make(chan job, queue),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Writer) loop() {
	defer close(w.done)
	for j := range w.inbox {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		err := j.run(ctx)
		cancel()
		if err != nil {
			w.log.Warn("store write failed",
				zap.String("kind", j.kind),
				zap.String("id", j.id),
				zap.Error(err))
			continue
		}
		w.log.Debug("stored", zap.String("kind", j.kind), zap.String("id", j.id))
	}
}

func (w *Writer) enqueue(j job) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrClosed
	}
	select {
	case w.inbox <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

func (w *Writer) SavePlayer(p store.PlayerRecord) {
	err := w.enqueue(job{kind: "player", id: p.ID, run: func(ctx context.Context) error {
		return w.store.InsertPlayer(ctx, p)
	}})
	if err != nil {
		w.log.Warn("player not stored", zap.String("id", p.ID), zap.Error(err))
	}
}

func (w *Writer) SaveGame(g store.GameRecord) {
	err := w.enqueue(job{kind: "game", id: g.ID, run: func(ctx context.Context) error {
		return w.store.InsertGame(ctx, g)
	}})
	if err != nil {
		w.log.Warn("game not stored", zap.String("id", g.ID), zap.Error(err))
	}
}

// Close stops accepting writes and waits for queued ones, or for ctx.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.inbox)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
