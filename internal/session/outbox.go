package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/bugfix-relay/internal/types"
)

// outbox is the single writer for one connection. Replies to the owner and
// deliveries from other sessions queue here, so writes never interleave.
type outbox struct {
	t       Transport
	ch      chan types.ServerMessage
	stop    chan struct{}
	done    chan struct{}
	timeout time.Duration
	log     *zap.Logger

	mu     sync.RWMutex
	closed bool
}

func newOutbox(t Transport, size int, timeout time.Duration, log *zap.Logger) *outbox {
	return &outbox{
		t:       t,
		ch:      make(chan types.ServerMessage, size),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		timeout: timeout,
		log:     log,
	}
}

// Send queues msg. A nil error means msg will be written before close
// returns.
func (o *outbox) Send(ctx context.Context, msg types.ServerMessage) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrClosed
	}

	select {
	case o.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *outbox) run() {
	defer close(o.done)
	for {
		select {
		case msg := <-o.ch:
			o.write(msg)
		case <-o.stop:
			// flush what is already queued
			for {
				select {
				case msg := <-o.ch:
					o.write(msg)
				default:
					return
				}
			}
		}
	}
}

func (o *outbox) write(msg types.ServerMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		o.log.Error("encode failed", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	if err := o.t.Write(ctx, payload); err != nil {
		o.log.Debug("write failed", zap.Error(err))
	}
}

// close stops intake and waits until queued messages are written.
func (o *outbox) close() {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.stop)
	}
	o.mu.Unlock()
	<-o.done
}
