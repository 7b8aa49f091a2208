package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrWriterClosed is returned by Flush after Close.
var ErrWriterClosed = errors.New("cache writer closed")

// Op is one unit of cache work executed on the writer goroutine.
type Op func(ctx context.Context, s Store) error

// Writer runs cache operations off the caller's goroutine. Its queue is
// bounded; Submit drops work rather than block when the queue is full.
type Writer struct {
	store   Store
	log     *zerolog.Logger
	queue   chan namedOp
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

type namedOp struct {
	name string
	fn   Op
}

// NewWriter starts a writer over store with the given queue size.
func NewWriter(store Store, logger *zerolog.Logger, size int) *Writer {
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	w := &Writer{
		store:   store,
		log:     logger,
		queue:   make(chan namedOp, size),
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Writer) loop() {
	defer close(w.done)
	for op := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		if err := op.fn(ctx, w.store); err != nil {
			w.log.Warn().Err(err).Str("op", op.name).Msg("cache write failed")
		}
		cancel()
	}
}

// Submit enqueues fn. It reports false if the writer is closed or full.
func (w *Writer) Submit(name string, fn Op) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}
	select {
	case w.queue <- namedOp{name: name, fn: fn}:
		return true
	default:
		w.log.Warn().Str("op", name).Msg("cache queue full, dropping write")
		return false
	}
}

// Flush blocks until every op submitted before it has run.
func (w *Writer) Flush(ctx context.Context) error {
	reached := make(chan struct{})
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return ErrWriterClosed
	}
	// Flush waits for room in the queue, unlike Submit.
	select {
	case w.queue <- namedOp{name: "flush", fn: func(context.Context, Store) error {
		close(reached)
		return nil
	}}:
	case <-ctx.Done():
		w.mu.RUnlock()
		return ctx.Err()
	}
	w.mu.RUnlock()

	select {
	case <-reached:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PutPeer queues a peer upsert.
func (w *Writer) PutPeer(p Peer) bool {
	return w.Submit("put_peer", func(ctx context.Context, s Store) error {
		return s.PutPeer(ctx, p)
	})
}

// SaveMessage queues a message insert.
func (w *Writer) SaveMessage(m Message) bool {
	return w.Submit("save_message", func(ctx context.Context, s Store) error {
		return s.SaveMessage(ctx, &m)
	})
}

// SaveMeetup queues a meetup insert.
func (w *Writer) SaveMeetup(m Meetup) bool {
	return w.Submit("save_meetup", func(ctx context.Context, s Store) error {
		return s.SaveMeetup(ctx, &m)
	})
}

// Cleanup queues a retention sweep removing data older than retention.
func (w *Writer) Cleanup(retention time.Duration) bool {
	return w.Submit("cleanup", func(ctx context.Context, s Store) error {
		n, err := s.Cleanup(ctx, time.Now().Add(-retention))
		if err != nil {
			return err
		}
		if n > 0 {
			w.log.Info().Int64("removed", n).Msg("cache cleanup")
		}
		return nil
	})
}

// Close stops accepting work and waits for the queue to drain.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()
	<-w.done
}
