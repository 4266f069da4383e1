package ingest

import (
	"context"
	"sync"

	"github.com/clipvault/clipvault/internal/logger"
)

// FrameHandler receives one captured frame.
type FrameHandler func(Frame)

// FrameSource delivers clipboard frames by callback. The returned function
// removes the subscription.
type FrameSource interface {
	Subscribe(handler FrameHandler) (unsubscribe func())
}

// Broadcaster is a FrameSource fed by Publish. Handlers run synchronously
// on the publishing goroutine, in subscription order.
type Broadcaster struct {
	mu       sync.RWMutex
	next     uint64
	handlers map[uint64]FrameHandler
	order    []uint64
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{handlers: make(map[uint64]FrameHandler)}
}

// Subscribe implements FrameSource.
func (b *Broadcaster) Subscribe(handler FrameHandler) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = handler
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers frame to every subscriber.
func (b *Broadcaster) Publish(frame Frame) {
	b.mu.RLock()
	handlers := make([]FrameHandler, 0, len(b.order))
	for _, id := range b.order {
		handlers = append(handlers, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(frame)
	}
}

// Attach subscribes the pipeline to src until ctx is done. Ingestion
// errors are logged by Ingest and never reach the source.
func (p *Pipeline) Attach(ctx context.Context, src FrameSource) {
	unsubscribe := src.Subscribe(func(frame Frame) {
		if ctx.Err() != nil {
			return
		}
		_, _ = p.Ingest(ctx, frame)
	})
	go func() {
		<-ctx.Done()
		unsubscribe()
		p.log.Debug("frame source detached", logger.String("reason", context.Cause(ctx).Error()))
	}()
}
