// Package notify delivers lifecycle events to external channels. Delivery is
// fire-and-forget: events are queued by the engine and dispatched from a
// background worker, so a slow or failing channel never blocks tick
// processing.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"levtrade/internal/engine"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, evt engine.Event) error
	Name() string
}

// Notifier fans lifecycle events out to all registered senders from a single
// background worker. It implements the engine's event sink; Publish never
// blocks, events are dropped with a warning when the queue is full.
type Notifier struct {
	senders     []Sender
	queue       chan engine.Event
	log         *zap.Logger
	sendTimeout time.Duration

	once sync.Once
	done chan struct{}
	wg   sync.WaitGroup
}

func NewNotifier(senders []Sender, queueSize int, log *zap.Logger) *Notifier {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Notifier{
		senders:     senders,
		queue:       make(chan engine.Event, queueSize),
		log:         log,
		sendTimeout: 10 * time.Second,
		done:        make(chan struct{}),
	}
}

// Start launches the dispatch worker. Safe to call once.
func (n *Notifier) Start() {
	n.once.Do(func() {
		n.wg.Add(1)
		go n.run()
	})
}

// Close stops accepting events and waits for the queue to drain.
func (n *Notifier) Close() {
	close(n.done)
	n.wg.Wait()
}

// Publish enqueues an event for delivery. Non-blocking.
func (n *Notifier) Publish(evt engine.Event) {
	select {
	case n.queue <- evt:
	default:
		n.log.Warn("notification queue full, event dropped",
			zap.String("uuid", evt.PositionUUID),
			zap.String("event", evt.Type))
	}
}

func (n *Notifier) run() {
	defer n.wg.Done()
	for {
		select {
		case evt := <-n.queue:
			n.dispatch(evt)
		case <-n.done:
			for {
				select {
				case evt := <-n.queue:
					n.dispatch(evt)
				default:
					return
				}
			}
		}
	}
}

// dispatch tries every sender; one channel failing does not stop the others.
func (n *Notifier) dispatch(evt engine.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), n.sendTimeout)
	defer cancel()
	for _, s := range n.senders {
		if err := s.Send(ctx, evt); err != nil {
			n.log.Warn("notification send failed",
				zap.String("sender", s.Name()),
				zap.String("uuid", evt.PositionUUID),
				zap.String("event", evt.Type),
				zap.Error(err))
		}
	}
}
