package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"levtrade/internal/engine"
)

type captureSender struct {
	mu     sync.Mutex
	events []engine.Event
	fail   bool
}

func (c *captureSender) Name() string { return "capture" }

func (c *captureSender) Send(_ context.Context, evt engine.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("boom")
	}
	c.events = append(c.events, evt)
	return nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestNotifier_DeliversQueuedEvents(t *testing.T) {
	sender := &captureSender{}
	n := NewNotifier([]Sender{sender}, 16, zap.NewNop())
	n.Start()

	for i := 0; i < 5; i++ {
		n.Publish(engine.Event{PositionUUID: "p1", Symbol: "BTCUSDT", Type: "position_opened"})
	}
	n.Close()

	if got := sender.count(); got != 5 {
		t.Fatalf("delivered=%d want=5", got)
	}
}

func TestNotifier_FailingSenderDoesNotBlockOthers(t *testing.T) {
	bad := &captureSender{fail: true}
	good := &captureSender{}
	n := NewNotifier([]Sender{bad, good}, 16, zap.NewNop())
	n.Start()

	n.Publish(engine.Event{PositionUUID: "p1", Symbol: "BTCUSDT", Type: "position_closed"})
	n.Close()

	if got := good.count(); got != 1 {
		t.Fatalf("delivered=%d want=1", got)
	}
}

func TestNotifier_PublishNeverBlocksWhenFull(t *testing.T) {
	// Not started: the queue only fills, Publish must still return.
	n := NewNotifier([]Sender{&captureSender{}}, 2, zap.NewNop())
	for i := 0; i < 10; i++ {
		n.Publish(engine.Event{PositionUUID: "p1", Type: "position_opened"})
	}
}
