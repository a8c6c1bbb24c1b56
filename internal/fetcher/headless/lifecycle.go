package headless

import (
	"context"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
)

// lifecycle tracks per-frame network idleness from page lifecycle events. A
// new document ("init") clears the frame's idle state so a stale idle from
// the previous document is never observed.
type lifecycle struct {
	mu     sync.Mutex
	idle   map[cdp.FrameID]bool
	notify chan struct{}
}

func newLifecycle() *lifecycle {
	return &lifecycle{
		idle:   make(map[cdp.FrameID]bool),
		notify: make(chan struct{}, 1),
	}
}

func (l *lifecycle) observe(ev any) {
	e, ok := ev.(*page.EventLifecycleEvent)
	if !ok {
		return
	}
	l.mu.Lock()
	switch e.Name {
	case "init":
		l.idle[e.FrameID] = false
	case "networkIdle":
		l.idle[e.FrameID] = true
	default:
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *lifecycle) isIdle(frame cdp.FrameID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.idle[frame]
}

func (l *lifecycle) waitIdle(ctx context.Context, frame cdp.FrameID) error {
	for {
		if l.isIdle(frame) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.notify:
		}
	}
}
