package engine

import (
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/Chichichkin/forgelog/internal/logging"
)

// Ticker injects a tick event every interval so the worker re-evaluates its
// flush deadline even when no records arrive. Missed ticks are not replayed.
type Ticker struct {
	clock    clock.WithTicker
	interval time.Duration
	submit   func(logging.Event)

	stopOnce sync.Once
	stopC    chan struct{}
	doneC    chan struct{}
}

func StartTicker(clk clock.WithTicker, interval time.Duration, submit func(logging.Event)) *Ticker {
	t := &Ticker{
		clock:    clk,
		interval: interval,
		submit:   submit,
		stopC:    make(chan struct{}),
		doneC:    make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *Ticker) run() {
	defer close(t.doneC)

	tk := t.clock.NewTicker(t.interval)
	defer tk.Stop()

	for {
		select {
		case <-tk.C():
			t.submit(logging.TickEvent())
		case <-t.stopC:
			return
		}
	}
}

// Stop is idempotent and returns once the ticker goroutine has exited and its
// clock ticker is stopped.
func (t *Ticker) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopC)
	})
	<-t.doneC
}
