package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/Chichichkin/forgelog/internal/logging"
)

type tickRecorder struct {
	mu    sync.Mutex
	ticks int
}

func (r *tickRecorder) submit(ev logging.Event) {
	if !ev.IsTick() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks++
}

func (r *tickRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ticks
}

func TestTicker_SubmitsTickEachInterval(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Now())
	rec := &tickRecorder{}

	tk := StartTicker(clk, time.Second, rec.submit)
	defer tk.Stop()

	assert.Eventually(t, clk.HasWaiters, time.Second, time.Millisecond)

	clk.Step(time.Second)
	assert.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)

	clk.Step(time.Second)
	assert.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, time.Millisecond)
}

func TestTicker_NoTicksAfterStop(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Now())
	rec := &tickRecorder{}

	tk := StartTicker(clk, time.Second, rec.submit)
	assert.Eventually(t, clk.HasWaiters, time.Second, time.Millisecond)

	tk.Stop()
	tk.Stop()

	clk.Step(5 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, rec.count())
}
