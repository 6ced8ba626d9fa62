package epics

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Accumulator collects a fixed number of monitor updates from one PV in the
// background. It is single use.
type Accumulator struct {
	pv   string
	want int

	mu      sync.Mutex
	started bool
	stamps  []time.Time
	values  []float64
	err     error
	done    chan struct{}
}

// NewAccumulator prepares an accumulator for n samples of pv.
func NewAccumulator(pv string, n int) *Accumulator {
	return &Accumulator{pv: pv, want: n, done: make(chan struct{})}
}

// Start subscribes to the PV and returns immediately.
func (a *Accumulator) Start(ctx context.Context, c Client) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return fmt.Errorf("accumulator for %s already started", a.pv)
	}
	a.started = true
	a.mu.Unlock()

	if a.want <= 0 {
		close(a.done)
		return nil
	}

	mctx, cancel := context.WithCancel(ctx)
	ch, err := c.Monitor(mctx, a.pv)
	if err != nil {
		cancel()
		return err
	}
	go func() {
		defer close(a.done)
		defer cancel()
		for {
			select {
			case s, ok := <-ch:
				if !ok {
					a.finish(fmt.Errorf("%s: %w", a.pv, ErrMonitorClosed))
					return
				}
				if a.add(s) {
					return
				}
			case <-ctx.Done():
				a.finish(ctx.Err())
				return
			}
		}
	}()
	return nil
}

func (a *Accumulator) add(s Sample) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stamps = append(a.stamps, s.Stamp)
	a.values = append(a.values, s.Value)
	return len(a.values) >= a.want
}

func (a *Accumulator) finish(err error) {
	a.mu.Lock()
	a.err = err
	a.mu.Unlock()
}

// Done is closed once all samples arrived or collection failed.
func (a *Accumulator) Done() <-chan struct{} { return a.done }

// Wait blocks until collection ends and returns the sample stamps and values.
func (a *Accumulator) Wait(ctx context.Context) ([]time.Time, []float64, error) {
	select {
	case <-a.done:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stamps, a.values, a.err
}

// Collect starts one accumulator per PV and waits for all of them.
func Collect(ctx context.Context, c Client, pvs []string, n int) ([][]time.Time, [][]float64, error) {
	accs := make([]*Accumulator, len(pvs))
	for i, pv := range pvs {
		accs[i] = NewAccumulator(pv, n)
		if err := accs[i].Start(ctx, c); err != nil {
			return nil, nil, err
		}
	}
	stamps := make([][]time.Time, len(pvs))
	values := make([][]float64, len(pvs))
	for i, acc := range accs {
		s, v, err := acc.Wait(ctx)
		if err != nil {
			return nil, nil, err
		}
		stamps[i], values[i] = s, v
	}
	return stamps, values, nil
}
