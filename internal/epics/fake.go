package epics

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Fake is an in-memory Client. Reads of unknown PVs fail with ErrNoValue.
type Fake struct {
	mu       sync.Mutex
	values   map[string][]float64
	strings  map[string]string
	puts     []Put
	hosts    map[string]string
	monitors map[string][]Sample
	// OnPut, when set, runs after every Put with the lock released.
	OnPut func(pv string, value any)
}

// Put records one write made through Fake.Put.
type Put struct {
	PV    string
	Value any
}

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{
		values:   map[string][]float64{},
		strings:  map[string]string{},
		hosts:    map[string]string{},
		monitors: map[string][]Sample{},
	}
}

// Set stores a numeric value.
func (f *Fake) Set(pv string, vals ...float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[pv] = append([]float64(nil), vals...)
}

// SetString stores a text value.
func (f *Fake) SetString(pv, s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.strings[pv] = s
}

// SetHost sets the host reported for pv.
func (f *Fake) SetHost(pv, host string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hosts[pv] = host
}

// SetMonitor queues the samples a Monitor on pv will deliver. When empty,
// Monitor derives samples from the stored value at 10 kHz spacing.
func (f *Fake) SetMonitor(pv string, samples ...Sample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.monitors[pv] = append([]Sample(nil), samples...)
}

// Puts returns the writes seen so far.
func (f *Fake) Puts() []Put {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Put(nil), f.puts...)
}

func (f *Fake) Get(ctx context.Context, pv string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	vals, ok := f.values[pv]
	if !ok {
		if s, ok := f.strings[pv]; ok {
			if v, err := strconv.ParseFloat(s, 64); err == nil {
				return []float64{v}, nil
			}
		}
		return nil, fmt.Errorf("%s: %w", pv, ErrNoValue)
	}
	return append([]float64(nil), vals...), nil
}

func (f *Fake) GetString(ctx context.Context, pv string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.strings[pv]; ok {
		return s, nil
	}
	if vals, ok := f.values[pv]; ok && len(vals) > 0 {
		return strconv.FormatFloat(vals[0], 'g', -1, 64), nil
	}
	return "", fmt.Errorf("%s: %w", pv, ErrNoValue)
}

// Put stores numeric values so that later reads observe the write.
func (f *Fake) Put(ctx context.Context, pv string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.puts = append(f.puts, Put{PV: pv, Value: value})
	switch v := value.(type) {
	case float64:
		f.values[pv] = []float64{v}
	case int:
		f.values[pv] = []float64{float64(v)}
	case bool:
		if v {
			f.values[pv] = []float64{1}
		} else {
			f.values[pv] = []float64{0}
		}
	case []float64:
		f.values[pv] = append([]float64(nil), v...)
	case string:
		f.strings[pv] = v
	default:
		f.strings[pv] = fmt.Sprint(v)
	}
	hook := f.OnPut
	f.mu.Unlock()
	if hook != nil {
		hook(pv, value)
	}
	return nil
}

func (f *Fake) Monitor(ctx context.Context, pv string) (<-chan Sample, error) {
	f.mu.Lock()
	samples := append([]Sample(nil), f.monitors[pv]...)
	vals := append([]float64(nil), f.values[pv]...)
	f.mu.Unlock()

	if len(samples) == 0 {
		if len(vals) == 0 {
			return nil, fmt.Errorf("%s: %w", pv, ErrNoValue)
		}
		start := time.Now()
		ch := make(chan Sample)
		go func() {
			defer close(ch)
			for i := 0; ; i++ {
				s := Sample{Stamp: start.Add(time.Duration(i) * 100 * time.Microsecond), Value: vals[0]}
				select {
				case ch <- s:
				case <-ctx.Done():
					return
				}
			}
		}()
		return ch, nil
	}

	ch := make(chan Sample)
	go func() {
		defer close(ch)
		for _, s := range samples {
			select {
			case ch <- s:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (f *Fake) Host(ctx context.Context, pv string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if h, ok := f.hosts[pv]; ok {
		return h, nil
	}
	return "", fmt.Errorf("%s: no host", pv)
}
