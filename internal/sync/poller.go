// Package sync runs periodic background refreshes of an inbox session.
package sync

import (
	"context"
	gosync "sync"
	"time"

	"go.uber.org/zap"
)

// State represents the current state of the background refresh loop.
type State int

const (
	Idle State = iota
	Running
	Errored
)

// Status holds the refresh state of the poller.
type Status struct {
	State       State
	LastRefresh time.Time
	Err         error
}

// RefreshFunc performs one inbox refresh and reports how many new
// notifications arrived.
type RefreshFunc func(ctx context.Context) (int, error)

// Result is emitted after every refresh attempt.
type Result struct {
	NewCount int
	Err      error
}

// refreshTimeout is the maximum time allowed for a single refresh.
const refreshTimeout = 30 * time.Second

const defaultInterval = 120 * time.Second

// Poller drives the refresh function on a fixed interval, with support
// for immediate out-of-band triggers. Results are delivered on a
// buffered channel; a slow consumer drops results rather than blocking
// the loop.
type Poller struct {
	refresh  RefreshFunc
	interval time.Duration
	log      *zap.Logger

	resultCh  chan Result
	triggerCh chan struct{}
	stopCh    chan struct{}

	mu      gosync.Mutex
	status  Status
	running bool
}

// New creates a Poller around the given refresh function.
func New(refresh RefreshFunc, interval time.Duration, log *zap.Logger) *Poller {
	if interval <= 0 {
		interval = defaultInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{
		refresh:   refresh,
		interval:  interval,
		log:       log,
		resultCh:  make(chan Result, 16),
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the polling goroutine. The first refresh runs
// immediately. Calling Start twice is a no-op.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	go p.loop()
}

// Stop halts the polling goroutine.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	close(p.stopCh)
	p.running = false
}

// Refresh triggers an immediate refresh without waiting for the next
// tick. Never blocks; a trigger already pending is enough.
func (p *Poller) Refresh() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

// Results returns the channel refresh outcomes are delivered on.
func (p *Poller) Results() <-chan Result {
	return p.resultCh
}

// Status returns the current refresh status.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Poller) loop() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.runOnce()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.runOnce()
		case <-p.triggerCh:
			p.runOnce()
		}
	}
}

// runOnce performs a single refresh and publishes the result.
func (p *Poller) runOnce() {
	p.setStatus(Running, nil)

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	count, err := p.refresh(ctx)
	if err != nil {
		p.log.Warn("background inbox refresh failed", zap.Error(err))
		p.setStatus(Errored, err)
		p.sendResult(Result{Err: err})
		return
	}

	p.setStatus(Idle, nil)
	p.sendResult(Result{NewCount: count})
}

func (p *Poller) setStatus(state State, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status.State = state
	p.status.Err = err
	if state == Idle && err == nil {
		p.status.LastRefresh = time.Now()
	}
}

// sendResult publishes without blocking the loop.
func (p *Poller) sendResult(r Result) {
	select {
	case p.resultCh <- r:
	default:
	}
}
