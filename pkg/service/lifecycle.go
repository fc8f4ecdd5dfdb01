package service

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/birddigital/aasb-telephony/pkg/logging"
)

// Lifecycle tracks whether calls keep the service busy and shuts it down
// once it has been idle long enough. It implements telephony.IdleSignaler.
type Lifecycle struct {
	mu        sync.Mutex
	busy      bool
	idleAfter time.Duration
	timer     *time.Timer

	hasCalls   func() bool
	onShutdown func()
	logger     *zap.Logger
}

// NewLifecycle creates a lifecycle. idleAfter of zero disables the idle timer.
func NewLifecycle(idleAfter time.Duration, hasCalls func() bool, onShutdown func()) *Lifecycle {
	return &Lifecycle{
		idleAfter:  idleAfter,
		hasCalls:   hasCalls,
		onShutdown: onShutdown,
		logger:     logging.Named("ServiceLifecycle"),
	}
}

// MarkBusy keeps the service running while a call is in progress.
func (l *Lifecycle) MarkBusy() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopTimerLocked()
	if !l.busy {
		l.logger.Info("service busy")
	}
	l.busy = true
}

// MarkIdle makes the service eligible for idle shutdown.
func (l *Lifecycle) MarkIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy {
		l.logger.Info("service idle")
	}
	l.busy = false
	l.stopTimerLocked()
	if l.idleAfter > 0 {
		l.timer = time.AfterFunc(l.idleAfter, func() { l.ShutdownIfNoCall() })
	}
}

func (l *Lifecycle) CancelIdleTimer() { l.MarkBusy() }
func (l *Lifecycle) ResetIdleTimer()  { l.MarkIdle() }

// Busy reports whether a call keeps the service running.
func (l *Lifecycle) Busy() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.busy
}

// ShutdownIfNoCall shuts the service down unless a call is tracked.
func (l *Lifecycle) ShutdownIfNoCall() bool {
	if l.hasCalls != nil && l.hasCalls() {
		l.logger.Info("not shutting down, call in progress")
		return false
	}
	l.Stop()
	l.logger.Info("shutting down, no call in progress")
	if l.onShutdown != nil {
		l.onShutdown()
	}
	return true
}

// Stop cancels a pending idle timer.
func (l *Lifecycle) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopTimerLocked()
}

func (l *Lifecycle) stopTimerLocked() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}
