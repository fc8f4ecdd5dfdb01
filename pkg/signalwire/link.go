package signalwire

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/birddigital/aasb-telephony/pkg/logging"
)

// accountChecker is satisfied by *Client.
type accountChecker interface {
	GetAccountInfo(ctx context.Context) (*AccountInfo, error)
}

// LinkMonitor polls the account and reports whether the platform is reachable.
// It implements telephony.Link.
type LinkMonitor struct {
	checker  accountChecker
	interval time.Duration
	onChange func(ctx context.Context, connected bool)

	connected atomic.Bool
	logger    *zap.Logger
}

// NewLinkMonitor creates a monitor; onChange runs on every transition.
func NewLinkMonitor(checker accountChecker, interval time.Duration, onChange func(ctx context.Context, connected bool)) *LinkMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &LinkMonitor{
		checker:  checker,
		interval: interval,
		onChange: onChange,
		logger:   logging.Named("LinkMonitor"),
	}
}

// Connected reports the last observed link state.
func (m *LinkMonitor) Connected() bool {
	return m.connected.Load()
}

// Check polls once and reports the current state.
func (m *LinkMonitor) Check(ctx context.Context) bool {
	info, err := m.checker.GetAccountInfo(ctx)
	up := err == nil && info.Active()
	if err != nil {
		m.logger.Warn("account check failed", zap.Error(err))
	}

	if m.connected.Swap(up) != up {
		m.logger.Info("link state changed", zap.Bool("connected", up))
		if m.onChange != nil {
			m.onChange(ctx, up)
		}
	}
	return up
}

// Run polls until ctx is done.
func (m *LinkMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
