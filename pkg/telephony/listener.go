package telephony

import (
	"context"

	"go.uber.org/zap"
)

// callListener republishes the state transitions of one call and keeps the
// host service busy while the call is active.
type callListener struct {
	c        *Controller
	callID   string
	callerID string
}

func newCallListener(c *Controller, callID, callerID string) *callListener {
	return &callListener{c: c, callID: callID, callerID: callerID}
}

func (l *callListener) OnStateChanged(ctx context.Context, call Call, state PlatformState) {
	l.c.logger.Debug("call state changed",
		zap.String("call_id", l.callID),
		zap.Stringer("state", state))

	switch state {
	case StateActive:
		l.c.idle.CancelIdleTimer()
	case StateDisconnected:
		l.c.idle.ResetIdleTimer()
	}
	l.c.publishCallState(ctx, l.callID, l.callerID, state)
}
