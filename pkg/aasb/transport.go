package aasb

import (
	"context"
	"errors"
)

var (
	// ErrTransportClosed is returned once Close has been called.
	ErrTransportClosed = errors.New("aasb transport closed")
	// ErrConnectionLost is returned by Run when the link to the engine drops.
	// Run may be called again to reconnect.
	ErrConnectionLost = errors.New("aasb connection lost")
	// ErrSendBufferFull is returned when a message cannot be queued.
	ErrSendBufferFull = errors.New("aasb send buffer full")
)

// Transport carries AASB messages between this service and the engine.
type Transport interface {
	// Publish sends a message to the engine. It does not block on a slow or
	// disconnected engine.
	Publish(ctx context.Context, msg Message) error
	// Run receives engine messages until ctx is done or the link fails.
	// Any error other than ErrTransportClosed or a ctx error is retryable.
	Run(ctx context.Context, handle func(Message)) error
	Close() error
}
