package aasb

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/birddigital/aasb-telephony/pkg/logging"
)

// HandlerFunc handles one inbound message.
type HandlerFunc func(ctx context.Context, msg Message)

type route struct {
	topic  string
	action string
}

// Router dispatches inbound messages by topic and action.
type Router struct {
	mu     sync.RWMutex
	routes map[route]HandlerFunc
	logger *zap.Logger
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{
		routes: make(map[route]HandlerFunc),
		logger: logging.Named("AASBRouter"),
	}
}

// Handle registers h for topic/action, replacing any previous handler.
func (r *Router) Handle(topic, action string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[route{topic: topic, action: action}] = h
}

// Dispatch runs the handler registered for msg and reports whether one existed.
func (r *Router) Dispatch(ctx context.Context, msg Message) bool {
	r.mu.RLock()
	h, ok := r.routes[route{topic: msg.Topic(), action: msg.Action()}]
	r.mu.RUnlock()

	if !ok {
		r.logger.Debug("no handler for message",
			zap.String("topic", msg.Topic()),
			zap.String("action", msg.Action()))
		return false
	}
	h(ctx, msg)
	return true
}
