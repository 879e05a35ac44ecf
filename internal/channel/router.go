package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Handler serves one action. The returned value, if any, is JSON encoded
// into the response data.
type Handler func(ctx context.Context, payload json.RawMessage) (any, error)

// Router dispatches requests to handlers by action and implements Port.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	closed   bool
	logger   *slog.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterLogger sets the logger.
func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// NewRouter creates an open Router with no handlers.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		handlers: make(map[string]Handler),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle registers h for action, replacing any earlier handler.
func (r *Router) Handle(action string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[action] = h
}

// Actions returns the number of registered actions.
func (r *Router) Actions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Close makes every later Send fail with ErrUnavailable.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

// Send implements Port.
func (r *Router) Send(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	r.mu.RLock()
	closed := r.closed
	h, ok := r.handlers[req.Action]
	r.mu.RUnlock()

	if closed {
		return Response{}, ErrUnavailable
	}
	if !ok {
		r.logger.Warn("no handler for action", "action", req.Action)
		return Response{Success: false, Error: fmt.Sprintf("%s: %s", ErrUnknownAction, req.Action)}, nil
	}

	data, err := h(ctx, req.Payload)
	if err != nil {
		r.logger.Debug("handler failed", "action", req.Action, "error", err)
		return Response{Success: false, Error: err.Error()}, nil
	}
	resp := Response{Success: true}
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return Response{Success: false, Error: fmt.Sprintf("failed to encode response: %v", err)}, nil
		}
		resp.Data = encoded
	}
	return resp, nil
}

// Decode unmarshals a request payload for a handler.
func Decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: missing payload", ErrInvalidPayload)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
