package mesh

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/campusmesh/internal/proto"
)

// RouteHandler handles one direct-channel message type.
type RouteHandler func(handle string, env *proto.Envelope)

// Router dispatches received envelopes by their type. Register it with
// Manager.OnMessage.
type Router struct {
	log *zerolog.Logger

	mu       sync.RWMutex
	handlers map[string]RouteHandler
}

// NewRouter creates an empty router.
func NewRouter(logger *zerolog.Logger) *Router {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Router{log: logger, handlers: make(map[string]RouteHandler)}
}

// Handle sets the handler for msgType, replacing any previous one.
func (r *Router) Handle(msgType string, h RouteHandler) {
	r.mu.Lock()
	r.handlers[msgType] = h
	r.mu.Unlock()
}

// Dispatch invokes the handler for env.Type. Unknown types are logged and
// dropped.
func (r *Router) Dispatch(handle string, env *proto.Envelope) {
	r.mu.RLock()
	h, ok := r.handlers[env.Type]
	r.mu.RUnlock()
	if !ok {
		r.log.Warn().Str("from", handle).Str("type", env.Type).Msg("unknown message type, dropping")
		return
	}
	h(handle, env)
}
