package runtime

import (
	"context"
	"sync"
)

// HookPoint identifies when a hook fires in the stage loop.
type HookPoint int

const (
	BeforeProcess HookPoint = iota
	AfterProcess
	OnStateChange
	OnError
)

// HookContext carries data available to hooks at each hook point.
type HookContext struct {
	Stage   string
	Message *Message
	Outputs []*Message
	Event   *StateEvent
	Error   error
}

// Hook is a function invoked at a specific point in the stage loop.
type Hook func(ctx context.Context, hctx *HookContext) error

// HookRegistry manages registered hooks for each hook point. It is safe for
// use by concurrently running stages.
type HookRegistry struct {
	mu    sync.RWMutex
	hooks map[HookPoint][]Hook
}

// NewHookRegistry creates an empty HookRegistry.
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{
		hooks: make(map[HookPoint][]Hook),
	}
}

// Register adds a hook for the given point. Hooks fire in registration order.
func (r *HookRegistry) Register(point HookPoint, h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[point] = append(r.hooks[point], h)
}

// Fire invokes all hooks registered for the given point in order.
// If any hook returns an error, execution stops and the error is returned.
// A nil registry fires nothing.
func (r *HookRegistry) Fire(ctx context.Context, point HookPoint, hctx *HookContext) error {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	hooks := r.hooks[point]
	r.mu.RUnlock()
	for _, h := range hooks {
		if err := h(ctx, hctx); err != nil {
			return err
		}
	}
	return nil
}
