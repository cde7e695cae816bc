package hook

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrInterrupt signals that a handler wants to stop further processing.
var ErrInterrupt = errors.New("hook interrupted")

// Fn is a hook handler. It returns (modified data, nil) to continue,
// or (data, ErrInterrupt) to stop the chain.
type Fn func(ctx context.Context, event string, data interface{}) (interface{}, error)

type entry struct {
	priority int
	fn       Fn
	name     string
}

// Center manages event hook registrations. The economy services emit
// their lifecycle events through it; SSE publishing and audit trails
// subscribe here instead of being wired into each service.
type Center struct {
	mu    sync.RWMutex
	hooks map[string][]*entry
}

// NewCenter creates an empty Center.
func NewCenter() *Center {
	return &Center{hooks: make(map[string][]*entry)}
}

// Register adds a handler for event with the given priority (lower
// runs first). name is used for Unregister.
func (c *Center) Register(event string, priority int, name string, fn Fn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := append(c.hooks[event], &entry{priority: priority, fn: fn, name: name})
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].priority < entries[j].priority
	})
	c.hooks[event] = entries
}

// Unregister removes all handlers with the given name for the event.
func (c *Center) Unregister(event, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.hooks[event]
	n := 0
	for _, e := range entries {
		if e.name != name {
			entries[n] = e
			n++
		}
	}
	c.hooks[event] = entries[:n]
}

// Trigger executes all handlers for event in priority order. Data
// flows through each handler; ErrInterrupt stops the chain.
func (c *Center) Trigger(ctx context.Context, event string, data interface{}) (interface{}, error) {
	c.mu.RLock()
	entries := make([]*entry, len(c.hooks[event]))
	copy(entries, c.hooks[event])
	c.mu.RUnlock()

	var err error
	for _, e := range entries {
		data, err = e.fn(ctx, event, data)
		if errors.Is(err, ErrInterrupt) {
			return data, err
		}
	}
	return data, nil
}

// ---- Event names ----

const (
	OnCraftStarted   = "on_craft_started"
	OnCraftResolved  = "on_craft_resolved"
	OnCraftCancelled = "on_craft_cancelled"
	OnGuildCreated   = "on_guild_created"
	OnContribution   = "on_contribution"
	OnQuestCreated   = "on_quest_created"
	OnQuestCompleted = "on_quest_completed"
	OnQuestExpired   = "on_quest_expired"
)
