package agent

import (
	"context"
	"sort"
	"sync"
)

// PreHook runs before the strategy. It may rewrite the run's messages or inputs.
type PreHook func(ctx context.Context, run *Run) error

// PostHook runs after the strategy and may replace its output.
type PostHook func(ctx context.Context, run *Run, output map[string]any) (map[string]any, error)

type hookEntry struct {
	name     string
	priority int
	pre      PreHook
	post     PostHook
}

// HookChain holds the pre- and post-process hooks of an agent.
// Lower priority runs first; equal priorities run in registration order.
type HookChain struct {
	mu   sync.RWMutex
	pre  []hookEntry
	post []hookEntry
}

// NewHookChain creates an empty chain.
func NewHookChain() *HookChain {
	return &HookChain{}
}

// Pre registers a pre-process hook.
func (c *HookChain) Pre(name string, priority int, h PreHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pre = insertHook(c.pre, hookEntry{name: name, priority: priority, pre: h})
}

// Post registers a post-process hook.
func (c *HookChain) Post(name string, priority int, h PostHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.post = insertHook(c.post, hookEntry{name: name, priority: priority, post: h})
}

// Remove drops every hook registered under name.
func (c *HookChain) Remove(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pre = dropHook(c.pre, name)
	c.post = dropHook(c.post, name)
}

// Names lists hook names in execution order, pre hooks first.
func (c *HookChain) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.pre)+len(c.post))
	for _, h := range c.pre {
		names = append(names, h.name)
	}
	for _, h := range c.post {
		names = append(names, h.name)
	}
	return names
}

func insertHook(list []hookEntry, e hookEntry) []hookEntry {
	list = append(list, e)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].priority < list[j].priority
	})
	return list
}

func dropHook(list []hookEntry, name string) []hookEntry {
	out := list[:0]
	for _, h := range list {
		if h.name != name {
			out = append(out, h)
		}
	}
	return out
}

func (c *HookChain) runPre(ctx context.Context, run *Run) error {
	c.mu.RLock()
	hooks := append([]hookEntry(nil), c.pre...)
	c.mu.RUnlock()

	for _, h := range hooks {
		if err := h.pre(ctx, run); err != nil {
			return err
		}
	}
	return nil
}

func (c *HookChain) runPost(ctx context.Context, run *Run, output map[string]any) (map[string]any, error) {
	c.mu.RLock()
	hooks := append([]hookEntry(nil), c.post...)
	c.mu.RUnlock()

	var err error
	for _, h := range hooks {
		output, err = h.post(ctx, run, output)
		if err != nil {
			return nil, err
		}
	}
	return output, nil
}
