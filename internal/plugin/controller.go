package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/repostats/repostats/internal/events"
)

// ShutdownTimeoutError is returned when a controller's completion wait
// exceeds its hard deadline (spec §5, ported from
// original_source/src/plugin/controller.rs's SystemError::
// ShutdownTimeout). Remaining names every tracked component (plugin
// name or queue id) that never reported completion.
type ShutdownTimeoutError struct {
	Component string
	Remaining []string
	Timeout   time.Duration
}

func (e *ShutdownTimeoutError) Error() string {
	return fmt.Sprintf("%s: shutdown timed out after %s, still waiting on %v", e.Component, e.Timeout, e.Remaining)
}

// CompletionTimeout is the hard deadline every controller waits before
// giving up on graceful completion (spec §5, matching the original's
// 30-second constant).
const CompletionTimeout = 30 * time.Second

// PluginController drives plugin shutdown: it publishes
// SystemForceShutdown to ask every running plugin to wind down, then
// waits for a PluginTerminated event from each one it was tracking, or
// times out (spec §4.8/§5, ported from
// original_source/src/plugin/controller.rs's `PluginController`). It
// never holds a lock across the wait — the registry snapshot is taken
// once, momentarily, before subscribing.
type PluginController struct {
	bus      *events.Bus
	registry *Registry
	log      *slog.Logger
}

// NewPluginController constructs a PluginController over bus and
// registry.
func NewPluginController(bus *events.Bus, registry *Registry, log *slog.Logger) *PluginController {
	if log == nil {
		log = slog.Default()
	}
	return &PluginController{bus: bus, registry: registry, log: log}
}

// GracefulSystemStop publishes SystemForceShutdown, asking every
// running plugin to begin winding down.
func (c *PluginController) GracefulSystemStop() error {
	c.bus.Publish(events.NewSystemEvent(events.SystemForceShutdown, "plugin controller requested shutdown"))
	c.log.Debug("plugin controller published SystemForceShutdown")
	return nil
}

// AwaitSystemCompletionWithShutdown waits for every currently active
// plugin to publish PluginTerminated, returning early if shutdownCh
// fires (in which case it also triggers GracefulSystemStop) or once
// CompletionTimeout elapses, whichever comes first.
func (c *PluginController) AwaitSystemCompletionWithShutdown(ctx context.Context, shutdownCh <-chan struct{}) error {
	active := c.registry.GetActivePlugins()
	c.log.Debug("plugin controller tracking active plugins for completion", "count", len(active))
	if len(active) == 0 {
		return nil
	}

	remaining := make(map[string]bool, len(active))
	for _, name := range active {
		remaining[name] = true
	}

	subID, ch := c.bus.Subscribe(events.FilterPluginOnly, "plugin-controller-completion", 256)
	defer c.bus.Unsubscribe(subID)

	deadline := time.NewTimer(CompletionTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-shutdownCh:
			c.log.Debug("plugin controller received shutdown signal, triggering graceful shutdown")
			return c.GracefulSystemStop()
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return &ShutdownTimeoutError{Component: "PluginController", Remaining: mapKeys(remaining), Timeout: CompletionTimeout}
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if ev.Kind != events.KindPlugin || ev.Plugin == nil || ev.Plugin.EventType != events.PluginTerminated {
				continue
			}
			delete(remaining, ev.Plugin.PluginID)
			c.log.Debug("plugin terminated", "plugin", ev.Plugin.PluginID, "remaining", len(remaining))
			if len(remaining) == 0 {
				return nil
			}
		}
	}
}

func mapKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// QueueController drives queue shutdown analogously to
// PluginController: GracefulSystemStop calls Shutdown on every tracked
// queue, and AwaitSystemCompletionWithShutdown polls each queue's
// QueueCount until all are empty, the shutdown channel fires, ctx ends,
// or CompletionTimeout passes. It does not listen for QueueShutdown
// events.
type QueueController struct {
	bus    *events.Bus
	queues map[string]ShutdownableQueue
	log    *slog.Logger
}

// ShutdownableQueue is the minimal surface QueueController needs from a
// queue. *queue.Queue satisfies it, and tests can substitute a fake.
type ShutdownableQueue interface {
	Shutdown()
	QueueCount() int
}

// NewQueueController constructs a QueueController over bus, tracking
// the given named queues.
func NewQueueController(bus *events.Bus, queues map[string]ShutdownableQueue, log *slog.Logger) *QueueController {
	if log == nil {
		log = slog.Default()
	}
	return &QueueController{bus: bus, queues: queues, log: log}
}

// GracefulSystemStop calls Shutdown on every tracked queue.
func (c *QueueController) GracefulSystemStop() error {
	for name, q := range c.queues {
		q.Shutdown()
		c.log.Debug("queue shut down", "queue", name)
	}
	return nil
}

// AwaitSystemCompletionWithShutdown waits for every tracked queue to
// drain to empty, or for shutdownCh to fire, or for CompletionTimeout
// to elapse.
func (c *QueueController) AwaitSystemCompletionWithShutdown(ctx context.Context, shutdownCh <-chan struct{}) error {
	if len(c.queues) == 0 {
		return nil
	}

	deadline := time.Now().Add(CompletionTimeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-shutdownCh:
			return c.GracefulSystemStop()
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			var remaining []string
			for name, q := range c.queues {
				if q.QueueCount() > 0 {
					remaining = append(remaining, name)
				}
			}
			if len(remaining) == 0 {
				return nil
			}
			if time.Now().After(deadline) {
				return &ShutdownTimeoutError{Component: "QueueController", Remaining: remaining, Timeout: CompletionTimeout}
			}
		}
	}
}
