package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/repostats/repostats/internal/events"
	"github.com/repostats/repostats/internal/queue"
)

// RunnerState is the explicit lifecycle state machine every activated
// plugin passes through (spec §4.6, ported from
// original_source/src/plugin/initialization.rs's implicit
// initialize -> parse_plugin_arguments -> execute ordering, made
// explicit here so a double-initialize or an execute-before-parse is a
// caught programming error rather than undefined plugin behavior).
type RunnerState int

const (
	StateCreated RunnerState = iota
	StateInitialized
	StateArgsParsed
	StateRunning
	StateCleaned
	StateFailed
)

func (s RunnerState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateArgsParsed:
		return "args_parsed"
	case StateRunning:
		return "running"
	case StateCleaned:
		return "cleaned"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// InvalidTransitionError is returned by Runner.transition when the
// requested state change would skip a required step or re-enter an
// already-passed one (spec §4.6's "double-initialize is a hard error"
// invariant).
type InvalidTransitionError struct {
	Plugin   string
	From, To RunnerState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("plugin %q: invalid state transition %s -> %s", e.Plugin, e.From, e.To)
}

var validTransitions = map[RunnerState][]RunnerState{
	StateCreated:     {StateInitialized, StateFailed},
	StateInitialized: {StateArgsParsed, StateFailed, StateCleaned},
	StateArgsParsed:  {StateRunning, StateFailed, StateCleaned},
	StateRunning:     {StateCleaned, StateFailed},
	StateFailed:      {StateCleaned},
}

// Runner drives a single plugin through its lifecycle: initialize,
// parse arguments, inject dependencies, run, and clean up. It holds no
// lock across any call into the plugin itself, so a slow or blocked
// plugin never stalls other runners sharing the same bus or registry
// (spec §5's "controllers never hold locks across await points"
// principle, applied here to the runner too).
type Runner struct {
	name   string
	plugin Plugin
	bus    *events.Bus
	log    *slog.Logger

	mu    sync.Mutex
	state RunnerState
}

// NewRunner constructs a Runner for plugin, identified by name for
// error messages and logging.
func NewRunner(name string, p Plugin, bus *events.Bus, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{name: name, plugin: p, bus: bus, log: log, state: StateCreated}
}

// State returns the runner's current lifecycle state.
func (r *Runner) State() RunnerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) transition(to RunnerState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, allowed := range validTransitions[r.state] {
		if allowed == to {
			r.state = to
			return nil
		}
	}
	return &InvalidTransitionError{Plugin: r.name, From: r.state, To: to}
}

// Initialize sets the plugin's notification manager and calls its
// Initialize hook. Calling Initialize twice on the same Runner is a
// hard error. On success it publishes PluginEvent::Registered (spec
// §4.6/§6.2's "Registered on activation" required event) — the runner
// owns this event rather than each plugin, since every activated
// plugin passes through exactly this transition.
func (r *Runner) Initialize(ctx context.Context) error {
	r.plugin.SetNotificationManager(r.bus)
	if err := r.plugin.Initialize(ctx); err != nil {
		_ = r.transition(StateFailed)
		return fmt.Errorf("plugin %q: initialize: %w", r.name, err)
	}
	if err := r.transition(StateInitialized); err != nil {
		return err
	}
	if r.bus != nil {
		r.bus.Publish(events.NewPluginEvent(events.PluginRegistered, r.name, "system", ""))
	}
	return nil
}

// ParseArguments parses args against cfg. A *HelpRequestedError is
// passed through unchanged; the runner still advances to StateFailed
// in that case since the run is not going to proceed further (spec §9
// "help-as-error": the caller treats this as a non-fatal early exit,
// not a crash).
func (r *Runner) ParseArguments(ctx context.Context, args []string, cfg *PluginConfig) error {
	if err := r.plugin.ParsePluginArguments(ctx, args, cfg); err != nil {
		_ = r.transition(StateFailed)
		return err
	}
	return r.transition(StateArgsParsed)
}

// InjectConsumer creates and hands a queue consumer to plugins
// implementing Consumer (spec §4.6, ported from
// original_source/src/plugin/initialization.rs's inject_consumer).
// It is a no-op for plugins that are not Consumer-capable.
func (r *Runner) InjectConsumer(ctx context.Context, q *queue.Queue) error {
	consumerPlugin, ok := r.plugin.(Consumer)
	if !ok {
		return nil
	}
	consumer, err := q.CreateConsumer(r.name)
	if err != nil {
		return fmt.Errorf("plugin %q: creating consumer: %w", r.name, err)
	}
	if err := consumerPlugin.StartConsuming(ctx, consumer); err != nil {
		return fmt.Errorf("plugin %q: start consuming: %w", r.name, err)
	}
	return nil
}

// Run executes the plugin's Execute hook on its own goroutine,
// reporting completion on the returned channel. The runner holds no
// lock while the plugin runs.
func (r *Runner) Run(ctx context.Context, args []string) <-chan error {
	done := make(chan error, 1)
	if err := r.transition(StateRunning); err != nil {
		done <- err
		return done
	}
	go func() {
		err := r.plugin.Execute(ctx, args)
		if err != nil {
			r.log.Error("plugin execution failed", "plugin", r.name, "error", err)
			_ = r.transition(StateFailed)
			if r.bus != nil {
				r.bus.Publish(events.NewPluginEvent(events.PluginError, r.name, "system", err.Error()))
			}
		} else if r.bus != nil {
			r.bus.Publish(events.NewPluginEvent(events.PluginCompleted, r.name, "system", ""))
		}
		done <- err
	}()
	return done
}

// Cleanup calls the plugin's Cleanup hook (and StopConsuming, for
// Consumer-capable plugins) regardless of whether Run succeeded,
// advancing the runner to StateCleaned, then publishes
// PluginEvent::Terminated (spec §4.6/§6.2's "Terminated on unload"
// required event) so controllers waiting on it can observe completion.
func (r *Runner) Cleanup(ctx context.Context) error {
	var cleanupErr error
	if consumerPlugin, ok := r.plugin.(Consumer); ok {
		if err := consumerPlugin.StopConsuming(ctx); err != nil {
			r.log.Warn("stop consuming failed", "plugin", r.name, "error", err)
		}
	}
	if err := r.plugin.Cleanup(ctx); err != nil {
		cleanupErr = fmt.Errorf("plugin %q: cleanup: %w", r.name, err)
	}
	r.mu.Lock()
	r.state = StateCleaned
	r.mu.Unlock()
	if r.bus != nil {
		r.bus.Publish(events.NewPluginEvent(events.PluginTerminated, r.name, "system", ""))
	}
	return cleanupErr
}
