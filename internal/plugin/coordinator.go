package plugin

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/repostats/repostats/internal/dataexport"
)

// CoordinationStatus reports the current aggregation state (spec §3.8,
// ported from original_source/src/plugin/data_coordinator.rs's
// `CoordinationStatus`).
type CoordinationStatus int

const (
	StatusPending CoordinationStatus = iota
	StatusComplete
	StatusFailed
)

func (s CoordinationStatus) String() string {
	switch s {
	case StatusComplete:
		return "complete"
	case StatusFailed:
		return "failed"
	default:
		return "pending"
	}
}

// CoordinationConfig mirrors the original's tunables: how long to wait,
// whether a single plugin failure aborts the whole scan immediately,
// a minimum successful-plugin quorum, and whether a timeout with a
// quorum met still counts as success.
type CoordinationConfig struct {
	Timeout                time.Duration // zero means no timeout
	FailFast               bool
	MinPluginsRequired     int // zero means no minimum
	AllowPartialCompletion bool
}

// DefaultCoordinationConfig matches the original's Default impl: a
// 30-second timeout, no fail-fast, no minimum, no partial completion.
func DefaultCoordinationConfig() CoordinationConfig {
	return CoordinationConfig{Timeout: 30 * time.Second}
}

// Coordinator aggregates per-scan plugin data exports, tracking which
// expected plugins have reported in, which have failed, and the
// resulting CoordinationStatus (spec §3.8/§4.7, ported from
// original_source/src/plugin/data_coordinator.rs's `DataCoordinator`).
// It is deliberately bus-agnostic — nothing in this type subscribes to
// events; CoordinatorBusBridge is the sole adapter translating bus
// events into coordinator calls.
type Coordinator struct {
	mu sync.Mutex

	scanID    string
	expected  map[string]bool
	collected map[string]*dataexport.PluginDataExport
	failed    map[string]string
	status    CoordinationStatus
	reason    string
	config    CoordinationConfig
	startedAt time.Time
}

// NewCoordinator constructs a Coordinator for scanID using
// DefaultCoordinationConfig.
func NewCoordinator(scanID string) *Coordinator {
	return NewCoordinatorWithConfig(scanID, DefaultCoordinationConfig())
}

// NewCoordinatorWithConfig constructs a Coordinator for scanID with a
// custom configuration.
func NewCoordinatorWithConfig(scanID string, cfg CoordinationConfig) *Coordinator {
	return &Coordinator{
		scanID:    scanID,
		expected:  make(map[string]bool),
		collected: make(map[string]*dataexport.PluginDataExport),
		failed:    make(map[string]string),
		config:    cfg,
	}
}

// Start begins the coordination timer, if not already started.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startedAt.IsZero() {
		c.startedAt = time.Now()
		c.updateStatusLocked()
	}
}

// ExpectPlugin registers pluginID as one the coordinator should wait
// for before declaring completion.
func (c *Coordinator) ExpectPlugin(pluginID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expected[pluginID] = false
	c.updateStatusLocked()
}

// AddData records a plugin's data export. Rejects a scan ID mismatch,
// an unexpected plugin, a plugin that already reported, or a plugin
// already marked failed. AddData does not reject a submission after the coordinator has
// already reached a terminal status; neither does the original's
// data_coordinator.rs add_data, so this is a faithful port rather than
// an oversight.
func (c *Coordinator) AddData(data *dataexport.PluginDataExport) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if data.ScanID() != c.scanID {
		return fmt.Errorf("coordinator: scan id mismatch: expected %q, got %q", c.scanID, data.ScanID())
	}
	if _, expected := c.expected[data.PluginID()]; !expected {
		return fmt.Errorf("coordinator: unexpected plugin %q not in expected plugins list", data.PluginID())
	}
	if _, already := c.collected[data.PluginID()]; already {
		return fmt.Errorf("coordinator: plugin %q already provided data", data.PluginID())
	}
	if _, failed := c.failed[data.PluginID()]; failed {
		return fmt.Errorf("coordinator: plugin %q already marked as failed", data.PluginID())
	}

	c.expected[data.PluginID()] = true
	c.collected[data.PluginID()] = data
	c.updateStatusLocked()
	return nil
}

// MarkPluginFailed records that pluginID will not provide data.
func (c *Coordinator) MarkPluginFailed(pluginID, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, expected := c.expected[pluginID]; !expected {
		return fmt.Errorf("coordinator: plugin %q not in expected plugins list", pluginID)
	}
	if _, already := c.failed[pluginID]; already {
		return fmt.Errorf("coordinator: plugin %q already marked as failed", pluginID)
	}
	if _, already := c.collected[pluginID]; already {
		return fmt.Errorf("coordinator: plugin %q already provided data", pluginID)
	}

	c.failed[pluginID] = reason
	c.updateStatusLocked()
	return nil
}

// Status returns the current coordination status and, when Failed, the
// reason string.
func (c *Coordinator) Status() (CoordinationStatus, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateStatusLocked()
	return c.status, c.reason
}

// IsComplete reports whether coordination has reached StatusComplete.
func (c *Coordinator) IsComplete() bool {
	status, _ := c.Status()
	return status == StatusComplete
}

// IsFailed reports whether coordination has reached StatusFailed.
func (c *Coordinator) IsFailed() bool {
	status, _ := c.Status()
	return status == StatusFailed
}

// PendingPlugins returns expected plugins that have neither provided
// data nor been marked failed, sorted.
func (c *Coordinator) PendingPlugins() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var pending []string
	for id := range c.expected {
		if _, ok := c.collected[id]; ok {
			continue
		}
		if _, ok := c.failed[id]; ok {
			continue
		}
		pending = append(pending, id)
	}
	sort.Strings(pending)
	return pending
}

// Progress returns collected+failed over expected, in [0,1]. Returns 0
// when there are no expected plugins.
func (c *Coordinator) Progress() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.expected) == 0 {
		return 0
	}
	done := len(c.collected) + len(c.failed)
	return float64(done) / float64(len(c.expected))
}

// GetData returns the data export collected from pluginID, if any.
func (c *Coordinator) GetData(pluginID string) (*dataexport.PluginDataExport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.collected[pluginID]
	return d, ok
}

// AllData returns every collected data export, keyed by plugin id.
func (c *Coordinator) AllData() map[string]*dataexport.PluginDataExport {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]*dataexport.PluginDataExport, len(c.collected))
	for k, v := range c.collected {
		out[k] = v
	}
	return out
}

// meetsMinimumLocked reports whether the configured minimum successful
// plugin count has been met. Must be called with c.mu held.
func (c *Coordinator) meetsMinimumLocked() bool {
	if c.config.MinPluginsRequired == 0 {
		return true
	}
	return len(c.collected) >= c.config.MinPluginsRequired
}

// ForceCompletion forces StatusComplete, subject to the minimum-plugins
// requirement still being satisfied.
func (c *Coordinator) ForceCompletion() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.meetsMinimumLocked() {
		return fmt.Errorf("coordinator: minimum requirements not met: %d < %d", len(c.collected), c.config.MinPluginsRequired)
	}
	c.status = StatusComplete
	c.reason = ""
	return nil
}

// ForceFailure forces StatusFailed with the given reason.
func (c *Coordinator) ForceFailure(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = StatusFailed
	c.reason = reason
}

// ResetForNewScan clears collected/failed data and reverts every
// expected plugin to "not yet received," keeping the expected-plugin
// set and configuration (spec §4.7, for coordinator reuse across scans
// of the same long-lived process).
func (c *Coordinator) ResetForNewScan(newScanID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scanID = newScanID
	c.collected = make(map[string]*dataexport.PluginDataExport)
	c.failed = make(map[string]string)
	for id := range c.expected {
		c.expected[id] = false
	}
	c.status = StatusPending
	c.reason = ""
	c.startedAt = time.Time{}
}

// updateStatusLocked recomputes c.status from the current counts.
// Must be called with c.mu held.
func (c *Coordinator) updateStatusLocked() {
	if c.status == StatusFailed || c.status == StatusComplete {
		return
	}
	if len(c.expected) == 0 {
		c.status = StatusPending
		return
	}

	if c.config.Timeout > 0 && !c.startedAt.IsZero() && time.Since(c.startedAt) >= c.config.Timeout {
		if c.config.AllowPartialCompletion && c.meetsMinimumLocked() {
			c.status = StatusComplete
			c.reason = ""
		} else {
			c.status = StatusFailed
			c.reason = fmt.Sprintf("timeout: received %d/%d plugins within %s", len(c.collected), len(c.expected), c.config.Timeout)
		}
		return
	}

	if c.config.FailFast && len(c.failed) > 0 {
		c.status = StatusFailed
		c.reason = fmt.Sprintf("fail fast: plugin(s) failed: %v", failedNamesLocked(c.failed))
		return
	}

	accountedFor := len(c.collected) + len(c.failed)
	if accountedFor == len(c.expected) {
		if c.meetsMinimumLocked() {
			c.status = StatusComplete
			c.reason = ""
		} else {
			c.status = StatusFailed
			c.reason = fmt.Sprintf("minimum requirements not met: %d successful < %d required", len(c.collected), c.config.MinPluginsRequired)
		}
		return
	}

	c.status = StatusPending
}

func failedNamesLocked(failed map[string]string) []string {
	names := make([]string, 0, len(failed))
	for name := range failed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
