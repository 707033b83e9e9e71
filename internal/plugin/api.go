// Package plugin implements the registry, discovery, activation,
// argument resolution, lifecycle runner, data coordinator, and
// controllers described in spec §3.6, §3.8, §4.4–§4.8, §6.2–§6.4
// (grounded on original_source/src/plugin/{traits,api,registry,
// discovery,activation,args,initialization,data_coordinator,
// controller}.rs).
package plugin

import (
	"context"

	"github.com/repostats/repostats/internal/events"
	"github.com/repostats/repostats/internal/queue"
	"github.com/repostats/repostats/internal/scanmodel"
)

// SystemAPIVersion is the API version this build's runner and registry
// implement. Built-ins declare the same version; external manifests are
// checked against it via CheckCompatibility.
const SystemAPIVersion = 1

// Type enumerates the three plugin roles (spec §3.6).
type Type int

const (
	TypeProcessing Type = iota
	TypeOutput
	TypeNotification
)

func (t Type) String() string {
	switch t {
	case TypeProcessing:
		return "processing"
	case TypeOutput:
		return "output"
	case TypeNotification:
		return "notification"
	default:
		return "unknown"
	}
}

// Function describes one operation a plugin advertises (spec §3.6).
type Function struct {
	Name        string
	Description string
	Aliases     []string
}

// Info is a plugin's static metadata (spec §3.6).
type Info struct {
	Name        string
	Version     string
	Description string
	Author      string
	APIVersion  int
	Type        Type
	Functions   []Function
	Required    scanmodel.ScanRequires
	AutoActive  bool
}

// Plugin is the interface every plugin — built-in or externally
// discovered — implements (spec §4.4, ported from
// original_source/src/plugin/traits.rs's `Plugin` trait). Lifecycle
// methods take a context so the runner can enforce deadlines without
// the plugin needing to know about timeouts itself.
type Plugin interface {
	PluginInfo() Info
	AdvertisedFunctions() []Function
	Requirements() scanmodel.ScanRequires

	Initialize(ctx context.Context) error
	Execute(ctx context.Context, args []string) error
	Cleanup(ctx context.Context) error
	ParsePluginArguments(ctx context.Context, args []string, cfg *PluginConfig) error

	// IsCompatible reports whether this plugin's declared APIVersion
	// can run against systemAPIVersion (spec §4.4).
	IsCompatible(systemAPIVersion int) bool

	// SetNotificationManager gives the plugin a bus handle to publish
	// its own lifecycle/data events on (spec §4.4, §4.6).
	SetNotificationManager(bus *events.Bus)
}

// Consumer is the optional capability a plugin implements to read
// directly from the message queue (spec §4.6, ported from
// original_source/src/plugin/traits.rs's `ConsumerPlugin` trait).
type Consumer interface {
	Plugin
	StartConsuming(ctx context.Context, consumer *queue.Consumer) error
	StopConsuming(ctx context.Context) error
}
