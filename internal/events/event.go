// Package events implements the typed notification bus described in
// spec §3.1–§3.3 and §4.1: a publish/subscribe bus with subject filters
// and per-subscriber health tracking. Delivery is at-most-once and
// non-blocking — a slow or closed subscriber never stalls a publisher,
// and is detected and reported rather than silently dropped forever.
package events

import "time"

// Kind tags the variant a given Event carries. Events are modelled as a
// Go sum type: one Kind plus exactly one of the per-variant payload
// pointers below is non-nil. This mirrors the tagged-enum shape of
// original_source/src/notifications/api.rs without reaching for an
// interface{} payload, which would give up compile-time exhaustiveness
// checking in switches over Kind.
type Kind int

const (
	KindScan Kind = iota
	KindQueue
	KindPlugin
	KindSystem
)

func (k Kind) String() string {
	switch k {
	case KindScan:
		return "scan"
	case KindQueue:
		return "queue"
	case KindPlugin:
		return "plugin"
	case KindSystem:
		return "system"
	default:
		return "unknown"
	}
}

// ScanEventType enumerates the Scan variant's event_type field (spec §3.1).
type ScanEventType int

const (
	ScanStarted ScanEventType = iota
	ScanProgress
	ScanCompleted
	ScanError
)

// QueueEventType enumerates the Queue variant's event_type field.
type QueueEventType int

const (
	QueueStarted QueueEventType = iota
	QueueShutdown
	QueueMessageAdded
	QueueMessageProcessed
	QueueEmpty
)

// PluginEventType enumerates the Plugin variant's event_type field.
type PluginEventType int

const (
	PluginRegistered PluginEventType = iota
	PluginUnregistered
	PluginProcessing
	PluginDataReady
	PluginDataComplete
	PluginKeepAlive
	PluginCompleted
	PluginTerminated
	PluginError
)

// SystemEventType enumerates the System variant's event_type field.
type SystemEventType int

const (
	SystemStartup SystemEventType = iota
	SystemShutdown
	SystemForceShutdown
)

// ScanPayload is the Scan variant's payload (spec §3.1).
type ScanPayload struct {
	EventType ScanEventType
	ScanID    string
	Message   string // optional; empty means absent
}

// QueuePayload is the Queue variant's payload.
type QueuePayload struct {
	EventType QueueEventType
	QueueID   string
	Size      int  // optional; only meaningful when SizeSet
	SizeSet   bool
	Message   string
}

// DataExportHandle is the shared, reference-counted handle a Plugin
// DataReady event carries. It is declared as an interface here (rather
// than importing internal/dataexport directly) to avoid a dependency
// cycle between events and dataexport; internal/dataexport's exported
// *PluginDataExport satisfies it.
type DataExportHandle interface {
	PluginID() string
	ScanID() string
}

// PluginPayload is the Plugin variant's payload (spec §3.1).
type PluginPayload struct {
	EventType  PluginEventType
	PluginID   string
	ScanID     string // "system" or "global" sentinel when not scan-bound
	Message    string
	DataExport DataExportHandle // only present when EventType == PluginDataReady
}

// SystemPayload is the System variant's payload.
type SystemPayload struct {
	EventType SystemEventType
	Message   string
}

// Event is a tagged union over the four notification variants (spec
// §3.1). Timestamp is populated at construction by the New* helpers
// below; constructing an Event any other way is possible but callers
// are expected to go through the helpers so Timestamp is never zero.
type Event struct {
	Kind      Kind
	Timestamp time.Time

	Scan   *ScanPayload
	Queue  *QueuePayload
	Plugin *PluginPayload
	System *SystemPayload
}

// NewScanEvent builds a Scan event with the timestamp set to now.
func NewScanEvent(eventType ScanEventType, scanID, message string) Event {
	return Event{
		Kind:      KindScan,
		Timestamp: time.Now(),
		Scan:      &ScanPayload{EventType: eventType, ScanID: scanID, Message: message},
	}
}

// NewQueueEvent builds a Queue event with the timestamp set to now.
func NewQueueEvent(eventType QueueEventType, queueID string, size int, hasSize bool, message string) Event {
	return Event{
		Kind:      KindQueue,
		Timestamp: time.Now(),
		Queue:     &QueuePayload{EventType: eventType, QueueID: queueID, Size: size, SizeSet: hasSize, Message: message},
	}
}

// NewPluginEvent builds a Plugin event with the timestamp set to now.
func NewPluginEvent(eventType PluginEventType, pluginID, scanID, message string) Event {
	return Event{
		Kind:      KindPlugin,
		Timestamp: time.Now(),
		Plugin:    &PluginPayload{EventType: eventType, PluginID: pluginID, ScanID: scanID, Message: message},
	}
}

// NewPluginDataReadyEvent builds a Plugin/DataReady event carrying the
// shared export handle (spec §3.1: "data_export is only present on
// DataReady").
func NewPluginDataReadyEvent(pluginID, scanID string, export DataExportHandle) Event {
	return Event{
		Kind:      KindPlugin,
		Timestamp: time.Now(),
		Plugin: &PluginPayload{
			EventType:  PluginDataReady,
			PluginID:   pluginID,
			ScanID:     scanID,
			DataExport: export,
		},
	}
}

// NewSystemEvent builds a System event with the timestamp set to now.
func NewSystemEvent(eventType SystemEventType, message string) Event {
	return Event{
		Kind:      KindSystem,
		Timestamp: time.Now(),
		System:    &SystemPayload{EventType: eventType, Message: message},
	}
}
