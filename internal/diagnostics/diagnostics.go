// Package diagnostics streams bus events to a connected monitor over a
// read-only WebSocket, for live observability during a scan (spec §9's
// ambient "diagnostics" stack, adapted from the teacher's
// homeassistant.WSClient gorilla/websocket usage — here the roles are
// reversed: this package is the server side, broadcasting rather than
// subscribing to a remote feed).
package diagnostics

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/repostats/repostats/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wireEvent is the JSON shape streamed to a connected monitor; it
// flattens events.Event's tagged-variant fields into one object rather
// than mirroring the Go struct, so a non-Go client never needs to know
// about the zero-value sibling fields.
type wireEvent struct {
	Kind      string `json:"kind"`
	Timestamp string `json:"timestamp"`

	ScanID    string `json:"scan_id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	PluginID  string `json:"plugin_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

var scanEventNames = map[events.ScanEventType]string{
	events.ScanStarted:   "started",
	events.ScanProgress:  "progress",
	events.ScanCompleted: "completed",
	events.ScanError:     "error",
}

var queueEventNames = map[events.QueueEventType]string{
	events.QueueStarted:          "started",
	events.QueueShutdown:         "shutdown",
	events.QueueMessageAdded:     "message_added",
	events.QueueMessageProcessed: "message_processed",
	events.QueueEmpty:            "empty",
}

var pluginEventNames = map[events.PluginEventType]string{
	events.PluginRegistered:   "registered",
	events.PluginUnregistered: "unregistered",
	events.PluginProcessing:   "processing",
	events.PluginDataReady:    "data_ready",
	events.PluginDataComplete: "data_complete",
	events.PluginKeepAlive:    "keep_alive",
	events.PluginCompleted:    "completed",
	events.PluginTerminated:   "terminated",
	events.PluginError:        "error",
}

var systemEventNames = map[events.SystemEventType]string{
	events.SystemStartup:        "startup",
	events.SystemShutdown:       "shutdown",
	events.SystemForceShutdown:  "force_shutdown",
}

func toWireEvent(ev events.Event) wireEvent {
	out := wireEvent{Kind: ev.Kind.String(), Timestamp: time.Now().UTC().Format(time.RFC3339Nano)}
	switch ev.Kind {
	case events.KindScan:
		if ev.Scan != nil {
			out.ScanID = ev.Scan.ScanID
			out.EventType = scanEventNames[ev.Scan.EventType]
			out.Message = ev.Scan.Message
		}
	case events.KindPlugin:
		if ev.Plugin != nil {
			out.ScanID = ev.Plugin.ScanID
			out.PluginID = ev.Plugin.PluginID
			out.EventType = pluginEventNames[ev.Plugin.EventType]
			out.Message = ev.Plugin.Message
		}
	case events.KindQueue:
		if ev.Queue != nil {
			out.EventType = queueEventNames[ev.Queue.EventType]
			out.Message = ev.Queue.Message
		}
	case events.KindSystem:
		if ev.System != nil {
			out.EventType = systemEventNames[ev.System.EventType]
			out.Message = ev.System.Message
		}
	}
	return out
}

// Server broadcasts every event it receives from a bus subscription to
// any number of connected WebSocket monitors. It never blocks the bus:
// a slow monitor's buffered send channel drops events rather than
// holding up Broadcast (mirroring the bus's own drop-on-full
// subscriber policy).
type Server struct {
	log *slog.Logger

	mu       sync.Mutex
	monitors map[string]chan wireEvent
	nextID   int
}

// NewServer constructs a Server with no monitors attached.
func NewServer(log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{log: log, monitors: make(map[string]chan wireEvent)}
}

// Attach subscribes to bus and forwards every event to connected
// monitors until the returned func is called or bus's subscription ends.
func (s *Server) Attach(bus *events.Bus) func() {
	subID, ch := bus.Subscribe(events.FilterAll, "diagnostics-server", 256)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				s.broadcast(toWireEvent(ev))
			}
		}
	}()
	return func() {
		close(done)
		bus.Unsubscribe(subID)
	}
}

func (s *Server) broadcast(ev wireEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.monitors {
		select {
		case ch <- ev:
		default:
			s.log.Warn("diagnostics monitor channel full, dropping event", "monitor", id)
		}
	}
}

// ServeHTTP upgrades the request to a WebSocket and streams events to
// it until the client disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("diagnostics upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id, ch := s.register()
	defer s.unregister(id)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				s.log.Debug("diagnostics monitor write failed, disconnecting", "monitor", id, "error", err)
				return
			}
		}
	}
}

func (s *Server) register() (string, chan wireEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := time.Now().Format("20060102150405") + "-" + strconv.Itoa(s.nextID)
	ch := make(chan wireEvent, 64)
	s.monitors[id] = ch
	return id, ch
}

func (s *Server) unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.monitors[id]; ok {
		close(ch)
		delete(s.monitors, id)
	}
}

// MonitorCount reports how many WebSocket monitors are currently
// connected.
func (s *Server) MonitorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.monitors)
}
