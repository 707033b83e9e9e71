package events

// Filter selects which Event Kinds a subscriber receives (spec §3.2).
// It is a closed set rather than a bitmask so that Subscribe call sites
// read as intent ("give me scan and plugin traffic") instead of manual
// OR-ing of flags.
type Filter int

const (
	FilterAll Filter = iota
	FilterScanOnly
	FilterQueueOnly
	FilterPluginOnly
	FilterSystemOnly
	FilterScanAndPlugin
	FilterQueueAndSystem
)

func (f Filter) String() string {
	switch f {
	case FilterAll:
		return "all"
	case FilterScanOnly:
		return "scan_only"
	case FilterQueueOnly:
		return "queue_only"
	case FilterPluginOnly:
		return "plugin_only"
	case FilterSystemOnly:
		return "system_only"
	case FilterScanAndPlugin:
		return "scan_and_plugin"
	case FilterQueueAndSystem:
		return "queue_and_system"
	default:
		return "unknown"
	}
}

// Matches reports whether an Event of the given Kind passes this filter.
func (f Filter) Matches(k Kind) bool {
	switch f {
	case FilterAll:
		return true
	case FilterScanOnly:
		return k == KindScan
	case FilterQueueOnly:
		return k == KindQueue
	case FilterPluginOnly:
		return k == KindPlugin
	case FilterSystemOnly:
		return k == KindSystem
	case FilterScanAndPlugin:
		return k == KindScan || k == KindPlugin
	case FilterQueueAndSystem:
		return k == KindQueue || k == KindSystem
	default:
		return false
	}
}
