// Package queue implements the bounded multi-consumer scan-message
// queue described in spec §3.4, §3.7 and §4.2: a single scanner
// publishes an ordered ScanMessage stream that fans out to any number
// of independent plugin consumers, each with its own read cursor and
// lag accounting.
package queue

import "github.com/repostats/repostats/internal/scanmodel"

// MessageKind tags the variant a ScanMessage carries (spec §3.4).
type MessageKind int

const (
	MessageScanStarted MessageKind = iota
	MessageCommitData
	MessageFileChange
	MessageFileContent
	MessageScanCompleted
)

func (k MessageKind) String() string {
	switch k {
	case MessageScanStarted:
		return "scan_started"
	case MessageCommitData:
		return "commit_data"
	case MessageFileChange:
		return "file_change"
	case MessageFileContent:
		return "file_content"
	case MessageScanCompleted:
		return "scan_completed"
	default:
		return "unknown"
	}
}

// ScanMessage is one element of the ordered stream a scanner pushes
// into the queue: exactly one ScanStarted, zero or more
// CommitData/FileChange/FileContent, exactly one ScanCompleted, per
// scan_id (spec §3.4).
type ScanMessage struct {
	Kind   MessageKind
	ScanID string

	Started   *ScanStartedPayload
	Commit    *scanmodel.CommitData
	Change    *scanmodel.FileChange
	Content   *scanmodel.FileContent
	Completed *ScanCompletedPayload
}

// ScanStartedPayload is the ScanStarted variant's payload.
type ScanStartedPayload struct {
	ScanID     string
	Repository scanmodel.RepositoryDescriptor
}

// ScanCompletedPayload is the ScanCompleted variant's payload. Error
// being non-empty signals the scan terminated abnormally; per spec
// §3.4 a terminal ScanCompleted is emitted even on failure so consumers
// can release resources.
type ScanCompletedPayload struct {
	ScanID string
	Stats  scanmodel.ScanStats
	Error  string
}

// NewScanStarted builds a ScanStarted message.
func NewScanStarted(scanID string, repo scanmodel.RepositoryDescriptor) ScanMessage {
	return ScanMessage{Kind: MessageScanStarted, ScanID: scanID, Started: &ScanStartedPayload{ScanID: scanID, Repository: repo}}
}

// NewCommitData builds a CommitData message.
func NewCommitData(scanID string, c scanmodel.CommitData) ScanMessage {
	return ScanMessage{Kind: MessageCommitData, ScanID: scanID, Commit: &c}
}

// NewFileChange builds a FileChange message.
func NewFileChange(scanID string, c scanmodel.FileChange) ScanMessage {
	return ScanMessage{Kind: MessageFileChange, ScanID: scanID, Change: &c}
}

// NewFileContent builds a FileContent message.
func NewFileContent(scanID string, c scanmodel.FileContent) ScanMessage {
	return ScanMessage{Kind: MessageFileContent, ScanID: scanID, Content: &c}
}

// NewScanCompleted builds a ScanCompleted message. errMsg may be empty.
func NewScanCompleted(scanID string, stats scanmodel.ScanStats, errMsg string) ScanMessage {
	return ScanMessage{Kind: MessageScanCompleted, ScanID: scanID, Completed: &ScanCompletedPayload{ScanID: scanID, Stats: stats, Error: errMsg}}
}

// ConformanceKind maps a ScanMessage's Kind onto scanmodel's ordering
// vocabulary, letting callers validate a []ScanMessage with
// scanmodel.Conformance without scanmodel depending back on queue.
func (m ScanMessage) ConformanceKind() scanmodel.MessageKind {
	switch m.Kind {
	case MessageScanStarted:
		return scanmodel.KindScanStarted
	case MessageCommitData:
		return scanmodel.KindCommitData
	case MessageFileChange:
		return scanmodel.KindFileChange
	case MessageFileContent:
		return scanmodel.KindFileContent
	case MessageScanCompleted:
		return scanmodel.KindScanCompleted
	default:
		return scanmodel.MessageKind(-1)
	}
}
