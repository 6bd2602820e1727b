package domain

import "time"

// TorrentState is the closed set of engine-reported download states.
type TorrentState string

const (
	StateFetchingMetadata TorrentState = "fetching_metadata"
	StateChecking         TorrentState = "checking"
	StateDownloading      TorrentState = "downloading"
	StateFinished         TorrentState = "finished"
	StateSeeding          TorrentState = "seeding"
	StateFailed           TorrentState = "failed"
	StateUnknown          TorrentState = "unknown"
)

// Terminal reports whether the state means the download is done with the
// engine: complete (seeding/finished) or failed.
func (s TorrentState) Terminal() bool {
	switch s {
	case StateSeeding, StateFinished, StateFailed:
		return true
	}
	return false
}

// Display returns the human-readable form used in chat replies. Unrecognized
// values fall back to "Unknown".
func (s TorrentState) Display() string {
	switch s {
	case StateFetchingMetadata:
		return "Getting metadata"
	case StateChecking:
		return "Checking"
	case StateDownloading:
		return "Downloading"
	case StateFinished:
		return "Finished"
	case StateSeeding:
		return "Seeding"
	case StateFailed:
		return "Failed"
	}
	return "Unknown"
}

// Task is an active download tracked by the registry. The engine owns the
// underlying torrent handle; the registry references it by ID only.
type Task struct {
	ID         string
	Name       string
	Requester  string
	StartedAt  time.Time
	Descriptor string
}

// DisplayName returns the torrent name, or "Unknown" while metadata is
// still unresolved.
func (t Task) DisplayName() string {
	if t.Name == "" {
		return "Unknown"
	}
	return t.Name
}

type RecordStatus string

const (
	RecordCompleted RecordStatus = "completed"
	RecordFailed    RecordStatus = "failed"
)

// HistoryRecord is one completed (or failed) download in the bounded
// history log. Immutable once created.
type HistoryRecord struct {
	Name        string       `json:"name"`
	Requester   string       `json:"requester"`
	CompletedAt time.Time    `json:"completed_at"`
	Status      RecordStatus `json:"status"`
}
