package ocr

import "encoding/json"

// State is the engine installation state.
type State uint8

const (
	// StateIdle means not installed and no download running.
	StateIdle State = iota
	// StateDownloading means a download or extraction is running.
	StateDownloading
	// StateReady means the engine is installed and verified.
	StateReady
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDownloading:
		return "downloading"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// readySignal is the legacy numeric status for an installed engine; the
// idle signal is the download percentage minus the same constant.
const readySignal = 111.1

// maxDownloadingSignal keeps the legacy signal below 100 while the archive
// is complete but still extracting.
const maxDownloadingSignal = 99.9

// Status is a point-in-time engine status.
type Status struct {
	State State
	// Percent is the share of the archive on disk, 0 to 100.
	Percent float64
}

// Signal encodes the status as one number: above 100 when ready, the
// percentage while downloading, and percentage minus 111.1 when idle.
func (s Status) Signal() float64 {
	switch s.State {
	case StateReady:
		return readySignal
	case StateDownloading:
		return min(s.Percent, maxDownloadingSignal)
	default:
		return s.Percent - readySignal
	}
}

// MarshalJSON includes the legacy signal for UI shells that expect it.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		State   State   `json:"state"`
		Percent float64 `json:"percent"`
		Signal  float64 `json:"signal"`
	}{s.State, s.Percent, s.Signal()})
}

// PrepareOutcome reports what Prepare did.
type PrepareOutcome uint8

const (
	// PrepareReady means the engine was already installed.
	PrepareReady PrepareOutcome = iota
	// PrepareBusy means another Prepare holds the download gate.
	PrepareBusy
	// PreparePaused means the download stopped on a pause request.
	PreparePaused
	// PrepareInstalled means the archive was fetched and extracted.
	PrepareInstalled
	// PrepareFailed accompanies a non-nil error.
	PrepareFailed
)

func (o PrepareOutcome) String() string {
	switch o {
	case PrepareReady:
		return "ready"
	case PrepareBusy:
		return "busy"
	case PreparePaused:
		return "paused"
	case PrepareInstalled:
		return "installed"
	case PrepareFailed:
		return "failed"
	default:
		return "unknown"
	}
}
