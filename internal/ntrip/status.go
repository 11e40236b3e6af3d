package ntrip

import (
	"errors"
)

// Status is the health code of a Client. Every non-zero value is terminal for
// the current connection.
type Status int

const (
	StatusOK Status = 0
	// StatusIOError: transport failure while waiting for the reply or streaming.
	StatusIOError Status = -1
	// StatusSetupFailed: the connection could not be opened or the request
	// could not be written.
	StatusSetupFailed Status = -2
	// StatusUnauthorized: the caster rejected the credentials.
	StatusUnauthorized Status = -3
	// StatusRejected: unknown mount point or an unrecognized reply.
	StatusRejected Status = -4
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusIOError:
		return "io_error"
	case StatusSetupFailed:
		return "setup_failed"
	case StatusUnauthorized:
		return "unauthorized"
	case StatusRejected:
		return "rejected"
	}
	return "unknown"
}

// Worker states reported in Snapshot.State.
const (
	StateIdle        = "idle"
	StateConnecting  = "connecting"
	StateHandshaking = "handshaking"
	StateStreaming   = "streaming"
	StateTerminated  = "terminated"
	StateStopped     = "stopped"
)

var (
	ErrUnauthorized    = errors.New("authorization error")
	ErrInvalidMount    = errors.New("invalid mounting point")
	ErrUnexpectedReply = errors.New("unexpected reply from host")

	// ErrSessionDead is returned by UpdatePosition once the client has a
	// non-zero status. Call Reset or build a new Client to recover.
	ErrSessionDead = errors.New("ntrip session is dead")
)

type Snapshot struct {
	SessionID      string `json:"session_id,omitempty"`
	Addr           string `json:"addr"`
	Mount          string `json:"mount"`
	State          string `json:"state"`
	Status         Status `json:"status"`
	StatusText     string `json:"status_text"`
	LastError      string `json:"last_error,omitempty"`
	LatestPosition string `json:"latest_position,omitempty"`
	BytesRelayed   uint64 `json:"bytes_relayed"`
	PositionsSent  uint64 `json:"positions_sent"`
	ConnectedUTC   string `json:"connected_utc,omitempty"`
	LastDataUTC    string `json:"last_data_utc,omitempty"`
}
