package supervise

import "time"

// State represents the current state of a supervised unit
type State int

const (
	// StateUnknown indicates the state could not be determined
	StateUnknown State = iota
	// StateDown indicates the unit is down and wants to be down
	StateDown
	// StateRunning indicates the unit is running and wants to be up
	StateRunning
	// StateStopping indicates the unit is running but wants to be down
	StateStopping
	// StateCrashed indicates the unit is down but wants to be up
	// (the daemon is waiting out the restart delay)
	StateCrashed
)

// State string constants
const (
	stateUnknownStr  = "unknown"
	stateDownStr     = "down"
	stateRunningStr  = "running"
	stateStoppingStr = "stopping"
	stateCrashedStr  = "crashed"
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateDown:
		return stateDownStr
	case StateRunning:
		return stateRunningStr
	case StateStopping:
		return stateStoppingStr
	case StateCrashed:
		return stateCrashedStr
	default:
		return stateUnknownStr
	}
}

// Flags represents unit configuration flags from the status record
type Flags struct {
	// WantUp indicates the unit is configured to be up
	WantUp bool
	// WantDown indicates the unit is configured to be down
	WantDown bool
	// NormallyUp indicates the unit should be started on boot
	NormallyUp bool
}

// Status represents the decoded state of a supervised unit
type Status struct {
	// State is the inferred unit state
	State State
	// PID is the process ID of the unit process (0 if not running)
	PID int
	// Since is the timestamp when the unit entered its current state
	Since time.Time
	// Uptime is the duration since the unit entered its current state.
	// This is a snapshot taken at decode time; for accurate calculations
	// use Since with time.Since(status.Since).
	Uptime time.Duration
	// Flags contains unit configuration flags
	Flags Flags
	// Raw contains the original 20-byte status record (stack allocated)
	Raw [StatusRecordSize]byte
}
