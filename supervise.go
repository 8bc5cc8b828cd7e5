package supervise

import "time"

// Unit directory layout constants
const (
	// UnitFile is the unit definition file name inside a unit directory
	UnitFile = "unit.yaml"

	// EnvDir is the subdirectory holding one file per environment variable
	EnvDir = "env"

	// DownFile marks a unit as disabled (not started automatically)
	DownFile = "down"

	// LogDir is the subdirectory holding the unit's log files
	LogDir = "log"

	// LogCurrentFile is the name of the active log file inside LogDir
	LogCurrentFile = "current"

	// SuperviseDir is the runtime subdirectory maintained by the daemon
	SuperviseDir = "supervise"

	// ControlFile is the control socket name inside SuperviseDir
	ControlFile = "control"

	// StatusFile is the binary status record name inside SuperviseDir
	StatusFile = "status"

	// LockFile is the single-instance lock file name inside SuperviseDir
	LockFile = "lock"
)

// StatusRecordSize is the exact size of the binary status record in bytes.
// The layout is runit-compatible: 12 bytes TAI64N timestamp, 4 bytes PID,
// 4 flag bytes.
const StatusRecordSize = 20

// Supervision timing defaults
const (
	// DefaultRestartDelay is the pause between an abnormal exit and the
	// next launch attempt
	DefaultRestartDelay = 10 * time.Second

	// DefaultStopTimeout is how long the daemon waits after the stop
	// signal before escalating to SIGKILL
	DefaultStopTimeout = 30 * time.Second

	// DefaultWatchDebounce is the default debounce time for status file watching
	DefaultWatchDebounce = 25 * time.Millisecond

	// DefaultDialTimeout is the default timeout for control socket connections
	DefaultDialTimeout = 2 * time.Second

	// DefaultWriteTimeout is the default timeout for control write operations
	DefaultWriteTimeout = 1 * time.Second

	// DefaultReadTimeout is the default timeout for status read operations
	DefaultReadTimeout = 1 * time.Second

	// DefaultBackoffMin is the minimum backoff duration for retries
	DefaultBackoffMin = 10 * time.Millisecond

	// DefaultBackoffMax is the maximum backoff duration for retries
	DefaultBackoffMax = 1 * time.Second

	// DefaultMaxAttempts is the default maximum number of retry attempts
	DefaultMaxAttempts = 10
)

// File modes
const (
	// DirMode is the default mode for created directories
	DirMode = 0o755

	// FileMode is the default mode for created files
	FileMode = 0o644
)

// Operation represents a control operation type
type Operation int

const (
	// OpUnknown represents an unknown operation
	OpUnknown Operation = iota
	// OpUp starts the unit (want up)
	OpUp
	// OpOnce starts the unit once (no restart when it exits)
	OpOnce
	// OpDown stops the unit (want down)
	OpDown
	// OpTerm sends the unit its stop signal without changing want
	OpTerm
	// OpInterrupt sends SIGINT to the unit process
	OpInterrupt
	// OpHUP sends SIGHUP to the unit process
	OpHUP
	// OpKill sends SIGKILL to the unit process
	OpKill
	// OpExit stops the unit and terminates the daemon
	OpExit
	// OpStatus represents a status query operation
	OpStatus
)

// Operation string constants
const (
	opUnknownStr   = "unknown"
	opUpStr        = "up"
	opOnceStr      = "once"
	opDownStr      = "down"
	opTermStr      = "term"
	opInterruptStr = "interrupt"
	opHUPStr       = "hup"
	opKillStr      = "kill"
	opExitStr      = "exit"
	opStatusStr    = "status"
)

// String returns the string representation of an Operation
func (op Operation) String() string {
	switch op {
	case OpUp:
		return opUpStr
	case OpOnce:
		return opOnceStr
	case OpDown:
		return opDownStr
	case OpTerm:
		return opTermStr
	case OpInterrupt:
		return opInterruptStr
	case OpHUP:
		return opHUPStr
	case OpKill:
		return opKillStr
	case OpExit:
		return opExitStr
	case OpStatus:
		return opStatusStr
	default:
		return opUnknownStr
	}
}

// Byte returns the control byte for this operation
func (op Operation) Byte() byte {
	switch op {
	case OpUp:
		return 'u'
	case OpOnce:
		return 'o'
	case OpDown:
		return 'd'
	case OpTerm:
		return 't'
	case OpInterrupt:
		return 'i'
	case OpHUP:
		return 'h'
	case OpKill:
		return 'k'
	case OpExit:
		return 'x'
	default:
		return 0
	}
}

// operationFromByte maps a control byte back to its Operation.
// Bytes outside the protocol map to OpUnknown and are ignored by the daemon.
func operationFromByte(b byte) Operation {
	switch b {
	case 'u':
		return OpUp
	case 'o':
		return OpOnce
	case 'd':
		return OpDown
	case 't':
		return OpTerm
	case 'i':
		return OpInterrupt
	case 'h':
		return OpHUP
	case 'k':
		return OpKill
	case 'x':
		return OpExit
	default:
		return OpUnknown
	}
}

// TAI64Base is the TAI64 epoch offset from the Unix epoch (TAI is 10 seconds
// ahead of UTC at the Unix epoch). Calculated as (1 << 62) + 10.
const TAI64Base = uint64(1<<62) + 10
