package supervise

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Status record layout offsets. The format follows the runit supervise
// status file:
//
//	bytes 0-7:   TAI64N seconds (big-endian uint64)
//	bytes 8-11:  TAI64N nanoseconds (big-endian uint32)
//	bytes 12-15: PID (little-endian uint32)
//	byte 16:     paused flag
//	byte 17:     want flag ('u' for up, 'd' for down)
//	byte 18:     term flag (stop signal sent, process still up)
//	byte 19:     run flag (unit has a process)
const (
	offsetTAI64Sec  = 0
	offsetTAI64Nano = 8
	offsetPID       = 12
	offsetPaused    = 16
	offsetWant      = 17
	offsetTerm      = 18
	offsetRun       = 19
)

// statusRecord is the daemon-side view of one status transition.
// It carries exactly the fields the binary record can represent.
type statusRecord struct {
	since   time.Time
	pid     int
	want    byte // 'u' or 'd'
	terming bool
}

// encode serializes the record into the 20-byte wire format
func (r statusRecord) encode() []byte {
	buf := make([]byte, StatusRecordSize)

	if !r.since.IsZero() {
		binary.BigEndian.PutUint64(buf[offsetTAI64Sec:offsetTAI64Nano], uint64(r.since.Unix())+TAI64Base)
		binary.BigEndian.PutUint32(buf[offsetTAI64Nano:offsetPID], uint32(r.since.Nanosecond()))
	}

	binary.LittleEndian.PutUint32(buf[offsetPID:offsetPaused], uint32(r.pid))

	buf[offsetWant] = r.want
	if r.terming {
		buf[offsetTerm] = 1
	}
	if r.pid > 0 {
		buf[offsetRun] = 1
	}

	return buf
}

// decodeStatus decodes a 20-byte binary status record into a typed Status
func decodeStatus(data []byte) (Status, error) {
	if len(data) != StatusRecordSize {
		return Status{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrDecode, StatusRecordSize, len(data))
	}

	var st Status
	copy(st.Raw[:], data)

	st.PID = int(binary.LittleEndian.Uint32(data[offsetPID:offsetPaused]))

	decodeTimestamp(&st, data)
	decodeFlags(&st, data)
	st.State = determineState(st.PID, st.Flags, data)

	return st, nil
}

// decodeTimestamp decodes the TAI64N timestamp into Since and Uptime
func decodeTimestamp(st *Status, data []byte) {
	tai64Sec := binary.BigEndian.Uint64(data[offsetTAI64Sec:offsetTAI64Nano])
	tai64Nano := binary.BigEndian.Uint32(data[offsetTAI64Nano:offsetPID])

	if tai64Sec <= TAI64Base {
		return
	}

	unixSec := int64(tai64Sec - TAI64Base)
	if unixSec <= 0 || unixSec >= 253402300800 { // Sanity check: before year 10000
		return
	}

	st.Since = time.Unix(unixSec, int64(tai64Nano))
	// Uptime is a snapshot; clamp to zero against clock skew
	if uptime := time.Since(st.Since); uptime >= 0 {
		st.Uptime = uptime
	}
}

// decodeFlags decodes the unit flags
func decodeFlags(st *Status, data []byte) {
	wantFlag := data[offsetWant]

	st.Flags.WantUp = wantFlag == 'u'
	st.Flags.WantDown = wantFlag == 'd'
	st.Flags.NormallyUp = st.Flags.WantUp
}

// determineState infers the unit state from flags and PID
func determineState(pid int, flags Flags, data []byte) State {
	isRunning := pid > 0
	isTerming := data[offsetTerm] != 0

	switch {
	case !isRunning && flags.WantDown:
		return StateDown
	case !isRunning && flags.WantUp:
		return StateCrashed
	case isRunning && isTerming:
		return StateStopping
	case isRunning && flags.WantDown:
		return StateStopping
	case isRunning && flags.WantUp:
		return StateRunning
	case isRunning:
		return StateRunning
	default:
		return StateUnknown
	}
}
