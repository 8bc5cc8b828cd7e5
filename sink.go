package supervise

import (
	"gopkg.in/natefinch/lumberjack.v2"
)

// newSink returns the rotated log file the unit process writes to.
// lumberjack handles size/age rotation so a chatty process cannot fill the
// disk between operator visits.
func newSink(u *Unit) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   u.Log.Path,
		MaxSize:    u.Log.MaxSizeMB,
		MaxBackups: u.Log.MaxBackups,
		MaxAge:     u.Log.MaxAgeDays,
		Compress:   u.Log.Compress,
	}
}
