package clogger

import "time"

// currentUnixTime returns the current wall-clock time as Unix seconds, the
// unit csetLog's timestamp column is stored in.
func currentUnixTime() int64 {
	return time.Now().Unix()
}
