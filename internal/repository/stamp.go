package repository

import "time"

// nextStamp returns the stamp for a write accepted at now when the store
// currently holds current. Stamps are wall-clock milliseconds but always
// strictly increase, even if the clock steps back.
func nextStamp(now time.Time, current int64) int64 {
	stamp := now.UnixMilli()
	if stamp <= current {
		stamp = current + 1
	}
	return stamp
}
