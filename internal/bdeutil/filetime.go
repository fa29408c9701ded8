package bdeutil

import "time"

// filetimeEpochOffset is the number of 100ns intervals between the Windows
// FILETIME epoch (1601-01-01) and the Unix epoch (1970-01-01).
const filetimeEpochOffset = 116444736000000000

// FILETimeToUnix converts a raw Windows FILETIME (100ns intervals since
// 1601-01-01) into a time.Time. The core never formats this for display
// (that is an external collaborator's job per the specification); it is
// exposed only as a typed accessor.
func FILETimeToUnix(filetime uint64) time.Time {
	if filetime < filetimeEpochOffset {
		return time.Unix(0, 0).UTC()
	}
	hundredNs := int64(filetime - filetimeEpochOffset)
	return time.Unix(0, hundredNs*100).UTC()
}
