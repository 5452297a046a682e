package mvcc

import "time"

// nowFunc is the wall clock used to stamp Lock TTLs. It is a variable
// rather than a direct time.Now() call so lock-expiry tests can simulate
// elapsed time without sleeping.
var nowFunc = func() int64 { return time.Now().UnixNano() }
