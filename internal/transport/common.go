package transport

import "time"

// pollTimeout bounds how long a backend blocks waiting for the next batch
// before checking for context cancellation again.
const pollTimeout = 2 * time.Second

// timeNow is overridable in tests.
var timeNow = time.Now
