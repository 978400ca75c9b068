// Package retry holds the recovery rules of the crawler.
//
// PolicyTable maps API error codes to an Action:
//
//	code 1   unknown error          sleep the transient delay
//	code 6   too many requests/sec  force pacing, grow the pacing interval by 1s
//	code 10  internal server error  sleep the transient delay
//	code 14  captcha needed         wait for an operator to solve it
//	code 29  rate limit reached     sleep the rate sleep interval
//	other                           fatal
//
// Do retries local operations such as checkpoint and file flushes with a
// BackoffStrategy:
//
//	err := retry.Do(func() error {
//		return store.SaveOffsets(offsets)
//	}, &retry.Config{MaxAttempts: 3, Backoff: retry.DefaultExponentialBackoff()})
//
// Wait and Sleeper provide context-aware pauses; tests substitute a
// Sleeper that records durations instead of sleeping.
package retry
