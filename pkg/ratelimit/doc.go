// Package ratelimit paces requests to the VK API.
//
// Two mechanisms work together:
//
// BurstPacer:
//   - counts consecutive successful requests
//   - asks the crawl loop for a pause once the count reaches the burst size
//   - can be forced due after a "too many requests" error
//   - its pause interval only ever grows
//
// RequestLimiter:
//   - a golang.org/x/time/rate token bucket applied inside the API client
//   - keeps the client under the provider's per-second cap
//   - a non-positive rate disables it
//
// Usage:
//
//	pacer := ratelimit.NewBurstPacer(3, time.Second)
//	if pacer.Due() {
//	    sleep(pacer.Interval())
//	    pacer.Reset()
//	}
//
//	limiter := ratelimit.NewRequestLimiter(3, 3)
//	if err := limiter.Wait(ctx); err != nil {
//	    return err
//	}
package ratelimit
