// Package vk provides a client for the VK API methods used by the harvester.
//
// This package includes:
//   - A client that signs every request with the access token and API version
//   - Outcome classification of each call (success, API error, transport
//     failure, malformed payload, invalid request)
//   - Models for users.get and wall.get payloads
//   - Helpers for building method parameters
//
// The client never retries or sleeps on its own. Deciding what to do with a
// failed call is left to the crawl loop.
//
// Example usage:
//
//	client := vk.NewClient(&cfg.VK, ratelimit.NewRequestLimiter(3, 3), log)
//
//	res := client.FetchPosts(ctx, "durov", 0, 100, nil)
//	switch res.Outcome {
//	case vk.OutcomeSuccess:
//	    for _, post := range res.Value.Items {
//	        // handle post
//	    }
//	case vk.OutcomeAPIError:
//	    // consult the error-code policy for res.APIError.Code
//	}
package vk
