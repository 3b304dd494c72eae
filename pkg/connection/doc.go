// Package connection manages the lifetime of a device agent's link to
// the signage server.
//
// A display device is expected to stay connected for weeks at a time.
// When the link drops the agent must get back online without operator
// help, so the package provides:
//
//   - Exponential backoff with jitter for redial attempts
//   - A supervisor that owns the dial/retry loop and reports state
//
// The dial function handed to the supervisor typically runs the whole
// recovery sequence: rediscover the server, open the transport and
// re-register. Backoff starts at 1s, doubles up to 60s, and resets
// only after a dial succeeds.
package connection
