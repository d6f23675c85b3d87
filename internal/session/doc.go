// Package session provides per-client session handling and the active-session bookkeeping.
// A Handler streams one catalog item's fragments to a peer with fixed pacing, while the
// Manager tracks in-flight sessions and owns the process-wide Counter.
package session
