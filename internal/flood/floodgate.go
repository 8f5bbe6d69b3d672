// Package flood provides per-client request limiting for the HTTP API.
package flood

import (
	"sync"
	"time"
)

const (
	// windowDuration is the sliding window requests are counted over (one minute)
	windowDuration = 60 * time.Second
	// cleanupInterval is how often idle clients are swept
	cleanupInterval = 10 * time.Minute
	// idleTimeout is how long a client may stay silent before its entry is dropped
	idleTimeout = 10 * time.Minute
)

// Floodgate limits requests per client over a sliding one-minute window.
// Every API request may start a browser, so the limit is per client rather than global.
type Floodgate struct {
	limitPerMinute int                     // Maximum requests per client per window
	entries        map[string]*clientEntry // Key: client address
	mutex          sync.RWMutex
	stopCleanup    chan struct{}
	stopOnce       sync.Once
}

// clientEntry holds the accepted requests of one client inside the window
type clientEntry struct {
	accepted []time.Time // Oldest first
	lastSeen time.Time   // Last request, accepted or not (for cleanup)
}

// expire drops accepted requests that fell out of the window ending at now.
func (e *clientEntry) expire(now time.Time) {
	windowStart := now.Add(-windowDuration)
	kept := e.accepted[:0] // Reuse slice capacity
	for _, ts := range e.accepted {
		if ts.After(windowStart) {
			kept = append(kept, ts)
		}
	}
	e.accepted = kept
}

// freeAt is when the oldest accepted request leaves the window.
func (e *clientEntry) freeAt() time.Time {
	if len(e.accepted) == 0 {
		return time.Time{}
	}
	return e.accepted[0].Add(windowDuration)
}

// New creates a Floodgate allowing limitPerMinute requests per client.
// Idle clients are swept in the background until Stop is called.
func New(limitPerMinute int) *Floodgate {
	fg := &Floodgate{
		limitPerMinute: limitPerMinute,
		entries:        make(map[string]*clientEntry),
		stopCleanup:    make(chan struct{}),
	}

	go fg.cleanup()

	return fg
}

// Stop ends the background sweep. It is safe to call more than once.
func (fg *Floodgate) Stop() {
	fg.stopOnce.Do(func() {
		close(fg.stopCleanup)
	})
}

// Allow records a request from clientID and reports whether it is within the limit.
// Rejected requests do not count against the window.
func (fg *Floodgate) Allow(clientID string) bool {
	now := time.Now()

	fg.mutex.Lock()
	defer fg.mutex.Unlock()

	entry, exists := fg.entries[clientID]
	if !exists {
		entry = &clientEntry{accepted: make([]time.Time, 0, fg.limitPerMinute+1)}
		fg.entries[clientID] = entry
	}
	entry.lastSeen = now
	entry.expire(now)

	if len(entry.accepted) >= fg.limitPerMinute {
		return false
	}

	entry.accepted = append(entry.accepted, now)
	return true
}

// RetryAfter returns how long clientID has to wait until its oldest request leaves the window.
// Zero means a request would be accepted now.
func (fg *Floodgate) RetryAfter(clientID string) time.Duration {
	fg.mutex.RLock()
	defer fg.mutex.RUnlock()

	entry, exists := fg.entries[clientID]
	if !exists {
		return 0
	}

	return max(time.Until(entry.freeAt()), 0)
}

// cleanup sweeps idle clients until Stop is called
func (fg *Floodgate) cleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fg.performCleanup()
		case <-fg.stopCleanup:
			return
		}
	}
}

// performCleanup forgets clients that have not sent a request within idleTimeout
func (fg *Floodgate) performCleanup() {
	cutoff := time.Now().Add(-idleTimeout)

	fg.mutex.Lock()
	defer fg.mutex.Unlock()

	for client, entry := range fg.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(fg.entries, client)
		}
	}
}

// GetStats reports the limiter state for the metrics endpoint
func (fg *Floodgate) GetStats() Stats {
	fg.mutex.RLock()
	defer fg.mutex.RUnlock()

	return Stats{
		ActiveClients:  len(fg.entries),
		LimitPerMinute: fg.limitPerMinute,
		WindowSeconds:  int(windowDuration.Seconds()),
	}
}

// Stats is a snapshot of the limiter
type Stats struct {
	ActiveClients  int `json:"active_clients"`
	LimitPerMinute int `json:"limit_per_minute"`
	WindowSeconds  int `json:"window_seconds"`
}
