/******************************************************************************
 *
 *  Description :
 *
 *    Tracking of which users are currently reachable. A user is online while
 *    at least one of their connections is live. The registry counts live
 *    connections per user: a single-slot "last socket wins" map would flap
 *    offline when one of several sessions of the same user closes.
 *
 *****************************************************************************/

package main

import (
	"sync"

	"github.com/oxytalk/chat/server/store/types"
)

// presenceRegistry is a reference-counted set of online users.
type presenceRegistry struct {
	lock sync.Mutex

	// Live connection count per user. No entry means 0.
	counts map[types.Uid]int
}

func newPresenceRegistry() *presenceRegistry {
	return &presenceRegistry{
		counts: make(map[types.Uid]int),
	}
}

// connectionOpened increments the user's live connection count. Returns true
// on the 0->1 transition, i.e. when the user just came online.
func (pr *presenceRegistry) connectionOpened(uid types.Uid) bool {
	if uid.IsZero() {
		return false
	}

	pr.lock.Lock()
	defer pr.lock.Unlock()

	pr.counts[uid]++
	return pr.counts[uid] == 1
}

// connectionClosed decrements the user's live connection count. Returns true
// on the 1->0 transition, i.e. when the user just went offline. Closing a
// connection which was never opened is a no-op; the count never goes
// negative.
func (pr *presenceRegistry) connectionClosed(uid types.Uid) bool {
	if uid.IsZero() {
		return false
	}

	pr.lock.Lock()
	defer pr.lock.Unlock()

	count, ok := pr.counts[uid]
	if !ok {
		return false
	}
	if count <= 1 {
		delete(pr.counts, uid)
		return true
	}
	pr.counts[uid] = count - 1
	return false
}

// isOnline checks if the user has at least one live connection.
func (pr *presenceRegistry) isOnline(uid types.Uid) bool {
	pr.lock.Lock()
	defer pr.lock.Unlock()

	return pr.counts[uid] > 0
}

// onlineCount returns the number of distinct online users.
func (pr *presenceRegistry) onlineCount() int {
	pr.lock.Lock()
	defer pr.lock.Unlock()

	return len(pr.counts)
}
