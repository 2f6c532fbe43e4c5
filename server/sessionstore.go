/******************************************************************************
 *
 *  Description :
 *
 *  Management of the set of live sessions.
 *
 *****************************************************************************/

package main

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/oxytalk/chat/server/logs"
)

// SessionStore holds live sessions, indexed by session ID.
type SessionStore struct {
	lock sync.Mutex

	sessCache map[string]*Session
}

// NewSession creates a new session and saves it to the session store.
func (ss *SessionStore) NewSession(conn *websocket.Conn) (*Session, int) {
	var s Session

	s.sid = uuid.NewString()
	s.ws = conn
	s.subs = make(map[string]*Subscription)
	s.send = make(chan any, sendQueueLimit)
	s.stop = make(chan any, 1) // Buffered by 1 just to make it non-blocking
	s.detach = make(chan string, 64)
	s.lastAction = time.Now()

	ss.lock.Lock()
	ss.sessCache[s.sid] = &s
	count := len(ss.sessCache)
	ss.lock.Unlock()

	statsSessionsSet(count)

	return &s, count
}

// Delete removes the session from the store.
func (ss *SessionStore) Delete(s *Session) int {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	delete(ss.sessCache, s.sid)
	count := len(ss.sessCache)
	statsSessionsSet(count)
	return count
}

// Range applies the given function to all live sessions, stopping early if
// it returns false.
func (ss *SessionStore) Range(f func(sess *Session) bool) {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	for _, s := range ss.sessCache {
		if !f(s) {
			break
		}
	}
}

// Shutdown terminates the sessionStore. No need to clean up.
func (ss *SessionStore) Shutdown() {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	shutdown := NoErrShutdown(time.Now().UTC().Round(time.Millisecond))
	for _, s := range ss.sessCache {
		if s.stop != nil {
			s.stop <- s.serialize(shutdown)
		}
	}

	logs.Info.Printf("SessionStore shut down, sessions terminated: %d", len(ss.sessCache))
}

// NewSessionStore initializes the session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessCache: make(map[string]*Session),
	}
}
