package pipeline

import "sync"

// sessionLocks hands out one RWMutex per session and forgets it once no
// caller holds or waits on it.
type sessionLocks struct {
	mu sync.Mutex
	m  map[string]*sessionLock
}

type sessionLock struct {
	sync.RWMutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{m: make(map[string]*sessionLock)}
}

func (l *sessionLocks) acquire(session string) *sessionLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	sl, ok := l.m[session]
	if !ok {
		sl = &sessionLock{}
		l.m[session] = sl
	}
	sl.refs++
	return sl
}

func (l *sessionLocks) release(session string, sl *sessionLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sl.refs--
	if sl.refs == 0 {
		delete(l.m, session)
	}
}

// Lock takes the session's write lock and returns its release func.
func (l *sessionLocks) Lock(session string) func() {
	sl := l.acquire(session)
	sl.Lock()
	return func() {
		sl.Unlock()
		l.release(session, sl)
	}
}

// RLock takes the session's read lock and returns its release func.
func (l *sessionLocks) RLock(session string) func() {
	sl := l.acquire(session)
	sl.RLock()
	return func() {
		sl.RUnlock()
		l.release(session, sl)
	}
}

func (l *sessionLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
