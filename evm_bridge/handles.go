package evmbridge

import (
	"sync"
	"sync/atomic"
)

// handleMap keeps the sessions that host natives may refer to by handle. The
// key type is uintptr so that handles can be stored in host values that only
// carry plain integers.
var handleMap sync.Map // map[uintptr]*Session

// handleSeq yields unique, non-zero handles. Zero is reserved for "none".
var handleSeq atomic.Uintptr

// NewSessionHandle registers s and returns a handle for it.
func NewSessionHandle(s *Session) uintptr {
	if s == nil {
		return 0
	}
	h := handleSeq.Add(1)
	handleMap.Store(h, s)
	return h
}

// LookupSession returns the session registered under h.
func LookupSession(h uintptr) (*Session, bool) {
	if v, ok := handleMap.Load(h); ok {
		return v.(*Session), true
	}
	return nil, false
}

// ReleaseSession removes h. Later lookups of h fail.
func ReleaseSession(h uintptr) {
	handleMap.Delete(h)
}
