package searcher

import (
	"context"
	"sync"
)

// InstantSession tracks one client's typing session. Every keystroke issues
// a new sequence number and only the response for the newest one is
// accepted, so a slow earlier request can never overwrite a later one.
type InstantSession struct {
	mu     sync.Mutex
	seq    uint64
	latest string
}

// Begin records input as the newest query and returns its sequence number.
func (s *InstantSession) Begin(input string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.latest = input
	return s.seq
}

// Accept reports whether seq is still the newest request.
func (s *InstantSession) Accept(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return seq == s.seq
}

func (s *InstantSession) Latest() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Run issues an instant search for input and reports whether its response
// is still current once it returns.
func (s *InstantSession) Run(ctx context.Context, svc *Service, input string, limit int) (*Response, bool) {
	seq := s.Begin(input)
	resp := svc.InstantSearch(ctx, input, limit)
	return resp, s.Accept(seq)
}
