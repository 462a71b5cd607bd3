package llm

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
)

// Probe reports whether a backend can serve requests on this host.
type Probe func(ctx context.Context) bool

// Candidate pairs a backend with its availability probe.
type Candidate struct {
	Backend Backend
	Probe   Probe
}

// Selector picks the first available local backend and remembers the choice.
type Selector struct {
	mu         sync.Mutex
	candidates []Candidate
	resolved   Backend
	logger     *logrus.Logger
}

// NewSelector builds a selector over candidates in preference order.
// Candidates without a backend are ignored so optional slots can be passed as nil.
func NewSelector(logger *logrus.Logger, candidates ...Candidate) *Selector {
	kept := make([]Candidate, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate.Backend == nil {
			continue
		}
		kept = append(kept, candidate)
	}
	return &Selector{candidates: kept, logger: logger}
}

// Resolve returns the cached backend or probes the candidates in order.
// A failed resolution is not cached.
func (s *Selector) Resolve(ctx context.Context) (Backend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resolved != nil {
		return s.resolved, nil
	}

	for _, candidate := range s.candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if candidate.Probe != nil && !candidate.Probe(ctx) {
			continue
		}
		s.resolved = candidate.Backend
		if s.logger != nil {
			s.logger.WithField("component", "llm.selector").WithField("backend", candidate.Backend.Name()).Info("local backend selected")
		}
		return s.resolved, nil
	}

	return nil, eris.Wrapf(ErrNoBackend, "probed %d candidates", len(s.candidates))
}

// Reset drops the cached choice so the next Resolve probes again.
func (s *Selector) Reset() {
	s.mu.Lock()
	s.resolved = nil
	s.mu.Unlock()
}

// Ready reports whether any backend resolves right now.
func (s *Selector) Ready(ctx context.Context) bool {
	_, err := s.Resolve(ctx)
	return err == nil
}
