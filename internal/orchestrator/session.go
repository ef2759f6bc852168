// Package orchestrator implements the two-phase consultation engine: the
// per-session state machine, the consultation and generation adapters over
// the inference provider, and the artifact registry.
package orchestrator

import (
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/ashureev/prdesk/internal/domain"
)

// Session holds the state of one conversational engagement.
//
// opMu serializes SubmitUtterance and RequestGeneration for the session and is
// held across the provider call. stateMu guards the fields below it for short
// reads and writes, so snapshots never wait on the provider.
type Session struct {
	ID        string
	OwnerID   string
	CreatedAt time.Time

	opMu sync.Mutex

	stateMu       sync.RWMutex
	stage         domain.Stage
	context       domain.Context
	history       []domain.Turn
	ready         bool
	artifactTypes []string
	lastActive    time.Time

	registry Registry
}

func newSession(id, ownerID string, seed domain.Context, now time.Time) *Session {
	return &Session{
		ID:         id,
		OwnerID:    ownerID,
		CreatedAt:  now,
		stage:      domain.StageDiscovery,
		context:    seed.Clone(),
		lastActive: now,
	}
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() domain.SessionSnapshot {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	types := slices.Clone(s.artifactTypes)
	if types == nil {
		types = []string{}
	}
	ctx := s.context.Clone()
	return domain.SessionSnapshot{
		ID:                     s.ID,
		OwnerID:                s.OwnerID,
		Stage:                  s.stage,
		Context:                ctx,
		ContextMap:             ctx.ToMap(),
		History:                slices.Clone(s.history),
		ReadyToGenerate:        s.ready,
		AvailableArtifactTypes: types,
		ArtifactCount:          s.registry.Len(),
		CreatedAt:              s.CreatedAt,
		LastActiveAt:           s.lastActive,
	}
}

// Artifacts yields the session's artifacts in insertion order.
func (s *Session) Artifacts() iter.Seq[domain.Artifact] {
	return s.registry.List()
}

// LastActive returns the time of the last recorded turn.
func (s *Session) LastActive() time.Time {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.lastActive
}

func (s *Session) appendTurn(turn domain.Turn) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.history = append(s.history, turn)
	s.lastActive = turn.At
}

// apply commits a consultation result in one critical section: context is
// merged, stage replaced, the reply appended, readiness and options replaced.
// Absent fields leave the session untouched.
// An unknown stage keeps the previous one and is reported as ErrUnknownStage;
// the rest of the result still applies.
func (s *Session) apply(res *Consultation, reply domain.Turn) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	var stageErr error
	if res.Stage != nil {
		if stage, ok := domain.ParseStage(*res.Stage); ok {
			s.stage = stage
		} else {
			stageErr = fmt.Errorf("%w: %q", ErrUnknownStage, *res.Stage)
		}
	}
	if len(res.ContextDelta) > 0 {
		s.context.Merge(res.ContextDelta)
	}
	if res.ReadyToGenerate != nil {
		s.ready = *res.ReadyToGenerate
	}
	if res.HasOptions {
		s.artifactTypes = slices.Clone(res.Options)
	}
	// Options are only offered once the provider has declared readiness.
	if !s.ready {
		s.artifactTypes = nil
	}
	s.history = append(s.history, reply)
	s.lastActive = reply.At
	return stageErr
}
