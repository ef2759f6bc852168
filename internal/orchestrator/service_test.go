package orchestrator

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/prdesk/internal/domain"
	"github.com/ashureev/prdesk/internal/inference"
	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(p *fakeProvider, opts ...Option) (*Service, *Manager) {
	return NewService(p, opts...), NewManager()
}

func TestSubmitUtteranceMergesContextAndStage(t *testing.T) {
	p := &fakeProvider{consultFn: func(_ context.Context, req inference.ConsultRequest) (*inference.ConsultResponse, error) {
		return &inference.ConsultResponse{
			Response: ptr("Nice to meet you, Acme Corp. What are you launching?"),
			Context:  map[string]any{"companyName": "Acme Corp", "industry": "SaaS"},
			Stage:    ptr("refinement"),
		}, nil
	}}
	svc, mgr := newTestService(p)
	sess := mgr.Create("owner-1", domain.Context{})

	reply, err := svc.SubmitUtterance(context.Background(), sess, "We are Acme Corp, an enterprise SaaS company")
	require.NoError(t, err)

	snap := sess.Snapshot()
	assert.Equal(t, domain.StageRefinement, snap.Stage)
	assert.Equal(t, "Acme Corp", snap.Context.CompanyName)
	assert.Equal(t, "SaaS", snap.Context.Industry)
	assert.Equal(t, domain.StageRefinement, reply.Stage)
	assert.False(t, reply.Degraded)

	require.Len(t, snap.History, 2)
	assert.Equal(t, domain.TurnUser, snap.History[0].Type)
	assert.Equal(t, "We are Acme Corp, an enterprise SaaS company", snap.History[0].Content)
	assert.Equal(t, domain.TurnAssistant, snap.History[1].Type)
}

func TestSubmitUtteranceRejectsBlankInput(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t"} {
		p := &fakeProvider{}
		svc, mgr := newTestService(p)
		sess := mgr.Create("owner-1", domain.Context{})

		reply, err := svc.SubmitUtterance(context.Background(), sess, text)
		require.ErrorIs(t, err, ErrInvalidInput)
		assert.Nil(t, reply)
		assert.Empty(t, sess.Snapshot().History)
		assert.Zero(t, p.consultCount(), "provider must not be contacted")
	}
}

func TestSubmitUtteranceTimeoutDegrades(t *testing.T) {
	p := &fakeProvider{consultFn: func(ctx context.Context, _ inference.ConsultRequest) (*inference.ConsultResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	svc, mgr := newTestService(p, WithProviderTimeout(20*time.Millisecond))
	sess := mgr.Create("owner-1", domain.ContextFromMap(map[string]any{"companyName": "Acme Corp"}))
	before := sess.Snapshot()

	reply, err := svc.SubmitUtterance(context.Background(), sess, "Our launch is next month")
	require.ErrorIs(t, err, ErrProviderUnavailable)
	require.NotNil(t, reply)
	assert.True(t, reply.Degraded)
	assert.Equal(t, FallbackReply, reply.Text)

	after := sess.Snapshot()
	assert.Equal(t, before.Stage, after.Stage)
	assert.Equal(t, before.Context, after.Context)
	require.Len(t, after.History, 2)
	assert.Equal(t, domain.TurnUser, after.History[0].Type)
	assert.Equal(t, domain.TurnError, after.History[1].Type)
	assert.Equal(t, FallbackReply, after.History[1].Content)
}

func TestSubmitUtteranceHonorsCallerDeadline(t *testing.T) {
	p := &fakeProvider{consultFn: func(ctx context.Context, _ inference.ConsultRequest) (*inference.ConsultResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	svc, mgr := newTestService(p, WithProviderTimeout(time.Hour))
	sess := mgr.Create("owner-1", domain.Context{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := svc.SubmitUtterance(ctx, sess, "hello")
	require.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestSubmitUtteranceContractViolation(t *testing.T) {
	tests := []struct {
		name string
		fn   func(context.Context, inference.ConsultRequest) (*inference.ConsultResponse, error)
	}{
		{
			name: "missing reply",
			fn: func(context.Context, inference.ConsultRequest) (*inference.ConsultResponse, error) {
				return &inference.ConsultResponse{Stage: ptr("ready"), Context: map[string]any{"industry": "Retail"}}, nil
			},
		},
		{
			name: "undecodable body",
			fn: func(context.Context, inference.ConsultRequest) (*inference.ConsultResponse, error) {
				return nil, inference.ErrMalformedResponse
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, mgr := newTestService(&fakeProvider{consultFn: tt.fn})
			sess := mgr.Create("owner-1", domain.Context{})

			reply, err := svc.SubmitUtterance(context.Background(), sess, "hello")
			require.ErrorIs(t, err, ErrProviderContractViolation)
			assert.True(t, reply.Degraded)

			snap := sess.Snapshot()
			assert.Equal(t, domain.StageDiscovery, snap.Stage)
			assert.True(t, snap.Context.IsEmpty())
			require.Len(t, snap.History, 2)
			assert.Equal(t, domain.TurnError, snap.History[1].Type)
		})
	}
}

func TestSubmitUtteranceUnknownStageKeepsPrevious(t *testing.T) {
	stages := []string{"refinement", "closed"}
	var call atomic.Int32
	p := &fakeProvider{consultFn: func(context.Context, inference.ConsultRequest) (*inference.ConsultResponse, error) {
		i := call.Add(1) - 1
		return &inference.ConsultResponse{
			Response: ptr("noted"),
			Stage:    ptr(stages[i]),
			Context:  map[string]any{"notes": stages[i]},
		}, nil
	}}
	svc, mgr := newTestService(p)
	sess := mgr.Create("owner-1", domain.Context{})

	_, err := svc.SubmitUtterance(context.Background(), sess, "first")
	require.NoError(t, err)

	reply, err := svc.SubmitUtterance(context.Background(), sess, "second")
	require.ErrorIs(t, err, ErrUnknownStage)
	require.NotNil(t, reply)
	assert.Equal(t, domain.StageRefinement, reply.Stage)

	snap := sess.Snapshot()
	assert.Equal(t, domain.StageRefinement, snap.Stage)
	assert.Equal(t, "closed", snap.Context.Notes, "rest of the response still applies")
	assert.Len(t, snap.History, 4)
}

func TestSubmitUtteranceAcceptsStageRegression(t *testing.T) {
	stages := []string{"ready", "refinement"}
	var call atomic.Int32
	p := &fakeProvider{consultFn: func(context.Context, inference.ConsultRequest) (*inference.ConsultResponse, error) {
		i := call.Add(1) - 1
		return &inference.ConsultResponse{Response: ptr("ok"), Stage: ptr(stages[i])}, nil
	}}
	svc, mgr := newTestService(p)
	sess := mgr.Create("owner-1", domain.Context{})

	for _, text := range []string{"one", "two"} {
		_, err := svc.SubmitUtterance(context.Background(), sess, text)
		require.NoError(t, err)
	}
	assert.Equal(t, domain.StageRefinement, sess.Snapshot().Stage)
}

func TestAbsentFieldsLeaveSessionUnchanged(t *testing.T) {
	responses := []*inference.ConsultResponse{
		{
			Response:          ptr("Ready when you are."),
			Stage:             ptr("ready"),
			ReadyToGenerate:   ptr(true),
			GenerationOptions: &inference.GenerationOptions{Types: []string{"press-release", "media-list"}},
			Context:           map[string]any{"productName": "Rocket"},
		},
		{Response: ptr("Anything else?")},
	}
	var call atomic.Int32
	p := &fakeProvider{consultFn: func(context.Context, inference.ConsultRequest) (*inference.ConsultResponse, error) {
		return responses[call.Add(1)-1], nil
	}}
	svc, mgr := newTestService(p)
	sess := mgr.Create("owner-1", domain.Context{})

	_, err := svc.SubmitUtterance(context.Background(), sess, "Our product is Rocket")
	require.NoError(t, err)
	reply, err := svc.SubmitUtterance(context.Background(), sess, "That's it")
	require.NoError(t, err)

	assert.True(t, reply.ReadyToGenerate)
	assert.Equal(t, []string{"press-release", "media-list"}, reply.ArtifactTypes)

	snap := sess.Snapshot()
	assert.Equal(t, domain.StageReady, snap.Stage)
	assert.Equal(t, "Rocket", snap.Context.ProductName)
	assert.Equal(t, []string{"press-release", "media-list"}, snap.AvailableArtifactTypes)
}

func TestOptionsStayEmptyWithoutReadiness(t *testing.T) {
	p := &fakeProvider{consultFn: func(context.Context, inference.ConsultRequest) (*inference.ConsultResponse, error) {
		return &inference.ConsultResponse{
			Response:          ptr("Tell me more"),
			GenerationOptions: &inference.GenerationOptions{Types: []string{"press-release"}},
		}, nil
	}}
	svc, mgr := newTestService(p)
	sess := mgr.Create("owner-1", domain.Context{})

	for range 3 {
		reply, err := svc.SubmitUtterance(context.Background(), sess, "more")
		require.NoError(t, err)
		assert.Empty(t, reply.ArtifactTypes)
	}
	assert.Empty(t, sess.Snapshot().AvailableArtifactTypes)
}

func TestHistoryGrowsTwoTurnsPerCall(t *testing.T) {
	failing := map[int32]bool{2: true}
	var call atomic.Int32
	p := &fakeProvider{consultFn: func(context.Context, inference.ConsultRequest) (*inference.ConsultResponse, error) {
		if failing[call.Add(1)] {
			return nil, errors.New("connection reset")
		}
		return &inference.ConsultResponse{Response: ptr("ok")}, nil
	}}
	svc, mgr := newTestService(p)
	sess := mgr.Create("owner-1", domain.Context{})

	for i := range 4 {
		_, _ = svc.SubmitUtterance(context.Background(), sess, "message")
		assert.Len(t, sess.Snapshot().History, 2*(i+1))
	}
}

func TestConsultReceivesPriorHistory(t *testing.T) {
	p := &fakeProvider{}
	svc, mgr := newTestService(p)
	sess := mgr.Create("owner-1", domain.ContextFromMap(map[string]any{"companyName": "Acme Corp"}))

	_, err := svc.SubmitUtterance(context.Background(), sess, "first")
	require.NoError(t, err)
	_, err = svc.SubmitUtterance(context.Background(), sess, "second")
	require.NoError(t, err)

	p.mu.Lock()
	defer p.mu.Unlock()
	require.Len(t, p.consultCalls, 2)
	last := p.consultCalls[1]
	assert.Equal(t, "second", last.Message)
	assert.Equal(t, []inference.Message{{Type: "user", Content: "first"}, {Type: "assistant", Content: "ok"}}, last.Messages)
	assert.Equal(t, "Acme Corp", last.Context["companyName"])
}

func TestRequestGenerationRecordsArtifact(t *testing.T) {
	p := &fakeProvider{generateFn: func(_ context.Context, req inference.GenerateRequest) (*inference.GenerateResponse, error) {
		return &inference.GenerateResponse{Success: true, WorkItem: &inference.WorkItem{
			Type:             "press-release",
			Title:            "Acme Launches Rocket",
			Description:      "Launch announcement",
			GeneratedContent: map[string]any{"body": "FOR IMMEDIATE RELEASE"},
			Metadata:         map[string]any{"words": 400},
		}}, nil
	}}
	sink := &recordingSink{}
	svc, mgr := newTestService(p, WithArtifactSink(sink))
	sess := mgr.Create("owner-1", domain.ContextFromMap(map[string]any{"companyName": "Acme Corp", "goals": []any{"launch"}}))

	_, err := svc.SubmitUtterance(context.Background(), sess, "Focus on developers")
	require.NoError(t, err)

	artifact, err := svc.RequestGeneration(context.Background(), sess, "press-release", "")
	require.NoError(t, err)
	assert.Equal(t, "press-release", artifact.Type)
	assert.Equal(t, 1, artifact.Seq)
	assert.Equal(t, sess.ID, artifact.SessionID)

	listed := svc.ListArtifacts(sess)
	require.Len(t, listed, 1)
	assert.Equal(t, "press-release", listed[0].Type)

	snap := sess.Snapshot()
	last := snap.History[len(snap.History)-1]
	assert.Equal(t, domain.TurnSystem, last.Type)
	assert.Contains(t, last.Content, "Acme Launches Rocket")

	req := p.lastGenerate()
	assert.Equal(t, "press-release", req.Type)
	assert.Equal(t, "Focus on developers", req.Requirements)
	assert.Equal(t, "Acme Corp", req.Context["companyName"])
	assert.Equal(t, []string{"launch"}, req.Context["goals"])
	assert.Equal(t, "Focus on developers\nok", req.Context[inference.ConversationSummaryKey])

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.artifacts, 1)
	assert.Equal(t, artifact.Title, sink.artifacts[0].Title)
}

func TestRequestGenerationExplicitRequirements(t *testing.T) {
	p := &fakeProvider{}
	svc, mgr := newTestService(p)
	sess := mgr.Create("owner-1", domain.Context{})

	_, err := svc.RequestGeneration(context.Background(), sess, "media-list", "tier-1 outlets only")
	require.NoError(t, err)
	assert.Equal(t, "tier-1 outlets only", p.lastGenerate().Requirements)
}

func TestRequestGenerationNotBlockedBeforeReadiness(t *testing.T) {
	p := &fakeProvider{}
	svc, mgr := newTestService(p)
	sess := mgr.Create("owner-1", domain.Context{})
	require.False(t, sess.Snapshot().ReadyToGenerate)

	artifact, err := svc.RequestGeneration(context.Background(), sess, "strategy-plan", "")
	require.NoError(t, err)
	assert.Equal(t, "strategy-plan", artifact.Type)
	assert.Empty(t, p.lastGenerate().Requirements)
}

func TestRequestGenerationFailure(t *testing.T) {
	p := &fakeProvider{generateFn: func(context.Context, inference.GenerateRequest) (*inference.GenerateResponse, error) {
		return &inference.GenerateResponse{Success: false, Error: "insufficient context"}, nil
	}}
	sink := &recordingSink{}
	svc, mgr := newTestService(p, WithArtifactSink(sink))
	sess := mgr.Create("owner-1", domain.ContextFromMap(map[string]any{"industry": "SaaS"}))
	before := sess.Snapshot()

	artifact, err := svc.RequestGeneration(context.Background(), sess, "press-release", "")
	require.ErrorIs(t, err, ErrGenerationFailed)
	assert.Nil(t, artifact)
	assert.Empty(t, svc.ListArtifacts(sess))
	assert.Empty(t, sink.artifacts)

	after := sess.Snapshot()
	assert.Equal(t, before.Stage, after.Stage)
	assert.Equal(t, before.Context, after.Context)
	require.Len(t, after.History, 1)
	assert.Equal(t, domain.TurnError, after.History[0].Type)
	assert.Contains(t, after.History[0].Content, "insufficient context")
}

func TestRequestGenerationMissingWorkItem(t *testing.T) {
	p := &fakeProvider{generateFn: func(context.Context, inference.GenerateRequest) (*inference.GenerateResponse, error) {
		return &inference.GenerateResponse{Success: true}, nil
	}}
	svc, mgr := newTestService(p)
	sess := mgr.Create("owner-1", domain.Context{})

	_, err := svc.RequestGeneration(context.Background(), sess, "press-release", "")
	require.ErrorIs(t, err, ErrProviderContractViolation)
	assert.Zero(t, sess.Snapshot().ArtifactCount)
}

func TestRequestGenerationRejectsMissingType(t *testing.T) {
	p := &fakeProvider{}
	svc, mgr := newTestService(p)
	sess := mgr.Create("owner-1", domain.Context{})

	_, err := svc.RequestGeneration(context.Background(), sess, "  ", "")
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Empty(t, sess.Snapshot().History)
	p.mu.Lock()
	assert.Empty(t, p.generateCalls)
	p.mu.Unlock()
}

func TestArtifactsListedInInsertionOrder(t *testing.T) {
	p := &fakeProvider{}
	svc, mgr := newTestService(p)
	sess := mgr.Create("owner-1", domain.Context{})

	for _, typ := range []string{"media-list", "press-release"} {
		_, err := svc.RequestGeneration(context.Background(), sess, typ, "")
		require.NoError(t, err)
	}

	var types []string
	for a := range sess.Artifacts() {
		types = append(types, a.Type)
	}
	assert.Equal(t, []string{"media-list", "press-release"}, types)

	// The sequence can be ranged again.
	again := slices.Collect(sess.Artifacts())
	require.Len(t, again, 2)
	assert.Equal(t, 1, again[0].Seq)
	assert.Equal(t, 2, again[1].Seq)
}

func TestSameSessionCallsAreSerialized(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	p := &fakeProvider{consultFn: func(context.Context, inference.ConsultRequest) (*inference.ConsultResponse, error) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return &inference.ConsultResponse{Response: ptr("ok")}, nil
	}}
	svc, mgr := newTestService(p)
	sess := mgr.Create("owner-1", domain.Context{})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.SubmitUtterance(context.Background(), sess, "hi")
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
	history := sess.Snapshot().History
	require.Len(t, history, 16)
	for i := 0; i < len(history); i += 2 {
		assert.Equal(t, domain.TurnUser, history[i].Type)
		assert.Equal(t, domain.TurnAssistant, history[i+1].Type)
	}
}

func TestDifferentSessionsRunConcurrently(t *testing.T) {
	var arrived sync.WaitGroup
	arrived.Add(2)
	release := make(chan struct{})
	p := &fakeProvider{consultFn: func(ctx context.Context, _ inference.ConsultRequest) (*inference.ConsultResponse, error) {
		arrived.Done()
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &inference.ConsultResponse{Response: ptr("ok")}, nil
	}}
	svc, mgr := newTestService(p, WithProviderTimeout(5*time.Second))
	a := mgr.Create("owner-1", domain.Context{})
	b := mgr.Create("owner-2", domain.Context{})

	var wg sync.WaitGroup
	for _, sess := range []*Session{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.SubmitUtterance(context.Background(), sess, "hi")
			assert.NoError(t, err)
		}()
	}

	done := make(chan struct{})
	go func() {
		arrived.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("sessions did not reach the provider concurrently")
	}
	close(release)
	wg.Wait()
	<-done
}

func TestSnapshotDoesNotWaitForProvider(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	p := &fakeProvider{consultFn: func(context.Context, inference.ConsultRequest) (*inference.ConsultResponse, error) {
		close(entered)
		<-release
		return &inference.ConsultResponse{Response: ptr("ok")}, nil
	}}
	svc, mgr := newTestService(p)
	sess := mgr.Create("owner-1", domain.Context{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = svc.SubmitUtterance(context.Background(), sess, "hi")
	}()

	<-entered
	snap := sess.Snapshot()
	assert.Len(t, snap.History, 1, "user turn is visible while the provider works")
	close(release)
	<-done
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, errdefs.IsInvalidArgument(ErrInvalidInput))
	assert.True(t, errdefs.IsUnavailable(ErrProviderUnavailable))
	assert.True(t, errdefs.IsDataLoss(ErrProviderContractViolation))
	assert.True(t, errdefs.IsFailedPrecondition(ErrGenerationFailed))
	assert.True(t, errdefs.IsNotFound(ErrSessionNotFound))
	assert.Equal(t, "generation failed", ErrGenerationFailed.Error())
}
