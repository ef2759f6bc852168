package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/ashureev/prdesk/internal/domain"
	"github.com/ashureev/prdesk/internal/inference"
)

// FallbackReply is shown to the user when a consultation call fails.
const FallbackReply = "Sorry, I couldn't process that just now. Please try again in a moment."

// ArtifactSink is notified once for every recorded artifact.
type ArtifactSink interface {
	ArtifactCreated(a domain.Artifact)
}

// TurnLogger receives every turn appended to a session.
type TurnLogger interface {
	LogTurn(ownerID, sessionID string, turn domain.Turn)
}

// Reply is what SubmitUtterance hands back for display.
type Reply struct {
	Text            string       `json:"text"`
	Stage           domain.Stage `json:"stage"`
	ReadyToGenerate bool         `json:"readyToGenerate"`
	ArtifactTypes   []string     `json:"availableArtifactTypes"`
	Degraded        bool         `json:"degraded,omitempty"`
}

// Service runs the consultation and generation phases against sessions.
type Service struct {
	consult  *ConsultationEngine
	dispatch *GenerationDispatcher
	sink     ArtifactSink
	turns    TurnLogger
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithArtifactSink sets the artifact-created listener.
func WithArtifactSink(sink ArtifactSink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithTurnLogger sets the conversation turn logger.
func WithTurnLogger(l TurnLogger) Option {
	return func(s *Service) { s.turns = l }
}

// WithProviderTimeout bounds provider calls whose context has no deadline.
func WithProviderTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a Service over provider.
func NewService(provider inference.Provider, opts ...Option) *Service {
	s := &Service{
		consult:  NewConsultationEngine(provider),
		dispatch: NewGenerationDispatcher(provider),
		timeout:  60 * time.Second,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitUtterance runs one phase 1 turn on sess.
//
// A blank text is rejected with ErrInvalidInput before anything changes. A
// provider failure appends an error turn, leaves stage and context untouched,
// and returns the fallback reply together with the error. An unknown stage
// returns the reply together with ErrUnknownStage.
func (s *Service) SubmitUtterance(ctx context.Context, sess *Session, text string) (*Reply, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: utterance is empty", ErrInvalidInput)
	}

	sess.opMu.Lock()
	defer sess.opMu.Unlock()

	before := sess.Snapshot()
	s.appendTurn(sess, domain.TurnUser, text)

	callCtx, cancel := s.bound(ctx)
	defer cancel()

	start := s.now()
	res, err := s.consult.Consult(callCtx, before.History, before.Context, text)
	if err != nil {
		s.logger.Warn("Consultation failed",
			"session_id", sess.ID,
			"error", err,
			"duration", s.now().Sub(start),
		)
		s.appendTurn(sess, domain.TurnError, FallbackReply)
		return &Reply{
			Text:            FallbackReply,
			Stage:           before.Stage,
			ReadyToGenerate: before.ReadyToGenerate,
			ArtifactTypes:   before.AvailableArtifactTypes,
			Degraded:        true,
		}, err
	}

	turn := domain.Turn{Type: domain.TurnAssistant, Content: res.Reply, At: s.now()}
	stageErr := sess.apply(res, turn)
	s.logTurn(sess, turn)

	after := sess.Snapshot()
	if stageErr != nil {
		s.logger.Warn("Provider reported unknown stage", "session_id", sess.ID, "error", stageErr, "kept", after.Stage)
	}
	if after.Stage != before.Stage {
		s.logger.Info("Session stage changed", "session_id", sess.ID, "from", before.Stage, "to", after.Stage)
	}

	return &Reply{
		Text:            res.Reply,
		Stage:           after.Stage,
		ReadyToGenerate: after.ReadyToGenerate,
		ArtifactTypes:   after.AvailableArtifactTypes,
	}, stageErr
}

// RequestGeneration runs one phase 2 call on sess and records the artifact.
//
// Generation is not blocked when the session is not ready; the provider is
// trusted to handle thin context. When extraRequirements is blank the latest
// user turn is sent as requirements. Failures append an error turn and leave
// the registry, stage and context untouched.
func (s *Service) RequestGeneration(ctx context.Context, sess *Session, artifactType, extraRequirements string) (*domain.Artifact, error) {
	artifactType = strings.TrimSpace(artifactType)
	if artifactType == "" {
		return nil, fmt.Errorf("%w: artifact type is required", ErrInvalidInput)
	}

	sess.opMu.Lock()
	defer sess.opMu.Unlock()

	snap := sess.Snapshot()
	if !snap.ReadyToGenerate {
		s.logger.Warn("Generation requested before readiness", "session_id", sess.ID, "stage", snap.Stage, "type", artifactType)
	}

	requirements := extraRequirements
	if strings.TrimSpace(requirements) == "" {
		requirements = snap.LatestUserTurn()
	}

	reqContext := snap.Context.ToMap()
	reqContext[inference.ConversationSummaryKey] = conversationSummary(snap.History)

	callCtx, cancel := s.bound(ctx)
	defer cancel()

	item, err := s.dispatch.Generate(callCtx, artifactType, reqContext, requirements)
	if err != nil {
		s.logger.Warn("Generation failed", "session_id", sess.ID, "type", artifactType, "error", err)
		s.appendTurn(sess, domain.TurnError, fmt.Sprintf("Failed to generate %s: %s", artifactType, failureMessage(err)))
		return nil, err
	}

	recorded := sess.registry.Record(domain.Artifact{
		SessionID:        sess.ID,
		OwnerID:          sess.OwnerID,
		Type:             item.Type,
		Title:            item.Title,
		Description:      item.Description,
		GeneratedContent: item.GeneratedContent,
		Metadata:         maps.Clone(item.Metadata),
		CreatedAt:        s.now(),
	})

	label := recorded.Title
	if label == "" {
		label = recorded.Type
	}
	s.appendTurn(sess, domain.TurnSystem, fmt.Sprintf("Generated %s: %s", recorded.Type, label))
	s.logger.Info("Artifact generated", "session_id", sess.ID, "type", recorded.Type, "seq", recorded.Seq)

	if s.sink != nil {
		s.sink.ArtifactCreated(recorded)
	}
	return &recorded, nil
}

// ListArtifacts returns the session's artifacts in insertion order.
func (s *Service) ListArtifacts(sess *Session) []domain.Artifact {
	return slices.Collect(sess.Artifacts())
}

func (s *Service) appendTurn(sess *Session, typ domain.TurnType, content string) {
	turn := domain.Turn{Type: typ, Content: content, At: s.now()}
	sess.appendTurn(turn)
	s.logTurn(sess, turn)
}

func (s *Service) logTurn(sess *Session, turn domain.Turn) {
	if s.turns != nil {
		s.turns.LogTurn(sess.OwnerID, sess.ID, turn)
	}
}

// bound applies the default provider timeout when ctx has no deadline.
func (s *Service) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// failureMessage strips the transport detail from provider failures that the
// user cannot act on.
func failureMessage(err error) string {
	if errors.Is(err, ErrProviderUnavailable) {
		return "the content service is unavailable, please retry"
	}
	return err.Error()
}
