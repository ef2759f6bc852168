package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/prdesk/internal/domain"
	"github.com/ashureev/prdesk/internal/inference"
)

// Consultation is the outcome of one phase 1 call. Nil pointers and a false
// HasOptions mean the provider did not send that field.
type Consultation struct {
	Reply           string
	ContextDelta    map[string]any
	Stage           *string
	ReadyToGenerate *bool
	Options         []string
	HasOptions      bool
}

// ConsultationEngine adapts the provider's consultation contract.
type ConsultationEngine struct {
	provider inference.Provider
}

// NewConsultationEngine creates a consultation engine over provider.
func NewConsultationEngine(provider inference.Provider) *ConsultationEngine {
	return &ConsultationEngine{provider: provider}
}

// Consult serializes the transcript and context, performs one provider call
// and translates failures into ErrProviderUnavailable or
// ErrProviderContractViolation.
func (e *ConsultationEngine) Consult(ctx context.Context, history []domain.Turn, c domain.Context, message string) (*Consultation, error) {
	req := inference.ConsultRequest{
		Message:  message,
		Messages: toMessages(history),
		Context:  c.ToMap(),
	}

	resp, err := e.provider.Consult(ctx, req)
	if err != nil {
		return nil, translateProviderError(err)
	}
	if resp == nil || resp.Response == nil {
		return nil, fmt.Errorf("%w: consultation response has no reply", ErrProviderContractViolation)
	}

	out := &Consultation{
		Reply:           *resp.Response,
		ContextDelta:    resp.Context,
		Stage:           resp.Stage,
		ReadyToGenerate: resp.ReadyToGenerate,
	}
	if resp.GenerationOptions != nil {
		out.HasOptions = true
		out.Options = append([]string(nil), resp.GenerationOptions.Types...)
	}
	return out, nil
}

func toMessages(history []domain.Turn) []inference.Message {
	msgs := make([]inference.Message, 0, len(history))
	for _, turn := range history {
		msgs = append(msgs, inference.Message{Type: string(turn.Type), Content: turn.Content})
	}
	return msgs
}

func translateProviderError(err error) error {
	if errors.Is(err, inference.ErrMalformedResponse) {
		return fmt.Errorf("%w: %v", ErrProviderContractViolation, err)
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}
