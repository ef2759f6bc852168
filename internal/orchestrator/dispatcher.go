package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/prdesk/internal/domain"
	"github.com/ashureev/prdesk/internal/inference"
)

// GenerationDispatcher adapts the provider's generation contract. Each call
// produces exactly one artifact.
type GenerationDispatcher struct {
	provider inference.Provider
}

// NewGenerationDispatcher creates a dispatcher over provider.
func NewGenerationDispatcher(provider inference.Provider) *GenerationDispatcher {
	return &GenerationDispatcher{provider: provider}
}

// Generate requests one artifact of artifactType. The whole context is
// forwarded; the provider decides what is relevant.
func (d *GenerationDispatcher) Generate(ctx context.Context, artifactType string, c map[string]any, requirements string) (*inference.WorkItem, error) {
	resp, err := d.provider.Generate(ctx, inference.GenerateRequest{
		Type:         artifactType,
		Context:      c,
		Requirements: requirements,
	})
	if err != nil {
		return nil, translateProviderError(err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: empty generation response", ErrProviderContractViolation)
	}
	if !resp.Success || resp.Error != "" {
		msg := resp.Error
		if msg == "" {
			msg = "provider reported failure"
		}
		return nil, fmt.Errorf("%w: %s", ErrGenerationFailed, msg)
	}
	if resp.WorkItem == nil {
		return nil, fmt.Errorf("%w: generation response has no work item", ErrProviderContractViolation)
	}

	item := *resp.WorkItem
	if item.Type == "" {
		item.Type = artifactType
	}
	return &item, nil
}

// conversationSummary joins every turn's content oldest-first.
func conversationSummary(history []domain.Turn) string {
	parts := make([]string, 0, len(history))
	for _, turn := range history {
		parts = append(parts, turn.Content)
	}
	return strings.Join(parts, "\n")
}
