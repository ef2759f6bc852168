package orchestrator

import (
	"github.com/containerd/errdefs"
)

// kindError is a sentinel with a readable message classified by an errdefs
// category, so transports can map it without knowing this package.
type kindError struct {
	msg   string
	class error
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.class }

var (
	// ErrInvalidInput rejects empty utterances and missing artifact types.
	ErrInvalidInput error = &kindError{"invalid input", errdefs.ErrInvalidArgument}
	// ErrProviderUnavailable covers transport failures and timeouts.
	ErrProviderUnavailable error = &kindError{"inference provider unavailable", errdefs.ErrUnavailable}
	// ErrProviderContractViolation means a response lacked its mandatory field
	// or could not be decoded.
	ErrProviderContractViolation error = &kindError{"inference provider contract violation", errdefs.ErrDataLoss}
	// ErrGenerationFailed means the provider explicitly declined to generate.
	ErrGenerationFailed error = &kindError{"generation failed", errdefs.ErrFailedPrecondition}
	// ErrUnknownStage means the provider reported a stage outside the known set.
	ErrUnknownStage error = &kindError{"unknown stage", errdefs.ErrDataLoss}
	// ErrSessionNotFound means no session matches the id for the owner.
	ErrSessionNotFound error = &kindError{"session not found", errdefs.ErrNotFound}
)
