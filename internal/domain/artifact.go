package domain

import (
	"time"
)

// Artifact is one generated content item. Artifacts are immutable once
// recorded; Seq is their insertion order within the owning session.
type Artifact struct {
	SessionID        string         `json:"sessionId"`
	OwnerID          string         `json:"-"`
	Seq              int            `json:"seq"`
	Type             string         `json:"type"`
	Title            string         `json:"title"`
	Description      string         `json:"description"`
	GeneratedContent any            `json:"generatedContent"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
}
