package domain

import (
	"time"
)

// Stage marks how much context has been gathered in a session.
type Stage string

const (
	// StageDiscovery is the initial stage.
	StageDiscovery Stage = "discovery"
	// StageRefinement means the basics are known and details are being filled in.
	StageRefinement Stage = "refinement"
	// StageReady means the provider considers the context sufficient to generate.
	StageReady Stage = "ready"
)

// ParseStage validates a provider-reported stage value.
func ParseStage(s string) (Stage, bool) {
	switch Stage(s) {
	case StageDiscovery, StageRefinement, StageReady:
		return Stage(s), true
	default:
		return "", false
	}
}

// TurnType tags an entry in the conversation history.
type TurnType string

const (
	TurnUser      TurnType = "user"
	TurnAssistant TurnType = "assistant"
	TurnSystem    TurnType = "system"
	TurnError     TurnType = "error"
)

// Turn is one immutable entry of the conversation history.
type Turn struct {
	Type    TurnType  `json:"type"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// SessionSnapshot is a point-in-time copy of a session for rendering.
type SessionSnapshot struct {
	ID                     string         `json:"id"`
	OwnerID                string         `json:"-"`
	Stage                  Stage          `json:"stage"`
	Context                Context        `json:"-"`
	ContextMap             map[string]any `json:"context"`
	History                []Turn         `json:"history"`
	ReadyToGenerate        bool           `json:"readyToGenerate"`
	AvailableArtifactTypes []string       `json:"availableArtifactTypes"`
	ArtifactCount          int            `json:"artifactCount"`
	CreatedAt              time.Time      `json:"createdAt"`
	LastActiveAt           time.Time      `json:"lastActiveAt"`
}

// LatestUserTurn returns the content of the most recent user turn, if any.
func (s SessionSnapshot) LatestUserTurn() string {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Type == TurnUser {
			return s.History[i].Content
		}
	}
	return ""
}
