// Package domain contains core domain types for the prdesk application.
package domain

import (
	"maps"
	"time"
)

// SharedOwner is the owner ID of profiles visible to every owner.
const SharedOwner = ""

// Profile is an externally-owned organization record. It seeds the context of
// new sessions and is never written by a session.
type Profile struct {
	ID        string         `json:"id" yaml:"id"`
	OwnerID   string         `json:"-" yaml:"owner"`
	Name      string         `json:"name" yaml:"name"`
	Facts     map[string]any `json:"facts" yaml:"facts"`
	CreatedAt time.Time      `json:"createdAt" yaml:"-"`
	UpdatedAt time.Time      `json:"updatedAt" yaml:"-"`
}

// IsShared returns true if the profile is visible to every owner.
func (p *Profile) IsShared() bool {
	return p.OwnerID == SharedOwner
}

// Seed returns a fresh Context populated from the profile's facts. The
// organization name falls back to the profile name.
func (p *Profile) Seed() Context {
	facts := maps.Clone(p.Facts)
	if facts == nil {
		facts = make(map[string]any)
	}
	if _, ok := facts[SlotCompanyName]; !ok && p.Name != "" {
		facts[SlotCompanyName] = p.Name
	}
	return ContextFromMap(facts)
}
