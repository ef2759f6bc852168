package domain

import (
	"maps"
	"slices"
)

// Wire names of the well-known context slots.
const (
	SlotCompanyName = "companyName"
	SlotProductName = "productName"
	SlotIndustry    = "industry"
	SlotGoals       = "goals"
	SlotAudience    = "audience"
	SlotNotes       = "notes"
)

// Context is the accumulating record of facts discovered about the user's
// subject. Known slots are typed; anything else the provider introduces is
// kept verbatim in Extra. A known slot written with a value of another shape
// is kept verbatim in Extra under its own key and the typed field is cleared.
// An empty known slot is treated as unset.
type Context struct {
	CompanyName string
	ProductName string
	Industry    string
	Goals       []string
	Audience    []string
	Notes       string
	Extra       map[string]any
}

// ContextFromMap builds a Context from its wire mapping.
func ContextFromMap(m map[string]any) Context {
	var c Context
	c.Merge(m)
	return c
}

// Merge applies a provider delta. Keys present in delta overwrite the slot;
// slots absent from delta are left untouched. A nil value counts as absent.
func (c *Context) Merge(delta map[string]any) {
	for key, value := range delta {
		if value == nil {
			continue
		}
		var typed bool
		switch key {
		case SlotCompanyName:
			c.CompanyName, typed = value.(string)
		case SlotProductName:
			c.ProductName, typed = value.(string)
		case SlotIndustry:
			c.Industry, typed = value.(string)
		case SlotNotes:
			c.Notes, typed = value.(string)
		case SlotGoals:
			c.Goals, typed = stringList(value)
		case SlotAudience:
			c.Audience, typed = stringList(value)
		}
		if typed {
			delete(c.Extra, key)
			continue
		}
		if c.Extra == nil {
			c.Extra = make(map[string]any)
		}
		c.Extra[key] = value
	}
}

// Clone returns a copy that shares no slices or maps with c.
func (c Context) Clone() Context {
	out := c
	out.Goals = slices.Clone(c.Goals)
	out.Audience = slices.Clone(c.Audience)
	out.Extra = maps.Clone(c.Extra)
	return out
}

// ToMap renders the context as its wire mapping.
func (c Context) ToMap() map[string]any {
	m := make(map[string]any, len(c.Extra)+6)
	maps.Copy(m, c.Extra)
	putString(m, SlotCompanyName, c.CompanyName)
	putString(m, SlotProductName, c.ProductName)
	putString(m, SlotIndustry, c.Industry)
	putString(m, SlotNotes, c.Notes)
	if len(c.Goals) > 0 {
		m[SlotGoals] = slices.Clone(c.Goals)
	}
	if len(c.Audience) > 0 {
		m[SlotAudience] = slices.Clone(c.Audience)
	}
	return m
}

// IsEmpty reports whether no slot has been set.
func (c Context) IsEmpty() bool {
	return c.CompanyName == "" && c.ProductName == "" && c.Industry == "" &&
		c.Notes == "" && len(c.Goals) == 0 && len(c.Audience) == 0 && len(c.Extra) == 0
}

func putString(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

// stringList returns v as a list of strings when it is one.
func stringList(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return slices.Clone(t), true
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
