package booking

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DefaultBusinessName is spoken when call metadata carries no display name.
const DefaultBusinessName = "our business"

// ErrMissingBusinessID aborts agent startup for a call whose metadata names no business.
var ErrMissingBusinessID = errors.New("call metadata has no businessId")

// BusinessContext is the fixed identity of the business a call is for.
type BusinessContext struct {
	ID   string `json:"businessId"`
	Name string `json:"businessName,omitempty"`
}

// NewBusinessContext validates an id/name pair supplied at call setup.
func NewBusinessContext(id, name string) (BusinessContext, error) {
	return BusinessContext{ID: id, Name: name}.normalize()
}

// ParseMetadata reads call (room) metadata JSON {"businessId": ..., "businessName": ...}.
// Empty or unreadable metadata is treated the same as a missing id.
func ParseMetadata(raw string) (BusinessContext, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return BusinessContext{}, ErrMissingBusinessID
	}
	var bc BusinessContext
	if err := json.Unmarshal([]byte(raw), &bc); err != nil {
		return BusinessContext{}, fmt.Errorf("parse call metadata: %w", errors.Join(ErrMissingBusinessID, err))
	}
	return bc.normalize()
}

// Metadata encodes bc as room metadata.
func (bc BusinessContext) Metadata() string {
	b, _ := json.Marshal(bc)
	return string(b)
}

func (bc BusinessContext) normalize() (BusinessContext, error) {
	bc.ID = strings.TrimSpace(bc.ID)
	bc.Name = strings.TrimSpace(bc.Name)
	if bc.ID == "" {
		return BusinessContext{}, ErrMissingBusinessID
	}
	if bc.Name == "" {
		bc.Name = DefaultBusinessName
	}
	return bc, nil
}
