// Package contact provides models and repositories for emergency contacts,
// the phone numbers the SOS escalation dispatches to.
package contact

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Common errors for contact operations.
var (
	ErrNotFound  = errors.New("emergency contact not found")
	ErrNoPrimary = errors.New("no primary emergency contact configured")
)

// Relationship describes how the contact relates to the user.
type Relationship string

// Valid relationships.
const (
	RelationshipFamily   Relationship = "family"
	RelationshipFriend   Relationship = "friend"
	RelationshipNeighbor Relationship = "neighbor"
	RelationshipOther    Relationship = "other"
)

// Valid reports whether r is a recognized relationship.
func (r Relationship) Valid() bool {
	switch r {
	case RelationshipFamily, RelationshipFriend, RelationshipNeighbor, RelationshipOther:
		return true
	}
	return false
}

// phonePattern accepts an optional country code of up to three digits,
// optionally separated by a space or hyphen, followed by a ten digit number.
var phonePattern = regexp.MustCompile(`^(\+?\d{1,3}[- ]?)?\d{10}$`)

// Field length limits.
const (
	MaxNameLength = 100
)

// EmergencyContact is a person the user designates for SOS escalation.
type EmergencyContact struct {
	ID           string       `json:"id"`
	UserID       string       `json:"user_id"`
	Name         string       `json:"name"`
	Phone        string       `json:"phone"`
	Relationship Relationship `json:"relationship"`
	Primary      bool         `json:"primary"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Validate checks the contact's fields, returning one error per violation.
func (c *EmergencyContact) Validate() []error {
	var errs []error

	if strings.TrimSpace(c.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	} else if len(c.Name) > MaxNameLength {
		errs = append(errs, fmt.Errorf("name must be at most %d characters", MaxNameLength))
	}

	if !phonePattern.MatchString(c.Phone) {
		errs = append(errs, errors.New("phone must be a 10 digit number with an optional country code"))
	}

	if !c.Relationship.Valid() {
		errs = append(errs, fmt.Errorf("relationship must be one of family, friend, neighbor, other (got %q)", c.Relationship))
	}

	return errs
}
