package report

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vigil-app/vigil/internal/geo"
)

// Validation constraints for report submissions.
const (
	MinDescriptionLength = 50
	MaxDescriptionLength = 500
	MaxTitleLength       = 50
	MinAddressLength     = 10
	MaxMediaItems        = 5
	MaxFreeTextLength    = 200
)

// Rejection codes carried by ValidationError. These are stable identifiers
// surfaced verbatim to callers.
const (
	CodeInvalidIncidentType = "InvalidIncidentType"
	CodeInvalidTimestamp    = "InvalidTimestamp"
	CodeInvalidDescription  = "InvalidDescription"
	CodeInvalidCoordinates  = "InvalidCoordinates"
	CodeTooManyMedia        = "TooManyMedia"
	CodeInvalidTitle        = "InvalidTitle"
	CodeInvalidAddress      = "InvalidAddress"
	CodeInvalidFreeText     = "InvalidFreeText"
)

// ValidationError is a structured rejection of a report submission. It is
// never retried automatically and is surfaced to the caller verbatim.
type ValidationError struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func validationErrf(code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Submission is a raw report payload as received from a client, before any
// canonicalization. Coordinates are pointers so "absent" is distinguishable
// from zero, which is a valid coordinate.
type Submission struct {
	IncidentType string     `json:"incident_type"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	DateTime     *time.Time `json:"date_time"`
	Longitude    *float64   `json:"longitude"`
	Latitude     *float64   `json:"latitude"`
	Address      string     `json:"address"`
	AddressOnly  bool       `json:"address_only"`
	Media        []string   `json:"media"`

	SuspectDescription string `json:"suspect_description"`
	WitnessDetails     string `json:"witness_details"`

	Anonymous  bool   `json:"anonymous"`
	ReporterID string `json:"-"`
}

// Validate turns a raw submission into a canonical report record or a
// structured rejection. It is a pure function of the submission and the
// supplied current time: no I/O, no mutation of the input. The address
// string passes through unmodified; geocoding, if any, happens before
// validation.
func Validate(sub Submission, now time.Time) (*Report, error) {
	incidentType := IncidentType(strings.TrimSpace(sub.IncidentType))
	if !incidentType.Valid() {
		return nil, validationErrf(CodeInvalidIncidentType, "unknown incident type %q", sub.IncidentType)
	}

	if sub.DateTime == nil || sub.DateTime.IsZero() {
		return nil, validationErrf(CodeInvalidTimestamp, "occurrence time is required")
	}
	if sub.DateTime.After(now) {
		return nil, validationErrf(CodeInvalidTimestamp, "occurrence time must not be in the future")
	}

	title := strings.TrimSpace(sub.Title)
	if title == "" || utf8.RuneCountInString(title) > MaxTitleLength {
		return nil, validationErrf(CodeInvalidTitle, "title must be 1-%d characters", MaxTitleLength)
	}

	description := strings.TrimSpace(sub.Description)
	if n := utf8.RuneCountInString(description); n < MinDescriptionLength || n > MaxDescriptionLength {
		return nil, validationErrf(CodeInvalidDescription,
			"description must be %d-%d characters, got %d", MinDescriptionLength, MaxDescriptionLength, n)
	}

	if utf8.RuneCountInString(strings.TrimSpace(sub.Address)) < MinAddressLength {
		return nil, validationErrf(CodeInvalidAddress, "address must be at least %d characters", MinAddressLength)
	}

	location := Location{Address: sub.Address, AddressOnly: sub.AddressOnly}
	if sub.AddressOnly {
		// Coordinates unknown by explicit declaration; the report will not
		// appear in radius queries.
		if sub.Longitude != nil || sub.Latitude != nil {
			return nil, validationErrf(CodeInvalidCoordinates,
				"address-only submissions must not carry coordinates")
		}
	} else {
		if sub.Longitude == nil || sub.Latitude == nil {
			return nil, validationErrf(CodeInvalidCoordinates,
				"longitude and latitude are required unless the submission is address-only")
		}
		point := geo.Point{Longitude: *sub.Longitude, Latitude: *sub.Latitude}
		if err := point.Validate(); err != nil {
			return nil, validationErrf(CodeInvalidCoordinates, "%v", err)
		}
		location.Point = point
	}

	if len(sub.Media) > MaxMediaItems {
		return nil, validationErrf(CodeTooManyMedia, "at most %d media references allowed, got %d",
			MaxMediaItems, len(sub.Media))
	}

	if utf8.RuneCountInString(sub.SuspectDescription) > MaxFreeTextLength {
		return nil, validationErrf(CodeInvalidFreeText, "suspect description must not exceed %d characters", MaxFreeTextLength)
	}
	if utf8.RuneCountInString(sub.WitnessDetails) > MaxFreeTextLength {
		return nil, validationErrf(CodeInvalidFreeText, "witness details must not exceed %d characters", MaxFreeTextLength)
	}

	return &Report{
		IncidentType:       incidentType,
		Title:              title,
		Description:        description,
		Location:           location,
		DateTime:           sub.DateTime.UTC(),
		Media:              append([]string(nil), sub.Media...),
		SuspectDescription: sub.SuspectDescription,
		WitnessDetails:     sub.WitnessDetails,
		Anonymous:          sub.Anonymous,
		ReporterID:         sub.ReporterID,
		Status:             StatusPending,
	}, nil
}
