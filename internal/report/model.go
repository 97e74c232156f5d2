// Package report provides the incident report model, submission validation,
// and the geospatially indexed report store.
package report

import (
	"time"

	"github.com/vigil-app/vigil/internal/geo"
)

// IncidentType is the closed enumeration of reportable incident categories.
// This list is authoritative; clients must not invent additional members.
type IncidentType string

// Valid incident types.
const (
	IncidentTheft     IncidentType = "theft"
	IncidentAssault   IncidentType = "assault"
	IncidentVandalism IncidentType = "vandalism"
	IncidentBurglary  IncidentType = "burglary"
	IncidentMissing   IncidentType = "missing"
	IncidentOther     IncidentType = "other"
)

// incidentTypes is the membership set for validation.
var incidentTypes = map[IncidentType]bool{
	IncidentTheft:     true,
	IncidentAssault:   true,
	IncidentVandalism: true,
	IncidentBurglary:  true,
	IncidentMissing:   true,
	IncidentOther:     true,
}

// Valid reports whether t is a member of the incident type enumeration.
func (t IncidentType) Valid() bool {
	return incidentTypes[t]
}

// Status is the moderation lifecycle state of a report.
type Status string

// Report statuses. New reports start as pending; status transitions are
// driven by an external moderation workflow and are monotonic in practice
// (pending -> under_investigation -> resolved).
const (
	StatusPending            Status = "pending"
	StatusUnderInvestigation Status = "under_investigation"
	StatusResolved           Status = "resolved"
)

// statuses is the membership set for validation.
var statuses = map[Status]bool{
	StatusPending:            true,
	StatusUnderInvestigation: true,
	StatusResolved:           true,
}

// Valid reports whether s is a member of the status enumeration.
func (s Status) Valid() bool {
	return statuses[s]
}

// Location is an incident location: a canonical point plus the free-text
// address the reporter supplied. AddressOnly marks submissions where the
// reporter could not provide coordinates; such reports are excluded from
// radius queries because there is nothing to index.
type Location struct {
	Point       geo.Point `json:"point"`
	Address     string    `json:"address"`
	AddressOnly bool      `json:"address_only,omitempty"`
}

// Report is the canonical incident record.
type Report struct {
	ID           string       `json:"id"`
	IncidentType IncidentType `json:"incident_type"`
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	Location     Location     `json:"location"`
	DateTime     time.Time    `json:"date_time"`
	Media        []string     `json:"media,omitempty"`

	SuspectDescription string `json:"suspect_description,omitempty"`
	WitnessDetails     string `json:"witness_details,omitempty"`

	Anonymous  bool   `json:"anonymous"`
	ReporterID string `json:"reporter_id,omitempty"`

	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Redacted returns a copy of the report safe to expose to readers. For
// anonymous reports the reporter reference is stripped. Every read and
// broadcast path must go through this; the raw record is only for the store.
func (r *Report) Redacted() *Report {
	out := *r
	out.Media = append([]string(nil), r.Media...)
	if out.Anonymous {
		out.ReporterID = ""
	}
	return &out
}

// CoarseGeohash returns a low-precision geohash of the incident location for
// dashboard clustering. Empty for address-only reports.
func (r *Report) CoarseGeohash() string {
	if r.Location.AddressOnly {
		return ""
	}
	return geo.EncodeGeohash(r.Location.Point, geo.CoarsePrecision)
}
