// Package model holds the domain types shared by the biz, data and service layers.
package model

import (
	"fmt"
	"strings"
	"time"
)

// DisruptionType classifies what happened to the itinerary.
type DisruptionType string

const (
	DisruptionCancellation    DisruptionType = "cancellation"
	DisruptionDelay           DisruptionType = "delay"
	DisruptionEquipmentChange DisruptionType = "equipment_change"
	DisruptionUserRequest     DisruptionType = "user_request"
)

// Valid reports whether t is a known disruption type.
func (t DisruptionType) Valid() bool {
	switch t {
	case DisruptionCancellation, DisruptionDelay, DisruptionEquipmentChange, DisruptionUserRequest:
		return true
	}
	return false
}

// Severity of a disruption.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s == SeverityLow || s == SeverityMedium || s == SeverityHigh
}

// OptionType tells whether a rebooking keeps part of the itinerary.
type OptionType string

const (
	OptionKeepPartial OptionType = "keep_partial"
	OptionFullReroute OptionType = "full_reroute"
)

// Cabin classes.
const (
	CabinEconomy        = "economy"
	CabinPremiumEconomy = "premium_economy"
	CabinBusiness       = "business"
	CabinFirst          = "first"
)

// IsPremiumCabin reports whether cabin carries the premium fare surcharge.
func IsPremiumCabin(cabin string) bool {
	c := strings.ToLower(cabin)
	return c == CabinBusiness || c == CabinFirst
}

// Segment statuses.
const (
	SegmentActive    = "active"
	SegmentCancelled = "cancelled"
	SegmentDelayed   = "delayed"
)

// Passenger on a booking.
type Passenger struct {
	Name string `json:"name"`
	Type string `json:"type"` // ADT, CHD, INF
}

// Segment is one flight leg of a PNR.
type Segment struct {
	Origin       string    `json:"origin"`
	Destination  string    `json:"destination"`
	Departure    time.Time `json:"departure"`
	Arrival      time.Time `json:"arrival"`
	Carrier      string    `json:"carrier"`
	FlightNumber string    `json:"flight_number"`
	Cabin        string    `json:"cabin"`
	Status       string    `json:"status"`
}

// ConnectsTo reports whether next departs from the airport this segment lands at.
func (s Segment) ConnectsTo(next Segment) bool {
	return strings.EqualFold(s.Destination, next.Origin)
}

// PNR is a passenger name record. Segments are ordered by departure time.
// A PNR is never mutated; rebooking options carry their own segment copies.
type PNR struct {
	RecordLocator string      `json:"record_locator"`
	Passengers    []Passenger `json:"passengers"`
	Segments      []Segment   `json:"segments"`
}

// CopySegments returns a copy of the PNR segments.
func (p *PNR) CopySegments() []Segment {
	out := make([]Segment, len(p.Segments))
	copy(out, p.Segments)
	return out
}

// DisruptionEvent describes a disruption affecting some segments of a PNR.
type DisruptionEvent struct {
	Type DisruptionType `json:"type"`
	// AffectedSegments are zero-based indices into PNR.Segments.
	AffectedSegments []int     `json:"affected_segments"`
	Timestamp        time.Time `json:"timestamp"`
	Reason           string    `json:"reason"`
	Severity         Severity  `json:"severity"`
}

// Money is an amount in a currency.
type Money struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// IrropsOption is one validated rebooking candidate.
type IrropsOption struct {
	ID           string     `json:"id"`
	Type         OptionType `json:"type"`
	Segments     []Segment  `json:"segments"`
	PriceChange  Money      `json:"price_change"`
	RulesApplied []string   `json:"rules_applied"`
	Citations    []string   `json:"citations"`
	Confidence   float64    `json:"confidence"`

	// ReplacedSegment is the index into Segments of the rebooked leg.
	ReplacedSegment int `json:"replaced_segment"`
}

// ReplacementCarrier returns the carrier of the rebooked leg, or "" when
// ReplacedSegment is out of range.
func (o *IrropsOption) ReplacementCarrier() string {
	if o.ReplacedSegment < 0 || o.ReplacedSegment >= len(o.Segments) {
		return ""
	}
	return o.Segments[o.ReplacedSegment].Carrier
}

// Preferences steer the ranking of options.
type Preferences struct {
	// MaxPriceIncrease is the highest acceptable price change. Nil means no ceiling.
	MaxPriceIncrease  *float64 `json:"max_price_increase,omitempty"`
	PreferredCarriers []string `json:"preferred_carriers,omitempty"`
}

// IrropsRequest is the input of one rebooking run.
type IrropsRequest struct {
	PNR            PNR             `json:"pnr"`
	Disruption     DisruptionEvent `json:"disruption"`
	Preferences    Preferences     `json:"preferences"`
	PolicyReceipts []string        `json:"policy_receipts,omitempty"`
}

// Validate checks the request shape. Out of range segment indices are not an
// error, they are skipped during processing.
func (r *IrropsRequest) Validate() error {
	var problems []string
	if strings.TrimSpace(r.PNR.RecordLocator) == "" {
		problems = append(problems, "pnr.record_locator is required")
	}
	if !r.Disruption.Type.Valid() {
		problems = append(problems, fmt.Sprintf("disruption.type %q is invalid", r.Disruption.Type))
	}
	if r.Disruption.Severity != "" && !r.Disruption.Severity.Valid() {
		problems = append(problems, fmt.Sprintf("disruption.severity %q is invalid", r.Disruption.Severity))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid irrops request: %s", strings.Join(problems, "; "))
	}
	return nil
}

// FlightSearchQuery asks the flight search provider for alternatives.
type FlightSearchQuery struct {
	Origin      string    `json:"origin"`
	Destination string    `json:"destination"`
	Date        time.Time `json:"date"`
	Cabin       string    `json:"cabin"`
	Passengers  int       `json:"passengers"`
}

// DateString formats the query date as YYYY-MM-DD.
func (q FlightSearchQuery) DateString() string {
	return q.Date.Format("2006-01-02")
}

// FlightAlternative is one candidate flight returned by the search provider.
type FlightAlternative struct {
	Departure    time.Time `json:"departure"`
	Arrival      time.Time `json:"arrival"`
	Carrier      string    `json:"carrier"`
	FlightNumber string    `json:"flight_number"`
	Price        float64   `json:"price"`
}

// Usable reports whether the alternative has enough data to build a candidate.
func (a FlightAlternative) Usable() bool {
	return a.Carrier != "" && a.FlightNumber != "" &&
		!a.Departure.IsZero() && !a.Arrival.IsZero() && a.Arrival.After(a.Departure)
}
