package biz

import (
	"math"
	"strings"
	"time"

	"Wayfarer/internal/model"
)

// mctRule is the minimum connection time at one airport, in minutes.
type mctRule struct {
	Domestic      int
	International int
}

// defaultMCT applies to airports missing from mctTable.
var defaultMCT = mctRule{Domestic: 60, International: 90}

var mctTable = map[string]mctRule{
	"JFK": {Domestic: 60, International: 90},
	"LGA": {Domestic: 45, International: 75},
	"EWR": {Domestic: 45, International: 90},
	"BOS": {Domestic: 45, International: 75},
	"IAD": {Domestic: 45, International: 75},
	"ATL": {Domestic: 55, International: 75},
	"MIA": {Domestic: 60, International: 90},
	"ORD": {Domestic: 50, International: 90},
	"DFW": {Domestic: 45, International: 60},
	"DEN": {Domestic: 40, International: 60},
	"LAX": {Domestic: 60, International: 90},
	"SFO": {Domestic: 45, International: 75},
	"SEA": {Domestic: 45, International: 75},
	"LHR": {Domestic: 60, International: 90},
	"CDG": {Domestic: 60, International: 90},
	"FRA": {Domestic: 45, International: 45},
	"AMS": {Domestic: 40, International: 50},
}

// domesticAirports is the set of airports treated as domestic. A connection
// touching any other airport uses the international minimum.
var domesticAirports = map[string]struct{}{
	"JFK": {}, "LGA": {}, "EWR": {}, "BOS": {}, "IAD": {}, "DCA": {}, "PHL": {},
	"ATL": {}, "MIA": {}, "MCO": {}, "CLT": {}, "ORD": {}, "DTW": {}, "MSP": {},
	"DFW": {}, "IAH": {}, "DEN": {}, "PHX": {}, "LAS": {}, "SLC": {}, "LAX": {},
	"SFO": {}, "SAN": {}, "SEA": {}, "PDX": {}, "HNL": {},
}

// ChangeType is the scope of a fare change.
type ChangeType string

const (
	ChangePartial ChangeType = "partial"
	ChangeFull    ChangeType = "full"
)

// MCTResult is the outcome of a minimum connection time check.
type MCTResult struct {
	Valid             bool
	International     bool
	RequiredMinutes   int
	ConnectionMinutes float64
	// BufferMinutes is ConnectionMinutes - RequiredMinutes rounded to the
	// nearest minute. Negative when the connection is too short.
	BufferMinutes int
}

// CarrierChangeResult is the outcome of a carrier change check.
type CarrierChangeResult struct {
	Allowed    bool
	Alliance   string
	Conditions []string
}

// ConstraintValidator holds the stateless rebooking validations. All methods
// are pure given their inputs.
type ConstraintValidator struct {
	fares FareRulesEngine
}

// NewConstraintValidator creates a validator backed by the given fare rules engine.
func NewConstraintValidator(fares FareRulesEngine) *ConstraintValidator {
	if fares == nil {
		fares = NewStaticFareRules()
	}
	return &ConstraintValidator{fares: fares}
}

// ValidateMCT checks that the layover at connection, for a journey that started
// at origin, meets the airport's minimum connection time.
func (v *ConstraintValidator) ValidateMCT(origin, connection string, arrival, departure time.Time) MCTResult {
	connection = strings.ToUpper(connection)
	rule, ok := mctTable[connection]
	if !ok {
		rule = defaultMCT
	}

	international := !isDomestic(origin) || !isDomestic(connection)
	required := rule.Domestic
	if international {
		required = rule.International
	}

	minutes := departure.Sub(arrival).Minutes()
	return MCTResult{
		Valid:             minutes >= float64(required),
		International:     international,
		RequiredMinutes:   required,
		ConnectionMinutes: minutes,
		BufferMinutes:     int(math.Round(minutes - float64(required))),
	}
}

// ValidateFareRules prices a change of the booking identified by originalFareKey
// to newSegments.
func (v *ConstraintValidator) ValidateFareRules(originalFareKey string, newSegments []model.Segment, changeType ChangeType) FareRulesResult {
	return v.fares.Evaluate(originalFareKey, newSegments, changeType)
}

// ValidateCarrierChange checks whether a passenger may be moved from
// originalCarrier to newCarrier. A policy receipt mentioning
// carrier_change_allowed permits any change.
func (v *ConstraintValidator) ValidateCarrierChange(originalCarrier, newCarrier string, policyReceipts []string) CarrierChangeResult {
	from := strings.ToUpper(strings.TrimSpace(originalCarrier))
	to := strings.ToUpper(strings.TrimSpace(newCarrier))

	if from == to {
		return CarrierChangeResult{Allowed: true, Conditions: []string{}}
	}

	result := CarrierChangeResult{Conditions: []string{}}
	if alliance := sharedAlliance(from, to); alliance != "" {
		result.Allowed = true
		result.Alliance = alliance
		result.Conditions = append(result.Conditions, "Alliance partner rules apply")
	}

	if hasCarrierChangeReceipt(policyReceipts) {
		if !result.Allowed {
			result.Conditions = append(result.Conditions, "Carrier change permitted by policy receipt")
		}
		result.Allowed = true
	}

	return result
}

func isDomestic(airport string) bool {
	_, ok := domesticAirports[strings.ToUpper(airport)]
	return ok
}

func hasCarrierChangeReceipt(receipts []string) bool {
	for _, r := range receipts {
		if strings.Contains(r, "carrier_change_allowed") {
			return true
		}
	}
	return false
}
