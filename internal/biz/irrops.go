package biz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/oklog/ulid/v2"

	"Wayfarer/internal/conf"
	"Wayfarer/internal/model"
)

const (
	// DefaultMaxAlternatives caps alternatives considered per affected segment.
	DefaultMaxAlternatives = 5
	// DefaultCurrency is used for price changes when none is configured.
	DefaultCurrency = "USD"
)

// FlightSearcher finds alternative flights. Results are best effort: entries
// that are not Usable are skipped by the caller.
type FlightSearcher interface {
	SearchAlternatives(ctx context.Context, query model.FlightSearchQuery) ([]model.FlightAlternative, error)
}

// IrropsMetrics receives one observation per rebooking run.
type IrropsMetrics interface {
	ObserveIrrops(disruptionType string, optionCount int, d time.Duration, success bool)
}

// ErrNilRequest is returned by ProcessIrrops for a nil request.
var ErrNilRequest = errors.New("irrops: request is nil")

// IrropsUsecase turns a disruption on a PNR into ranked rebooking options.
type IrropsUsecase struct {
	search    FlightSearcher
	validator *ConstraintValidator
	ranker    *OptionRanker
	metrics   IrropsMetrics
	audit     AuditLogger
	logger    *log.Helper

	maxAlternatives int
	currency        string
	now             func() time.Time
}

// NewIrropsUsecase creates the rebooking engine.
func NewIrropsUsecase(c *conf.Irrops, search FlightSearcher, validator *ConstraintValidator, ranker *OptionRanker,
	metrics IrropsMetrics, audit AuditLogger, logger log.Logger) *IrropsUsecase {
	uc := &IrropsUsecase{
		search:          search,
		validator:       validator,
		ranker:          ranker,
		metrics:         metrics,
		audit:           audit,
		logger:          log.NewHelper(logger),
		maxAlternatives: DefaultMaxAlternatives,
		currency:        DefaultCurrency,
		now:             time.Now,
	}
	if c != nil {
		if c.MaxAlternativesPerSegment > 0 {
			uc.maxAlternatives = int(c.MaxAlternativesPerSegment)
		}
		if c.DefaultCurrency != "" {
			uc.currency = c.DefaultCurrency
		}
	}
	return uc
}

// ProcessIrrops searches, validates and ranks rebooking options for every
// affected segment of req.
//
// Search and validation problems on a single segment or alternative are logged
// and skipped, so the result may be empty. An error is returned only when ctx
// is done or the request is nil. A panic is recorded as a failed run and re-raised.
func (uc *IrropsUsecase) ProcessIrrops(ctx context.Context, req *model.IrropsRequest) (options []model.IrropsOption, err error) {
	if req == nil {
		return nil, ErrNilRequest
	}

	start := uc.now()
	runID := ulid.Make().String()
	logger := uc.logger.WithContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			logger.Errorw("msg", "irrops run panicked",
				"run_id", runID,
				"record_locator", req.PNR.RecordLocator,
				"panic", fmt.Sprint(r),
				"type", "irrops")
			uc.finish(ctx, runID, req, 0, start, fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	if err := ctx.Err(); err != nil {
		logger.Warnw("msg", "irrops run aborted before start", "run_id", runID, "record_locator", req.PNR.RecordLocator, "type", "irrops")
		uc.finish(ctx, runID, req, 0, start, err)
		return nil, err
	}

	logger.Infow("msg", "irrops run started",
		"run_id", runID,
		"record_locator", req.PNR.RecordLocator,
		"disruption_type", string(req.Disruption.Type),
		"severity", string(req.Disruption.Severity),
		"affected_segments", req.Disruption.AffectedSegments,
		"type", "irrops")

	// the engine never searches in the past
	searchDate := truncateDay(start).AddDate(0, 0, 1)

	var candidates []model.IrropsOption
	for _, idx := range uniqueIndices(req.Disruption.AffectedSegments) {
		if idx < 0 || idx >= len(req.PNR.Segments) {
			logger.Debugw("msg", "affected segment index out of range", "run_id", runID, "index", idx, "type", "irrops")
			continue
		}
		if err := ctx.Err(); err != nil {
			uc.finish(ctx, runID, req, 0, start, err)
			return nil, err
		}
		candidates = append(candidates, uc.optionsForSegment(ctx, runID, req, idx, searchDate)...)
	}

	options = uc.ranker.Rank(candidates, req.Preferences)
	uc.finish(ctx, runID, req, len(options), start, nil)

	logger.Infow("msg", "irrops run finished",
		"run_id", runID,
		"record_locator", req.PNR.RecordLocator,
		"options", len(options),
		"duration_ms", uc.now().Sub(start).Milliseconds(),
		"type", "irrops")

	return options, nil
}

// optionsForSegment builds the validated options replacing segment idx.
func (uc *IrropsUsecase) optionsForSegment(ctx context.Context, runID string, req *model.IrropsRequest, idx int, date time.Time) []model.IrropsOption {
	logger := uc.logger.WithContext(ctx)
	seg := req.PNR.Segments[idx]

	query := model.FlightSearchQuery{
		Origin:      seg.Origin,
		Destination: seg.Destination,
		Date:        date,
		Cabin:       seg.Cabin,
		Passengers:  max(1, len(req.PNR.Passengers)),
	}

	alternatives, err := uc.search.SearchAlternatives(ctx, query)
	if err != nil {
		logger.Warnw("msg", "alternative search failed, skipping segment",
			"run_id", runID,
			"segment", idx,
			"origin", seg.Origin,
			"destination", seg.Destination,
			"error", err.Error(),
			"type", "irrops")
		return nil
	}

	if len(alternatives) > uc.maxAlternatives {
		alternatives = alternatives[:uc.maxAlternatives]
	}

	var out []model.IrropsOption
	for _, alt := range alternatives {
		if !alt.Usable() {
			logger.Debugw("msg", "skipping malformed alternative", "run_id", runID, "segment", idx, "flight_number", alt.FlightNumber, "type", "irrops")
			continue
		}

		opt, reason := uc.buildOption(req, idx, alt)
		if opt == nil {
			logger.Debugw("msg", "alternative rejected",
				"run_id", runID,
				"segment", idx,
				"flight_number", alt.FlightNumber,
				"reason", reason,
				"type", "irrops")
			continue
		}
		out = append(out, *opt)
	}
	return out
}

// buildOption validates the itinerary with segment idx replaced by alt. It
// returns nil and the rejection reason when a constraint fails.
func (uc *IrropsUsecase) buildOption(req *model.IrropsRequest, idx int, alt model.FlightAlternative) (*model.IrropsOption, string) {
	segments := req.PNR.CopySegments()
	original := segments[idx]

	replacement := original
	replacement.Departure = alt.Departure
	replacement.Arrival = alt.Arrival
	replacement.Carrier = alt.Carrier
	replacement.FlightNumber = alt.FlightNumber
	replacement.Status = model.SegmentActive
	segments[idx] = replacement

	var rules []string
	for i := 0; i+1 < len(segments); i++ {
		if !segments[i].ConnectsTo(segments[i+1]) {
			continue
		}
		mct := uc.validator.ValidateMCT(segments[i].Origin, segments[i].Destination, segments[i].Arrival, segments[i+1].Departure)
		if !mct.Valid {
			return nil, fmt.Sprintf("connection at %s is %d minutes short of MCT", segments[i].Destination, -mct.BufferMinutes)
		}
		rules = append(rules, fmt.Sprintf("MCT at %s satisfied (%d min required, %d min buffer)",
			segments[i].Destination, mct.RequiredMinutes, mct.BufferMinutes))
	}

	// index 0 is treated as a partial change whatever the itinerary length
	optionType, changeType := model.OptionFullReroute, ChangeFull
	if idx == 0 {
		optionType, changeType = model.OptionKeepPartial, ChangePartial
	}

	fare := uc.validator.ValidateFareRules(req.PNR.RecordLocator, segments, changeType)
	if !fare.Valid {
		return nil, "fare rules do not permit the change"
	}
	rules = append(rules, fmt.Sprintf("Fare rules: %s change fee %.2f %s", changeType, fare.Fee, uc.currency))

	carrier := uc.validator.ValidateCarrierChange(original.Carrier, alt.Carrier, req.PolicyReceipts)
	if !carrier.Allowed {
		return nil, fmt.Sprintf("carrier change %s to %s not permitted", original.Carrier, alt.Carrier)
	}
	if strings.EqualFold(original.Carrier, alt.Carrier) {
		rules = append(rules, fmt.Sprintf("Carrier unchanged (%s)", alt.Carrier))
	} else {
		rules = append(rules, fmt.Sprintf("Carrier change %s to %s permitted", original.Carrier, alt.Carrier))
	}
	rules = append(rules, carrier.Conditions...)

	return &model.IrropsOption{
		ID:       fmt.Sprintf("%s-%d-%s", req.PNR.RecordLocator, idx, alt.FlightNumber),
		Type:     optionType,
		Segments: segments,
		PriceChange: model.Money{
			Amount:   fare.Fee + alt.Price,
			Currency: uc.currency,
		},
		RulesApplied: rules,
		Citations: []string{
			fmt.Sprintf("Flight search: %s %s-%s departing %s", alt.FlightNumber,
				original.Origin, original.Destination, alt.Departure.UTC().Format(time.RFC3339)),
			fmt.Sprintf("Fare rules: %s change for booking %s", changeType, req.PNR.RecordLocator),
		},
		Confidence:      ScoreConfidence(strings.EqualFold(original.Carrier, alt.Carrier), req.Disruption.Severity),
		ReplacedSegment: idx,
	}, ""
}

// finish records the metrics observation and audit event of a run.
func (uc *IrropsUsecase) finish(ctx context.Context, runID string, req *model.IrropsRequest, optionCount int, start time.Time, runErr error) {
	elapsed := uc.now().Sub(start)
	uc.metrics.ObserveIrrops(string(req.Disruption.Type), optionCount, elapsed, runErr == nil)

	event := &model.IrropsRunEvent{
		RunID:          runID,
		RecordLocator:  req.PNR.RecordLocator,
		DisruptionType: req.Disruption.Type,
		Severity:       req.Disruption.Severity,
		OptionCount:    optionCount,
		Duration:       elapsed,
		Success:        runErr == nil,
	}
	if runErr != nil {
		event.Error = runErr.Error()
	}
	uc.audit.LogIrropsRun(context.WithoutCancel(ctx), event)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// uniqueIndices drops repeated indices, keeping first occurrence order.
func uniqueIndices(in []int) []int {
	seen := make(map[int]struct{}, len(in))
	out := make([]int, 0, len(in))
	for _, i := range in {
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, i)
	}
	return out
}
