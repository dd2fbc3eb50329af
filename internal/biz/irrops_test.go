package biz

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"Wayfarer/internal/conf"
	"Wayfarer/internal/model"
)

var (
	fixedNow   = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	searchDay  = time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	travelDay  = time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)
	errUpstrem = errors.New("provider unavailable")
)

func at(hour, minute int) time.Time {
	return travelDay.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func newTestIrropsUsecase(search FlightSearcher, metrics IrropsMetrics, audit AuditLogger) *IrropsUsecase {
	uc := NewIrropsUsecase(&conf.Irrops{}, search, NewConstraintValidator(nil), NewOptionRanker(),
		metrics, audit, log.NewStdLogger(os.Stdout))
	uc.now = func() time.Time { return fixedNow }
	return uc
}

func alt(carrier, flight string, dep, arr time.Time, price float64) model.FlightAlternative {
	return model.FlightAlternative{Carrier: carrier, FlightNumber: flight, Departure: dep, Arrival: arr, Price: price}
}

func singleSegmentRequest() *model.IrropsRequest {
	return &model.IrropsRequest{
		PNR: model.PNR{
			RecordLocator: "ABC123",
			Passengers:    []model.Passenger{{Name: "Ada Lovelace", Type: "ADT"}},
			Segments: []model.Segment{{
				Origin: "JFK", Destination: "LAX",
				Departure: at(8, 0), Arrival: at(11, 30),
				Carrier: "AA", FlightNumber: "AA123",
				Cabin: model.CabinEconomy, Status: model.SegmentCancelled,
			}},
		},
		Disruption: model.DisruptionEvent{
			Type:             model.DisruptionCancellation,
			AffectedSegments: []int{0},
			Timestamp:        fixedNow,
			Reason:           "crew shortage",
			Severity:         model.SeverityMedium,
		},
		PolicyReceipts: []string{"carrier_change_allowed"},
	}
}

// JFK-ORD-LAX with a 2h connection at ORD.
func connectingRequest() *model.IrropsRequest {
	req := singleSegmentRequest()
	req.PNR.Segments = []model.Segment{
		{Origin: "JFK", Destination: "ORD", Departure: at(8, 0), Arrival: at(10, 0),
			Carrier: "AA", FlightNumber: "AA100", Cabin: model.CabinEconomy, Status: model.SegmentCancelled},
		{Origin: "ORD", Destination: "LAX", Departure: at(12, 0), Arrival: at(14, 30),
			Carrier: "AA", FlightNumber: "AA200", Cabin: model.CabinEconomy, Status: model.SegmentActive},
	}
	return req
}

func fromOrigin(origin string) interface{} {
	return mock.MatchedBy(func(q model.FlightSearchQuery) bool { return q.Origin == origin })
}

func expectRun(metrics *MockIrropsMetrics, audit *MockAuditLogger, optionCount int, success bool) {
	metrics.On("ObserveIrrops", "cancellation", optionCount, mock.Anything, success).Return().Once()
	audit.On("LogIrropsRun", mock.Anything, mock.MatchedBy(func(e *model.IrropsRunEvent) bool {
		return e.OptionCount == optionCount && e.Success == success && e.RecordLocator == "ABC123" && len(e.RunID) == 26
	})).Return().Once()
}

func TestProcessIrrops_CancelledSegmentRanksSameCarrierFirst(t *testing.T) {
	search := new(MockFlightSearcher)
	metrics := new(MockIrropsMetrics)
	audit := new(MockAuditLogger)
	uc := newTestIrropsUsecase(search, metrics, audit)

	req := singleSegmentRequest()
	search.On("SearchAlternatives", mock.Anything, mock.MatchedBy(func(q model.FlightSearchQuery) bool {
		return q.Origin == "JFK" && q.Destination == "LAX" && q.Date.Equal(searchDay) &&
			q.Passengers == 1 && q.Cabin == model.CabinEconomy
	})).Return([]model.FlightAlternative{
		alt("DL", "DL789", at(9, 0), at(12, 30), 50),
		alt("AA", "AA125", at(10, 0), at(13, 30), 0),
	}, nil)
	expectRun(metrics, audit, 2, true)

	options, err := uc.ProcessIrrops(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, options, 2)

	first, second := options[0], options[1]
	assert.Equal(t, "ABC123-0-AA125", first.ID)
	assert.Equal(t, model.OptionKeepPartial, first.Type)
	assert.InDelta(t, 0.9, first.Confidence, 1e-9)
	assert.Equal(t, model.Money{Amount: 150, Currency: "USD"}, first.PriceChange)
	assert.Len(t, first.Citations, 2)
	assert.Contains(t, first.RulesApplied, "Carrier unchanged (AA)")
	assert.Equal(t, model.SegmentActive, first.Segments[0].Status)
	assert.Equal(t, "AA125", first.Segments[0].FlightNumber)

	assert.Equal(t, "ABC123-0-DL789", second.ID)
	assert.InDelta(t, 0.8, second.Confidence, 1e-9)
	assert.Equal(t, 200.0, second.PriceChange.Amount)
	assert.Contains(t, second.RulesApplied, "Carrier change permitted by policy receipt")

	search.AssertExpectations(t)
	metrics.AssertExpectations(t)
	audit.AssertExpectations(t)
}

func TestProcessIrrops_PreferencesReorder(t *testing.T) {
	search := new(MockFlightSearcher)
	metrics := new(MockIrropsMetrics)
	audit := new(MockAuditLogger)
	uc := newTestIrropsUsecase(search, metrics, audit)

	req := singleSegmentRequest()
	req.Preferences = model.Preferences{PreferredCarriers: []string{"DL"}}
	search.On("SearchAlternatives", mock.Anything, mock.Anything).Return([]model.FlightAlternative{
		alt("AA", "AA125", at(10, 0), at(13, 30), 0),
		alt("DL", "DL789", at(9, 0), at(12, 30), 50),
	}, nil)
	expectRun(metrics, audit, 2, true)

	options, err := uc.ProcessIrrops(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, options, 2)
	assert.Equal(t, "ABC123-0-DL789", options[0].ID)
}

func TestProcessIrrops_CarrierChangeNeedsAllianceOrReceipt(t *testing.T) {
	search := new(MockFlightSearcher)
	metrics := new(MockIrropsMetrics)
	audit := new(MockAuditLogger)
	uc := newTestIrropsUsecase(search, metrics, audit)

	req := singleSegmentRequest()
	req.PolicyReceipts = nil
	search.On("SearchAlternatives", mock.Anything, mock.Anything).Return([]model.FlightAlternative{
		alt("DL", "DL789", at(9, 0), at(12, 30), 50),
		alt("BA", "BA178", at(9, 30), at(13, 0), 80),
	}, nil)
	expectRun(metrics, audit, 1, true)

	options, err := uc.ProcessIrrops(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, options, 1)
	assert.Equal(t, "ABC123-0-BA178", options[0].ID)
	assert.Contains(t, options[0].RulesApplied, "Alliance partner rules apply")
}

func TestProcessIrrops_MCTRejectsShortConnection(t *testing.T) {
	search := new(MockFlightSearcher)
	metrics := new(MockIrropsMetrics)
	audit := new(MockAuditLogger)
	uc := newTestIrropsUsecase(search, metrics, audit)

	req := connectingRequest()
	search.On("SearchAlternatives", mock.Anything, fromOrigin("JFK")).Return([]model.FlightAlternative{
		// 30 minutes at ORD, below the 50 minute domestic minimum
		alt("AA", "AA101", at(9, 30), at(11, 30), 0),
		alt("AA", "AA103", at(8, 30), at(10, 30), 0),
	}, nil)
	expectRun(metrics, audit, 1, true)

	options, err := uc.ProcessIrrops(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, options, 1)

	opt := options[0]
	assert.Equal(t, "ABC123-0-AA103", opt.ID)
	assert.Contains(t, opt.RulesApplied, "MCT at ORD satisfied (50 min required, 40 min buffer)")
	require.Len(t, opt.Segments, 2)
	assert.Equal(t, "AA200", opt.Segments[1].FlightNumber)
}

func TestProcessIrrops_LaterSegmentIsFullReroute(t *testing.T) {
	search := new(MockFlightSearcher)
	metrics := new(MockIrropsMetrics)
	audit := new(MockAuditLogger)
	uc := newTestIrropsUsecase(search, metrics, audit)

	req := connectingRequest()
	req.Disruption.AffectedSegments = []int{1}
	search.On("SearchAlternatives", mock.Anything, fromOrigin("ORD")).Return([]model.FlightAlternative{
		alt("AA", "AA201", at(11, 30), at(14, 0), 25),
	}, nil)
	expectRun(metrics, audit, 1, true)

	options, err := uc.ProcessIrrops(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, options, 1)
	assert.Equal(t, "ABC123-1-AA201", options[0].ID)
	assert.Equal(t, model.OptionFullReroute, options[0].Type)
	assert.Equal(t, 325.0, options[0].PriceChange.Amount)
	assert.Equal(t, 1, options[0].ReplacedSegment)
	assert.Equal(t, "AA", options[0].ReplacementCarrier())
}

func TestProcessIrrops_PremiumCabinSurcharge(t *testing.T) {
	search := new(MockFlightSearcher)
	metrics := new(MockIrropsMetrics)
	audit := new(MockAuditLogger)
	uc := newTestIrropsUsecase(search, metrics, audit)

	req := singleSegmentRequest()
	req.PNR.Segments[0].Cabin = model.CabinBusiness
	search.On("SearchAlternatives", mock.Anything, mock.Anything).Return([]model.FlightAlternative{
		alt("AA", "AA125", at(10, 0), at(13, 30), 0),
	}, nil)
	expectRun(metrics, audit, 1, true)

	options, err := uc.ProcessIrrops(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, options, 1)
	assert.Equal(t, 350.0, options[0].PriceChange.Amount)
}

func TestProcessIrrops_SearchFailureSkipsSegment(t *testing.T) {
	search := new(MockFlightSearcher)
	metrics := new(MockIrropsMetrics)
	audit := new(MockAuditLogger)
	uc := newTestIrropsUsecase(search, metrics, audit)

	req := connectingRequest()
	req.Disruption.AffectedSegments = []int{0, 1}
	search.On("SearchAlternatives", mock.Anything, fromOrigin("JFK")).Return(nil, errUpstrem)
	search.On("SearchAlternatives", mock.Anything, fromOrigin("ORD")).Return([]model.FlightAlternative{
		alt("AA", "AA201", at(11, 30), at(14, 0), 0),
	}, nil)
	expectRun(metrics, audit, 1, true)

	options, err := uc.ProcessIrrops(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, options, 1)
	assert.Equal(t, "ABC123-1-AA201", options[0].ID)
	search.AssertNumberOfCalls(t, "SearchAlternatives", 2)
}

func TestProcessIrrops_CapsAlternativesPerSegment(t *testing.T) {
	search := new(MockFlightSearcher)
	metrics := new(MockIrropsMetrics)
	audit := new(MockAuditLogger)
	uc := newTestIrropsUsecase(search, metrics, audit)

	var alts []model.FlightAlternative
	for i, fn := range []string{"AA301", "AA302", "AA303", "AA304", "AA305", "AA306", "AA307"} {
		dep := at(9+i, 0)
		alts = append(alts, alt("AA", fn, dep, dep.Add(3*time.Hour), 0))
	}
	search.On("SearchAlternatives", mock.Anything, mock.Anything).Return(alts, nil)
	expectRun(metrics, audit, DefaultMaxAlternatives, true)

	options, err := uc.ProcessIrrops(context.Background(), singleSegmentRequest())
	require.NoError(t, err)
	require.Len(t, options, DefaultMaxAlternatives)
	for _, o := range options {
		assert.NotEqual(t, "ABC123-0-AA306", o.ID)
		assert.NotEqual(t, "ABC123-0-AA307", o.ID)
	}
}

func TestProcessIrrops_SkipsMalformedAlternatives(t *testing.T) {
	search := new(MockFlightSearcher)
	metrics := new(MockIrropsMetrics)
	audit := new(MockAuditLogger)
	uc := newTestIrropsUsecase(search, metrics, audit)

	search.On("SearchAlternatives", mock.Anything, mock.Anything).Return([]model.FlightAlternative{
		alt("", "AA401", at(9, 0), at(12, 0), 0),
		alt("AA", "AA402", at(12, 0), at(9, 0), 0),
		{Carrier: "AA", FlightNumber: "AA403"},
		alt("AA", "AA404", at(9, 0), at(12, 0), 0),
	}, nil)
	expectRun(metrics, audit, 1, true)

	options, err := uc.ProcessIrrops(context.Background(), singleSegmentRequest())
	require.NoError(t, err)
	require.Len(t, options, 1)
	assert.Equal(t, "ABC123-0-AA404", options[0].ID)
}

func TestProcessIrrops_IgnoresOutOfRangeAndDuplicateIndices(t *testing.T) {
	search := new(MockFlightSearcher)
	metrics := new(MockIrropsMetrics)
	audit := new(MockAuditLogger)
	uc := newTestIrropsUsecase(search, metrics, audit)

	req := singleSegmentRequest()
	req.Disruption.AffectedSegments = []int{5, 0, -1, 0}
	search.On("SearchAlternatives", mock.Anything, mock.Anything).Return([]model.FlightAlternative{
		alt("AA", "AA125", at(10, 0), at(13, 30), 0),
	}, nil).Once()
	expectRun(metrics, audit, 1, true)

	options, err := uc.ProcessIrrops(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, options, 1)
	search.AssertNumberOfCalls(t, "SearchAlternatives", 1)
}

func TestProcessIrrops_NoValidIndicesYieldsEmptyResult(t *testing.T) {
	search := new(MockFlightSearcher)
	metrics := new(MockIrropsMetrics)
	audit := new(MockAuditLogger)
	uc := newTestIrropsUsecase(search, metrics, audit)

	req := singleSegmentRequest()
	req.Disruption.AffectedSegments = []int{3}
	expectRun(metrics, audit, 0, true)

	options, err := uc.ProcessIrrops(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, options)
	search.AssertNotCalled(t, "SearchAlternatives", mock.Anything, mock.Anything)
}

func TestProcessIrrops_CancelledBeforeStart(t *testing.T) {
	search := new(MockFlightSearcher)
	metrics := new(MockIrropsMetrics)
	audit := new(MockAuditLogger)
	uc := newTestIrropsUsecase(search, metrics, audit)
	expectRun(metrics, audit, 0, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	options, err := uc.ProcessIrrops(ctx, singleSegmentRequest())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, options)
	search.AssertNotCalled(t, "SearchAlternatives", mock.Anything, mock.Anything)
	audit.AssertExpectations(t)
}

func TestProcessIrrops_CancelledBetweenSegments(t *testing.T) {
	search := new(MockFlightSearcher)
	metrics := new(MockIrropsMetrics)
	audit := new(MockAuditLogger)
	uc := newTestIrropsUsecase(search, metrics, audit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := connectingRequest()
	req.Disruption.AffectedSegments = []int{0, 1}
	search.On("SearchAlternatives", mock.Anything, fromOrigin("JFK")).
		Run(func(mock.Arguments) { cancel() }).
		Return([]model.FlightAlternative{}, nil)
	expectRun(metrics, audit, 0, false)

	_, err := uc.ProcessIrrops(ctx, req)
	assert.ErrorIs(t, err, context.Canceled)
	search.AssertNumberOfCalls(t, "SearchAlternatives", 1)
}

func TestProcessIrrops_PanicIsRecordedAndReraised(t *testing.T) {
	search := new(MockFlightSearcher)
	metrics := new(MockIrropsMetrics)
	audit := new(MockAuditLogger)
	uc := newTestIrropsUsecase(search, metrics, audit)

	search.On("SearchAlternatives", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { panic("search exploded") }).
		Return(nil, nil)
	metrics.On("ObserveIrrops", "cancellation", 0, mock.Anything, false).Return().Once()
	audit.On("LogIrropsRun", mock.Anything, mock.MatchedBy(func(e *model.IrropsRunEvent) bool {
		return !e.Success && e.Error == "panic: search exploded"
	})).Return().Once()

	assert.PanicsWithValue(t, "search exploded", func() {
		_, _ = uc.ProcessIrrops(context.Background(), singleSegmentRequest())
	})
	metrics.AssertExpectations(t)
	audit.AssertExpectations(t)
}

func TestProcessIrrops_DoesNotMutatePNR(t *testing.T) {
	search := new(MockFlightSearcher)
	metrics := new(MockIrropsMetrics)
	audit := new(MockAuditLogger)
	uc := newTestIrropsUsecase(search, metrics, audit)

	req := connectingRequest()
	before := req.PNR.CopySegments()
	search.On("SearchAlternatives", mock.Anything, mock.Anything).Return([]model.FlightAlternative{
		alt("AA", "AA103", at(8, 30), at(10, 30), 0),
	}, nil)
	expectRun(metrics, audit, 1, true)

	_, err := uc.ProcessIrrops(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, before, req.PNR.Segments)
}

func TestProcessIrrops_NilRequest(t *testing.T) {
	uc := newTestIrropsUsecase(new(MockFlightSearcher), new(MockIrropsMetrics), new(MockAuditLogger))
	_, err := uc.ProcessIrrops(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilRequest)
}

func TestNewIrropsUsecase_Config(t *testing.T) {
	uc := NewIrropsUsecase(&conf.Irrops{MaxAlternativesPerSegment: 3, DefaultCurrency: "EUR"}, nil,
		NewConstraintValidator(nil), NewOptionRanker(), nil, nil, log.NewStdLogger(os.Stdout))
	assert.Equal(t, 3, uc.maxAlternatives)
	assert.Equal(t, "EUR", uc.currency)

	uc = NewIrropsUsecase(nil, nil, nil, nil, nil, nil, log.NewStdLogger(os.Stdout))
	assert.Equal(t, DefaultMaxAlternatives, uc.maxAlternatives)
	assert.Equal(t, DefaultCurrency, uc.currency)
}
