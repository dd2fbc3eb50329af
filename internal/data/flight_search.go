package data

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"Wayfarer/internal/conf"
	"Wayfarer/internal/model"
	"Wayfarer/pkg/fetch"
)

const (
	defaultFlightCacheSize = 512
	maxOffersPerSearch     = 10

	cacheLayerL1 = "l1"
	cacheLayerL2 = "l2"
)

// CacheObserver records cache hits and misses per layer.
type CacheObserver interface {
	ObserveCache(layer string, hit bool)
}

type nopCacheObserver struct{}

func (nopCacheObserver) ObserveCache(string, bool) {}

// FlightSearchRepo finds alternative flights through the flight offers
// provider, with an in-process LRU (L1) in front of redis (L2).
type FlightSearchRepo struct {
	client   *fetch.Client
	cache    CacheClient
	l1       *expirable.LRU[string, []model.FlightAlternative]
	observer CacheObserver
	logger   *log.Helper

	baseURL string
	apiKey  string
	target  string
	timeout time.Duration
	retries int
	ttl     time.Duration
}

// NewFlightSearchRepo creates the flight search repository. Without redis
// only the L1 cache is used.
func NewFlightSearchRepo(c *conf.FlightSearch, client *fetch.Client, d *Data, observer CacheObserver, logger log.Logger) *FlightSearchRepo {
	if c == nil {
		c = &conf.FlightSearch{}
	}
	if observer == nil {
		observer = nopCacheObserver{}
	}

	size := int(c.CacheSize)
	if size <= 0 {
		size = defaultFlightCacheSize
	}
	ttl := c.CacheTtl.AsDuration()
	if ttl <= 0 {
		ttl = TTLFlightSearch
	}

	opts := client.Options()
	timeout := opts.Timeout
	if d := c.Timeout.AsDuration(); d > 0 {
		timeout = d
	}
	retries := opts.Retries
	if c.Retries > 0 {
		retries = int(c.Retries)
	}

	return &FlightSearchRepo{
		client:   client,
		cache:    d.GetCache(),
		l1:       expirable.NewLRU[string, []model.FlightAlternative](size, nil, ttl),
		observer: observer,
		logger:   log.NewHelper(logger),
		baseURL:  c.BaseUrl,
		apiKey:   c.ApiKey,
		target:   c.Target,
		timeout:  timeout,
		retries:  retries,
		ttl:      ttl,
	}
}

// SearchAlternatives returns candidate flights for query. Offers the provider
// returns incomplete are passed through with zero fields; the engine skips them.
func (r *FlightSearchRepo) SearchAlternatives(ctx context.Context, query model.FlightSearchQuery) ([]model.FlightAlternative, error) {
	key := flightCacheKey(query)

	if alts, ok := r.l1.Get(key); ok {
		r.observer.ObserveCache(cacheLayerL1, true)
		return alts, nil
	}
	r.observer.ObserveCache(cacheLayerL1, false)

	var cached []model.FlightAlternative
	switch err := r.cache.Get(ctx, key, &cached); {
	case err == nil:
		r.observer.ObserveCache(cacheLayerL2, true)
		r.l1.Add(key, cached)
		return cached, nil
	case errors.Is(err, ErrCacheNotFound):
		r.observer.ObserveCache(cacheLayerL2, false)
	case errors.Is(err, ErrCacheUnavailable):
		// degraded mode, L1 only
	default:
		r.logger.WithContext(ctx).Warnw("msg", "flight search cache read failed", "key", key, "error", err.Error(), "type", "cache")
	}

	alts, err := r.search(ctx, query)
	if err != nil {
		return nil, err
	}

	if len(alts) > 0 {
		r.l1.Add(key, alts)
		if err := r.cache.Set(ctx, key, alts, r.ttl); err != nil && !errors.Is(err, ErrCacheUnavailable) {
			r.logger.WithContext(ctx).Warnw("msg", "flight search cache write failed", "key", key, "error", err.Error(), "type", "cache")
		}
	}

	return alts, nil
}

func (r *FlightSearchRepo) search(ctx context.Context, query model.FlightSearchQuery) ([]model.FlightAlternative, error) {
	if r.baseURL == "" {
		return nil, errors.New("flight search: base url is not configured")
	}

	u, err := url.Parse(r.baseURL)
	if err != nil {
		return nil, fmt.Errorf("flight search: invalid base url: %w", err)
	}
	q := u.Query()
	q.Set("originLocationCode", strings.ToUpper(query.Origin))
	q.Set("destinationLocationCode", strings.ToUpper(query.Destination))
	q.Set("departureDate", query.DateString())
	q.Set("adults", strconv.Itoa(max(1, query.Passengers)))
	if query.Cabin != "" {
		q.Set("travelClass", strings.ToUpper(query.Cabin))
	}
	q.Set("max", strconv.Itoa(maxOffersPerSearch))
	u.RawQuery = q.Encode()

	opts := r.client.Options()
	opts.Timeout = r.timeout
	opts.Retries = r.retries
	opts.Target = r.target
	opts.Header = http.Header{}
	if r.apiKey != "" {
		opts.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := fetch.FetchJSON[flightOffersResponse](ctx, r.client, u.String(), opts)
	if err != nil {
		return nil, fmt.Errorf("flight search %s-%s on %s: %w", query.Origin, query.Destination, query.DateString(), err)
	}

	alts := make([]model.FlightAlternative, 0, len(resp.Data))
	for _, offer := range resp.Data {
		alts = append(alts, offer.alternative())
	}

	r.logger.WithContext(ctx).Debugw("msg", "flight search completed",
		"origin", query.Origin,
		"destination", query.Destination,
		"date", query.DateString(),
		"offers", len(alts),
		"type", "fetch")

	return alts, nil
}

func flightCacheKey(q model.FlightSearchQuery) string {
	return BuildCacheKey(CacheKeyFlightSearch,
		strings.ToUpper(q.Origin),
		strings.ToUpper(q.Destination),
		q.DateString(),
		strings.ToLower(q.Cabin),
		strconv.Itoa(q.Passengers))
}

// flightOffersResponse is the subset of the flight offers payload the
// engine needs.
type flightOffersResponse struct {
	Data []flightOffer `json:"data"`
}

type flightOffer struct {
	Itineraries []struct {
		Segments []offerSegment `json:"segments"`
	} `json:"itineraries"`
	Price struct {
		Total    flexFloat `json:"total"`
		Currency string    `json:"currency"`
	} `json:"price"`
}

type offerSegment struct {
	Departure   offerPoint `json:"departure"`
	Arrival     offerPoint `json:"arrival"`
	CarrierCode string     `json:"carrierCode"`
	Number      string     `json:"number"`
}

type offerPoint struct {
	IataCode string `json:"iataCode"`
	At       string `json:"at"`
}

// alternative maps the first itinerary of an offer. Connecting itineraries
// are represented by their first departure and last arrival.
func (o flightOffer) alternative() model.FlightAlternative {
	if len(o.Itineraries) == 0 || len(o.Itineraries[0].Segments) == 0 {
		return model.FlightAlternative{}
	}
	segs := o.Itineraries[0].Segments
	first, last := segs[0], segs[len(segs)-1]

	alt := model.FlightAlternative{
		Departure: parseOfferTime(first.Departure.At),
		Arrival:   parseOfferTime(last.Arrival.At),
		Carrier:   strings.ToUpper(first.CarrierCode),
		Price:     float64(o.Price.Total),
	}
	if first.CarrierCode != "" && first.Number != "" {
		alt.FlightNumber = alt.Carrier + first.Number
	}
	return alt
}

var offerTimeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04"}

// parseOfferTime accepts RFC 3339 and zone-less local timestamps, which are
// read as UTC. Unparseable values yield the zero time.
func parseOfferTime(s string) time.Time {
	for _, layout := range offerTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// flexFloat decodes a JSON number or a numeric string. Anything else is zero.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexFloat(v)
	return nil
}

var _ json.Unmarshaler = (*flexFloat)(nil)
