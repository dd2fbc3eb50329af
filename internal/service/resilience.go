package service

import (
	"context"
	"errors"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"

	"Wayfarer/internal/biz"
	"Wayfarer/internal/data"
	"Wayfarer/internal/model"
	"Wayfarer/pkg/resilience"
)

// Operation names of the resilience endpoints.
const (
	OperationListBreakers = "/wayfarer.v1.Resilience/ListBreakers"
	OperationResetBreaker = "/wayfarer.v1.Resilience/ResetBreaker"
)

// SourceSnapshot selects the persisted snapshots instead of live state.
const SourceSnapshot = "snapshot"

// ListBreakersReply is the live or persisted view of every breaker.
type ListBreakersReply struct {
	Source    string                      `json:"source"`
	Breakers  []resilience.BreakerMetrics `json:"breakers,omitempty"`
	Limiters  []resilience.LimiterStatus  `json:"limiters,omitempty"`
	Snapshots []*model.BreakerSnapshot    `json:"snapshots,omitempty"`
}

// ResetBreakerReply confirms an operator reset.
type ResetBreakerReply struct {
	Target string `json:"target"`
	State  string `json:"state"`
}

// ResilienceService exposes breaker and limiter state to operators.
type ResilienceService struct {
	uc     *biz.ResilienceUsecase
	logger *log.Helper
}

// NewResilienceService creates a new ResilienceService instance.
func NewResilienceService(uc *biz.ResilienceUsecase, logger log.Logger) *ResilienceService {
	return &ResilienceService{
		uc:     uc,
		logger: log.NewHelper(logger),
	}
}

// ListBreakers returns live breaker metrics and limiter statuses, or the
// persisted snapshots when source is "snapshot".
func (s *ResilienceService) ListBreakers(ctx context.Context, source string) (*ListBreakersReply, error) {
	switch source {
	case "", "live":
		status := s.uc.Status(ctx)
		return &ListBreakersReply{
			Source:   "live",
			Breakers: status.Breakers,
			Limiters: status.Limiters,
		}, nil
	case SourceSnapshot:
		snapshots, err := s.uc.ListSnapshots(ctx)
		if err != nil {
			if errors.Is(err, data.ErrCacheUnavailable) {
				return nil, kerrors.ServiceUnavailable("SNAPSHOTS_UNAVAILABLE", "breaker snapshots need redis")
			}
			s.logger.WithContext(ctx).Errorw("msg", "failed to list breaker snapshots", "error", err.Error(), "type", "breaker")
			return nil, kerrors.InternalServer("SNAPSHOTS_FAILED", "failed to read breaker snapshots")
		}
		return &ListBreakersReply{Source: SourceSnapshot, Snapshots: snapshots}, nil
	default:
		return nil, kerrors.BadRequest("INVALID_SOURCE", "source must be live or snapshot")
	}
}

// ResetBreaker forces the breaker of target back to CLOSED.
func (s *ResilienceService) ResetBreaker(ctx context.Context, target string) (*ResetBreakerReply, error) {
	if err := s.uc.ResetBreaker(ctx, target); err != nil {
		return nil, err
	}
	return &ResetBreakerReply{Target: target, State: resilience.StateClosed.String()}, nil
}

type listBreakersRequest struct {
	Source string
}

type resetBreakerRequest struct {
	Target string
}

// RegisterResilienceHTTPServer mounts the resilience routes on s.
func RegisterResilienceHTTPServer(s *http.Server, svc *ResilienceService) {
	r := s.Route("/")
	r.GET("/v1/resilience/breakers", listBreakersHandler(svc))
	r.POST("/v1/resilience/breakers/{target}/reset", resetBreakerHandler(svc))
}

func listBreakersHandler(svc *ResilienceService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		in := listBreakersRequest{Source: ctx.Query().Get("source")}
		http.SetOperation(ctx, OperationListBreakers)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return svc.ListBreakers(ctx, req.(*listBreakersRequest).Source)
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func resetBreakerHandler(svc *ResilienceService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		in := resetBreakerRequest{Target: ctx.Vars().Get("target")}
		http.SetOperation(ctx, OperationResetBreaker)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return svc.ResetBreaker(ctx, req.(*resetBreakerRequest).Target)
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}
