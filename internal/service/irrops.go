package service

import (
	"context"
	"errors"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"

	"Wayfarer/internal/biz"
	"Wayfarer/internal/model"
	pkglog "Wayfarer/pkg/log"
)

// OperationIrropsProcess is the operation name of the rebooking endpoint.
const OperationIrropsProcess = "/wayfarer.v1.Irrops/Process"

// ProcessIrropsReply carries the ranked rebooking options.
type ProcessIrropsReply struct {
	RecordLocator string               `json:"record_locator"`
	Options       []model.IrropsOption `json:"options"`
}

// IrropsService exposes the rebooking engine over HTTP.
type IrropsService struct {
	uc     *biz.IrropsUsecase
	logger *log.Helper
}

// NewIrropsService creates a new IrropsService instance.
func NewIrropsService(uc *biz.IrropsUsecase, logger log.Logger) *IrropsService {
	return &IrropsService{
		uc:     uc,
		logger: log.NewHelper(logger),
	}
}

// ProcessIrrops validates req and returns the ranked rebooking options.
func (s *IrropsService) ProcessIrrops(ctx context.Context, req *model.IrropsRequest) (*ProcessIrropsReply, error) {
	if req == nil {
		return nil, kerrors.BadRequest("INVALID_REQUEST", "request body is required")
	}
	if err := req.Validate(); err != nil {
		return nil, kerrors.BadRequest("INVALID_REQUEST", err.Error())
	}
	pkglog.SetRecordLocator(ctx, req.PNR.RecordLocator)

	options, err := s.uc.ProcessIrrops(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, kerrors.ClientClosed("REQUEST_CANCELLED", err.Error())
		}
		s.logger.WithContext(ctx).Errorw("msg", "irrops processing failed", "record_locator", req.PNR.RecordLocator, "error", err.Error(), "type", "irrops")
		return nil, kerrors.InternalServer("IRROPS_FAILED", "rebooking failed")
	}

	if options == nil {
		options = []model.IrropsOption{}
	}
	return &ProcessIrropsReply{
		RecordLocator: req.PNR.RecordLocator,
		Options:       options,
	}, nil
}

// RegisterIrropsHTTPServer mounts the rebooking routes on s.
func RegisterIrropsHTTPServer(s *http.Server, svc *IrropsService) {
	r := s.Route("/")
	r.POST("/v1/irrops/process", irropsProcessHandler(svc))
}

func irropsProcessHandler(svc *IrropsService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in model.IrropsRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		http.SetOperation(ctx, OperationIrropsProcess)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return svc.ProcessIrrops(ctx, req.(*model.IrropsRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}
