package grpc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dmitrijs2005/leasekeeper/internal/common"
	"github.com/dmitrijs2005/leasekeeper/internal/server/auth"
	"github.com/dmitrijs2005/leasekeeper/internal/server/models"
	"github.com/dmitrijs2005/leasekeeper/internal/server/services"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const operatorName = "operator"

// mapError converts a service error into a gRPC status.
func (s *GRPCServer) mapError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, common.ErrorNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, common.ErrValidation), errors.Is(err, common.ErrUnknownPlan),
		errors.Is(err, common.ErrLeaseTooLong):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, common.ErrDuplicateReference):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, common.ErrConflict), errors.Is(err, common.ErrInsufficientBalance):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, common.ErrRotationFailure):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, services.ErrSweepRunning):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, common.ErrorUnauthorized):
		return status.Error(codes.Unauthenticated, "unauthorized")
	}
	s.logger.Error(ctx, "operator call failed", "error", err)
	return status.Error(codes.Internal, "internal error")
}

func (s *GRPCServer) Login(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	if err := auth.CheckPassword(s.auth.PasswordHash, req.GetValue()); err != nil {
		s.logger.Warn(ctx, "operator login rejected")
		return nil, s.mapError(ctx, err)
	}

	token, err := auth.GenerateToken(operatorName, s.auth.JWTSecret, s.auth.TokenTTL)
	if err != nil {
		return nil, s.mapError(ctx, err)
	}

	s.logger.Info(ctx, "operator logged in")
	return wrapperspb.String(token), nil
}

func (s *GRPCServer) EndLease(ctx context.Context, req *wrapperspb.Int64Value) (*emptypb.Empty, error) {
	if err := s.leases.EndLease(ctx, req.GetValue()); err != nil {
		return nil, s.mapError(ctx, err)
	}
	return &emptypb.Empty{}, nil
}

func (s *GRPCServer) BlockResource(ctx context.Context, req *wrapperspb.Int64Value) (*emptypb.Empty, error) {
	if err := s.leases.Block(ctx, req.GetValue()); err != nil {
		return nil, s.mapError(ctx, err)
	}
	return &emptypb.Empty{}, nil
}

func (s *GRPCServer) UnblockResource(ctx context.Context, req *wrapperspb.Int64Value) (*emptypb.Empty, error) {
	if err := s.leases.Unblock(ctx, req.GetValue()); err != nil {
		return nil, s.mapError(ctx, err)
	}
	return &emptypb.Empty{}, nil
}

// resourceFields renders r without any secret material.
func resourceFields(r *models.Resource, st models.ResourceStats) map[string]any {
	m := map[string]any{
		"id":                r.ID,
		"owner_telegram_id": r.OwnerTelegramID,
		"login":             r.Login,
		"status":            string(r.Status),
		"price_per_hour":    r.PricePerHour.StringFixed(2),
		"version":           r.Version,
		"owner_stats": map[string]any{
			"total":     st.Total,
			"rented":    st.Rented,
			"available": st.Available,
			"blocked":   st.Blocked,
		},
	}
	if r.Renter != nil {
		m["renter"] = *r.Renter
	}
	if r.LeaseEnd != nil {
		m["lease_end"] = r.LeaseEnd.UTC().Format(time.RFC3339)
	}
	if r.OrderRef != nil {
		m["order_ref"] = *r.OrderRef
	}
	if r.MaxLeaseHours != nil {
		m["max_lease_hours"] = *r.MaxLeaseHours
	}
	if r.AllowedRegions != nil {
		m["allowed_regions"] = *r.AllowedRegions
	}
	if r.GameLimits != nil {
		m["game_limits"] = *r.GameLimits
	}
	return m
}

func (s *GRPCServer) GetResource(ctx context.Context, req *wrapperspb.Int64Value) (*structpb.Struct, error) {
	r, st, err := s.leases.Get(ctx, req.GetValue())
	if err != nil {
		return nil, s.mapError(ctx, err)
	}
	out, err := structpb.NewStruct(resourceFields(r, st))
	if err != nil {
		return nil, s.mapError(ctx, err)
	}
	return out, nil
}

func (s *GRPCServer) RunSweep(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	res, err := s.sweeps.Sweep(ctx)
	if err != nil {
		return nil, s.mapError(ctx, err)
	}
	out, err := structpb.NewStruct(map[string]any{
		"checked":   res.Checked,
		"reclaimed": res.Reclaimed,
		"failed":    res.Failed,
		"skipped":   res.Skipped,
	})
	if err != nil {
		return nil, s.mapError(ctx, err)
	}
	return out, nil
}

func (s *GRPCServer) ClearReclaimBackoff(ctx context.Context, req *wrapperspb.Int64Value) (*emptypb.Empty, error) {
	if err := s.sweeps.ClearBackoff(ctx, req.GetValue()); err != nil {
		return nil, s.mapError(ctx, err)
	}
	return &emptypb.Empty{}, nil
}

// intField reads a whole number from a Struct field.
func intField(in *structpb.Struct, name string) (int64, error) {
	v, ok := in.GetFields()[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s is required", common.ErrValidation, name)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue != math.Trunc(n.NumberValue) {
		return 0, fmt.Errorf("%w: %s must be an integer", common.ErrValidation, name)
	}
	return int64(n.NumberValue), nil
}

func subscriptionReply(end time.Time) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"subscription_end": end.UTC().Format(time.RFC3339)})
}

func (s *GRPCServer) GrantSubscription(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	owner, err := intField(req, "telegram_id")
	if err != nil {
		return nil, s.mapError(ctx, err)
	}
	days, err := intField(req, "days")
	if err != nil {
		return nil, s.mapError(ctx, err)
	}

	end, err := s.ledger.GrantSubscription(ctx, owner, int(days))
	if err != nil {
		return nil, s.mapError(ctx, err)
	}
	out, err := subscriptionReply(end)
	if err != nil {
		return nil, s.mapError(ctx, err)
	}
	return out, nil
}

func (s *GRPCServer) PurchaseSubscription(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	owner, err := intField(req, "telegram_id")
	if err != nil {
		return nil, s.mapError(ctx, err)
	}
	plan := req.GetFields()["plan"].GetStringValue()

	end, err := s.ledger.PurchaseSubscription(ctx, owner, plan)
	if err != nil {
		return nil, s.mapError(ctx, err)
	}
	out, err := subscriptionReply(end)
	if err != nil {
		return nil, s.mapError(ctx, err)
	}
	return out, nil
}

func (s *GRPCServer) ExportSnapshot(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	key, err := s.exporter.Snapshot(ctx)
	if err != nil {
		return nil, s.mapError(ctx, err)
	}
	return wrapperspb.String(key), nil
}
