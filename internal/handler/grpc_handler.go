package handler

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-expense-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-expense-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-expense-approvals/internal/service"
)

// BillApprovalsServiceName is the fully qualified gRPC service name.
const BillApprovalsServiceName = "expense.v1.BillApprovals"

// BillApprovalsServer is the server API of expense.v1.BillApprovals. Every
// method takes and returns a google.protobuf.Struct.
type BillApprovalsServer interface {
	CreateBill(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetBill(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApproveBill(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RejectBill(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResubmitBill(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListPending(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetEditHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterBillApprovalsServer registers srv on s.
func RegisterBillApprovalsServer(s grpc.ServiceRegistrar, srv BillApprovalsServer) {
	s.RegisterService(&billApprovalsServiceDesc, srv)
}

func unaryMethod(name string, call func(BillApprovalsServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(BillApprovalsServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + BillApprovalsServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(BillApprovalsServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var billApprovalsServiceDesc = grpc.ServiceDesc{
	ServiceName: BillApprovalsServiceName,
	HandlerType: (*BillApprovalsServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("CreateBill", BillApprovalsServer.CreateBill),
		unaryMethod("GetBill", BillApprovalsServer.GetBill),
		unaryMethod("ApproveBill", BillApprovalsServer.ApproveBill),
		unaryMethod("RejectBill", BillApprovalsServer.RejectBill),
		unaryMethod("ResubmitBill", BillApprovalsServer.ResubmitBill),
		unaryMethod("ListPending", BillApprovalsServer.ListPending),
		unaryMethod("GetEditHistory", BillApprovalsServer.GetEditHistory),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "expense/v1/bill_approvals.proto",
}

// GRPCHandler implements the BillApprovals gRPC interface
type GRPCHandler struct {
	bills     *service.BillService
	approvals *service.ApprovalService
	log       *logger.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(bills *service.BillService, approvals *service.ApprovalService, log *logger.Logger) *GRPCHandler {
	return &GRPCHandler{
		bills:     bills,
		approvals: approvals,
		log:       log.Component("grpc"),
	}
}

// CreateBill creates a new bill
func (h *GRPCHandler) CreateBill(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, err := mustCaller(ctx)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}

	bill, err := h.bills.CreateBill(ctx, caller, &service.CreateBillRequest{
		Title:    fieldString(req, "title"),
		Amount:   fieldString(req, "amount"),
		Category: fieldString(req, "category"),
		Date:     fieldString(req, "date"),
	})
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(bill)
}

// GetBill returns one bill
func (h *GRPCHandler) GetBill(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	bill, err := h.bills.GetBill(ctx, fieldString(req, "id"))
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(bill)
}

// ApproveBill approves a bill at its current step
func (h *GRPCHandler) ApproveBill(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, err := mustCaller(ctx)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}

	bill, err := h.approvals.Approve(ctx, caller, fieldString(req, "id"))
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(bill)
}

// RejectBill rejects a bill at its current step
func (h *GRPCHandler) RejectBill(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, err := mustCaller(ctx)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}

	bill, err := h.approvals.Reject(ctx, caller, fieldString(req, "id"), fieldString(req, "reason"))
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(bill)
}

// ResubmitBill forks a rejected bill with the given updates
func (h *GRPCHandler) ResubmitBill(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, err := mustCaller(ctx)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}

	var updates service.BillUpdates
	if u := req.GetFields()["updates"].GetStructValue(); u != nil {
		updates.Title = optionalField(u, "title")
		updates.Amount = optionalField(u, "amount")
		updates.Category = optionalField(u, "category")
		updates.Date = optionalField(u, "date")
	}

	bill, err := h.approvals.Resubmit(ctx, caller, fieldString(req, "id"), updates)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(bill)
}

// ListPending returns the bills waiting on a role
func (h *GRPCHandler) ListPending(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	bills, err := h.bills.ListPendingForRole(ctx, fieldString(req, "role"))
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(map[string]interface{}{"bills": bills})
}

// GetEditHistory returns the edit records touching a bill
func (h *GRPCHandler) GetEditHistory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	edits, err := h.approvals.GetEditHistory(ctx, fieldString(req, "id"))
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(map[string]interface{}{"edits": edits})
}

// ── Interceptors ──────────────────────────────────────────────────────────────

// AuthInterceptor verifies the bearer token in the "authorization" metadata
// when present. Methods that need a caller reject requests without one.
func AuthInterceptor(v *TokenVerifier) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get("authorization")
		if len(values) == 0 || values[0] == "" {
			return handler(ctx, req)
		}
		caller, err := v.VerifyHeader(values[0])
		if err != nil {
			return nil, mapErrorToGRPC(err)
		}
		return handler(WithCaller(ctx, caller), req)
	}
}

// LoggingInterceptor logs every unary call with its duration and status code.
func LoggingInterceptor(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		event := log.Info()
		if err != nil {
			event = log.Warn().Err(err)
		}
		event.
			Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Dur("duration", time.Since(start)).
			Msg("gRPC call")
		return resp, err
	}
}

// RecoveryInterceptor turns a panic into codes.Internal.
func RecoveryInterceptor(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().
					Interface("panic", rec).
					Str("method", info.FullMethod).
					Bytes("stack", debug.Stack()).
					Msg("gRPC handler panicked")
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

// ── Conversion helpers ────────────────────────────────────────────────────────

// toStruct converts a JSON-serializable value into a Struct using its JSON
// field names.
func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return s, nil
}

// fieldString reads a string or number field as text. Missing fields are "".
func fieldString(s *structpb.Struct, key string) string {
	if p := optionalField(s, key); p != nil {
		return *p
	}
	return ""
}

func optionalField(s *structpb.Struct, key string) *string {
	v, ok := s.GetFields()[key]
	if !ok {
		return nil
	}
	var out string
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		out = k.StringValue
	case *structpb.Value_NumberValue:
		out = strconv.FormatFloat(k.NumberValue, 'f', -1, 64)
	case *structpb.Value_BoolValue:
		out = strconv.FormatBool(k.BoolValue)
	default:
		return nil
	}
	return &out
}

// mapErrorToGRPC maps coded errors to gRPC status codes
func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}
	e := errors.As(err)
	switch e.Code {
	case errors.ErrCodeNotFound:
		return status.Error(codes.NotFound, e.Message)
	case errors.ErrCodeInvalidState:
		return status.Error(codes.FailedPrecondition, e.Message)
	case errors.ErrCodeForbidden:
		return status.Error(codes.PermissionDenied, e.Message)
	case errors.ErrCodeInvalidInput:
		return status.Error(codes.InvalidArgument, e.Message)
	case errors.ErrCodeConflict:
		return status.Error(codes.Aborted, e.Message)
	case errors.ErrCodeUnauthorized:
		return status.Error(codes.Unauthenticated, e.Message)
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
