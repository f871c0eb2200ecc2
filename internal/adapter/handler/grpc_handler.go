package handler

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/sales-ledger/internal/core/domain"
	"github.com/rl1809/sales-ledger/internal/platform/metrics"
)

const (
	sourceGRPC       = "grpc"
	codecName        = "json"
	transactionSvc   = "sales.v1.TransactionService"
	processTxnMethod = "/" + transactionSvc + "/ProcessTransaction"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec carries plain Go structs over gRPC as JSON. Clients pick it with
// grpc.CallContentSubtype("json").
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

type ProcessTransactionResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	TransactionID string `json:"transaction_id,omitempty"`
	TotalPrice    string `json:"total_price,omitempty"`
	ErrorCode     string `json:"error_code,omitempty"`
	Error         string `json:"error,omitempty"`
}

// ProcessTransactionRequest is the server side of SalesTransactionEvent. It
// keeps field decoding errors so they can be reported in the response.
type ProcessTransactionRequest struct {
	Event SalesTransactionEvent

	raw       []byte
	decodeErr error
}

func (r *ProcessTransactionRequest) UnmarshalJSON(data []byte) error {
	r.raw = append([]byte(nil), data...)
	r.decodeErr = json.Unmarshal(data, &r.Event)
	return nil
}

func (r ProcessTransactionRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Event)
}

type TransactionServiceServer interface {
	ProcessTransaction(ctx context.Context, req *ProcessTransactionRequest) (*ProcessTransactionResponse, error)
}

var transactionServiceDesc = grpc.ServiceDesc{
	ServiceName: transactionSvc,
	HandlerType: (*TransactionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ProcessTransaction", Handler: processTransactionHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sales/v1/transaction.proto",
}

func RegisterTransactionService(s grpc.ServiceRegistrar, srv TransactionServiceServer) {
	s.RegisterService(&transactionServiceDesc, srv)
}

func processTransactionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ProcessTransactionRequest)
	if err := dec(in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if interceptor == nil {
		return srv.(TransactionServiceServer).ProcessTransaction(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: processTxnMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TransactionServiceServer).ProcessTransaction(ctx, req.(*ProcessTransactionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

type GRPCHandler struct {
	processor TransactionProcessor
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewGRPCHandler(processor TransactionProcessor, m *metrics.Metrics, logger *zap.Logger) *GRPCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCHandler{processor: processor, metrics: m, logger: logger}
}

// ProcessTransaction reports business failures in the response body. Storage
// failures surface as codes.Unavailable so callers can retry.
func (h *GRPCHandler) ProcessTransaction(ctx context.Context, req *ProcessTransactionRequest) (*ProcessTransactionResponse, error) {
	start := time.Now()

	if req.decodeErr != nil {
		be := parseFailure(req.raw, req.decodeErr)
		h.metrics.Observe(sourceGRPC, metrics.OutcomeRejected, string(be.Code), time.Since(start))
		return failureResponse(be), nil
	}

	saleReq, err := req.Event.SaleRequest()
	if err != nil {
		_, code := classify(err)
		h.metrics.Observe(sourceGRPC, metrics.OutcomeRejected, code, time.Since(start))
		return failureResponse(err), nil
	}
	saleReq.IdempotencyKey = idempotencyKeyFromMetadata(ctx)

	header, err := h.processor.ProcessTransaction(ctx, saleReq)
	outcome, code := classify(err)
	h.metrics.Observe(sourceGRPC, outcome, code, time.Since(start))

	if err != nil {
		be, ok := domain.AsBusinessError(err)
		if !ok || be.Retryable() {
			h.logger.Error("Transaction failed on storage", zap.Error(err))
			return nil, status.Error(codes.Unavailable, err.Error())
		}
		return failureResponse(be), nil
	}

	return &ProcessTransactionResponse{
		Success:       true,
		Message:       "Transaction processed successfully",
		TransactionID: header.ID,
		TotalPrice:    header.TotalPrice.StringFixed(2),
	}, nil
}

func idempotencyKeyFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(IdempotencyHeader); len(values) > 0 {
		return values[0]
	}
	return ""
}

func failureResponse(err error) *ProcessTransactionResponse {
	be, ok := domain.AsBusinessError(err)
	if !ok {
		return &ProcessTransactionResponse{Message: "internal error", Error: err.Error()}
	}
	return &ProcessTransactionResponse{
		Message:   be.Message,
		ErrorCode: string(be.Code),
		Error:     be.DetailedMessage(),
	}
}

type TransactionServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewTransactionServiceClient(cc grpc.ClientConnInterface) *TransactionServiceClient {
	return &TransactionServiceClient{cc: cc}
}

func (c *TransactionServiceClient) ProcessTransaction(ctx context.Context, in *SalesTransactionEvent, opts ...grpc.CallOption) (*ProcessTransactionResponse, error) {
	out := new(ProcessTransactionResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, processTxnMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
