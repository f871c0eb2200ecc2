package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rl1809/sales-ledger/internal/core/domain"
	"github.com/rl1809/sales-ledger/internal/platform/metrics"
)

func startGRPC(t *testing.T, processor TransactionProcessor) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)

	srv := grpc.NewServer()
	RegisterTransactionService(srv, NewGRPCHandler(processor, metrics.New(), nil))
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus(transactionSvc, grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(srv, healthSrv)

	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func saleEvent(productID int64, qty int) *SalesTransactionEvent {
	return &SalesTransactionEvent{
		TransactionDate: TransactionDate{Value: "2025-01-10", Set: true},
		Items:           []SalesTransactionItem{{ProductID: &productID, Qty: &qty}},
	}
}

func TestGRPC_ProcessTransaction(t *testing.T) {
	processor := &mockProcessor{}
	client := NewTransactionServiceClient(startGRPC(t, processor))

	resp, err := client.ProcessTransaction(context.Background(), saleEvent(1, 2))
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, "tx-1", resp.TransactionID)
	assert.Equal(t, "19.98", resp.TotalPrice)
	require.Len(t, processor.requests, 1)
	assert.Equal(t, domain.SaleRequest{
		TransactionDate: "2025-01-10",
		Items:           []domain.SaleItem{{ProductID: 1, Quantity: 2}},
	}, processor.requests[0])
}

func TestGRPC_BusinessFailureInBand(t *testing.T) {
	processor := &mockProcessor{errs: []error{domain.NewInsufficientStockError(1, "Widget", 2, 1)}}
	client := NewTransactionServiceClient(startGRPC(t, processor))

	resp, err := client.ProcessTransaction(context.Background(), saleEvent(1, 2))
	require.NoError(t, err)

	assert.False(t, resp.Success)
	assert.Equal(t, "PRD002", resp.ErrorCode)
	assert.Contains(t, resp.Error, "availableStock=1")
}

func TestGRPC_ValidationFailureInBand(t *testing.T) {
	processor := &mockProcessor{}
	client := NewTransactionServiceClient(startGRPC(t, processor))

	resp, err := client.ProcessTransaction(context.Background(), saleEvent(1, 0))
	require.NoError(t, err)

	assert.Equal(t, "VAL001", resp.ErrorCode)
	assert.Zero(t, processor.calls)
}

func TestGRPC_StorageFailureIsUnavailable(t *testing.T) {
	processor := &mockProcessor{errs: []error{domain.NewStorageFailureError(errors.New("down"))}}
	client := NewTransactionServiceClient(startGRPC(t, processor))

	_, err := client.ProcessTransaction(context.Background(), saleEvent(1, 1))
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestGRPC_Health(t *testing.T) {
	conn := startGRPC(t, &mockProcessor{})

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(context.Background(),
		&grpc_health_v1.HealthCheckRequest{Service: transactionSvc})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.Status)
}

func invokeRaw(t *testing.T, conn *grpc.ClientConn, payload string) (*ProcessTransactionResponse, error) {
	t.Helper()
	out := new(ProcessTransactionResponse)
	err := conn.Invoke(context.Background(), processTxnMethod, json.RawMessage(payload), out, grpc.CallContentSubtype(codecName))
	return out, err
}

func TestGRPC_UndecodableFieldsInBand(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"month out of range", `{"transaction_date":[2025,13,1],"items":[{"product_id":1,"qty":1}]}`},
		{"fractional qty", `{"transaction_date":"2025-01-10","items":[{"product_id":1,"qty":1.5}]}`},
		{"array instead of object", `["not","an","event"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			processor := &mockProcessor{}
			resp, err := invokeRaw(t, startGRPC(t, processor), tt.payload)
			require.NoError(t, err)

			assert.False(t, resp.Success)
			assert.Equal(t, "KFK001", resp.ErrorCode)
			assert.Zero(t, processor.calls)
		})
	}
}

func TestGRPC_IdempotencyKeyFromMetadata(t *testing.T) {
	processor := &mockProcessor{}
	client := NewTransactionServiceClient(startGRPC(t, processor))

	ctx := metadata.AppendToOutgoingContext(context.Background(), IdempotencyHeader, "sale-42")
	_, err := client.ProcessTransaction(ctx, saleEvent(1, 1))
	require.NoError(t, err)

	assert.Equal(t, "sale-42", processor.requests[0].IdempotencyKey)
}

func TestGRPC_DuplicateInBand(t *testing.T) {
	processor := &mockProcessor{errs: []error{domain.NewDuplicateEventError("sale-42")}}
	client := NewTransactionServiceClient(startGRPC(t, processor))

	resp, err := client.ProcessTransaction(context.Background(), saleEvent(1, 1))
	require.NoError(t, err)
	assert.Equal(t, "TXN005", resp.ErrorCode)
}
