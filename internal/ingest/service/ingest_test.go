package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/orderlens/internal/catalog"
	catalogdomain "github.com/smallbiznis/orderlens/internal/catalog/domain"
	"github.com/smallbiznis/orderlens/internal/config"
	ingestdomain "github.com/smallbiznis/orderlens/internal/ingest/domain"
	orderdomain "github.com/smallbiznis/orderlens/internal/order/domain"
	"github.com/smallbiznis/orderlens/pkg/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testTenantID int64 = 7001

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&catalogdomain.Product{},
		&catalogdomain.Customer{},
		&orderdomain.Order{},
		&orderdomain.OrderItem{},
		&ingestdomain.IngestionJob{},
	))
	return db
}

func setupService(t *testing.T) (ingestdomain.Service, *gorm.DB) {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(ServiceParam{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Config:   config.Config{IngestChunkSize: 1000, IngestErrorCap: 10},
		Resolver: catalog.NewResolver(db, node),
	})
	return svc, db
}

func seedProduct(t *testing.T, db *gorm.DB, sku string, price string) catalogdomain.Product {
	t.Helper()

	amount, err := decimal.NewFromString(price)
	require.NoError(t, err)

	product := catalogdomain.Product{
		ID:        time.Now().UnixNano(),
		TenantID:  testTenantID,
		SKU:       sku,
		Name:      "product " + sku,
		Category:  "test",
		Price:     amount,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, db.Create(&product).Error)
	return product
}

func tenantCtx() context.Context {
	return tenantctx.WithTenantID(context.Background(), testTenantID)
}

func validRow(orderNumber string) ingestdomain.OrderRow {
	return ingestdomain.OrderRow{
		OrderNumber: orderNumber,
		Status:      orderdomain.StatusPaid,
		TotalAmount: decimal.NewFromInt(100),
		Currency:    "usd",
	}
}

func TestProcessChunk_MixedRows(t *testing.T) {
	svc, db := setupService(t)

	rows := []ingestdomain.OrderRow{
		validRow("ORD-001"),
		{OrderNumber: "ORD-002", Status: "teleported", TotalAmount: decimal.NewFromInt(50)},
		validRow("ORD-003"),
	}

	result, err := svc.ProcessChunk(tenantCtx(), ingestdomain.ProcessChunkRequest{
		IdempotencyKey: "upload-mixed",
		Rows:           rows,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.RowsReceived)
	assert.Equal(t, 2, result.RowsInserted)
	assert.Equal(t, 1, result.RowsFailed)
	assert.Equal(t, ingestdomain.JobStatusProcessing, result.Status)
	require.Len(t, result.ErrorDetails, 1)
	assert.Equal(t, 1, result.ErrorDetails[0].Row)
	assert.Contains(t, result.ErrorDetails[0].Reason, "status")

	var count int64
	require.NoError(t, db.Model(&orderdomain.Order{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestProcessChunk_ReplayAfterCompleteWritesNothing(t *testing.T) {
	svc, db := setupService(t)

	req := ingestdomain.ProcessChunkRequest{
		IdempotencyKey: "upload-replay",
		Rows:           []ingestdomain.OrderRow{validRow("ORD-100"), validRow("ORD-101")},
	}

	first, err := svc.ProcessChunk(tenantCtx(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, first.RowsInserted)

	_, err = svc.Complete(tenantCtx(), "upload-replay")
	require.NoError(t, err)

	replay, err := svc.ProcessChunk(tenantCtx(), req)
	require.NoError(t, err)
	assert.True(t, replay.AlreadyCompleted)
	assert.Equal(t, ingestdomain.JobStatusCompleted, replay.Status)
	assert.Equal(t, 0, replay.RowsInserted)

	var count int64
	require.NoError(t, db.Model(&orderdomain.Order{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestProcessChunk_AllRowsInvalidFailsJob(t *testing.T) {
	svc, _ := setupService(t)

	req := ingestdomain.ProcessChunkRequest{
		IdempotencyKey: "upload-broken",
		Rows: []ingestdomain.OrderRow{
			{OrderNumber: "", Status: orderdomain.StatusPaid, TotalAmount: decimal.NewFromInt(10)},
			{OrderNumber: "ORD-B2", Status: "nope", TotalAmount: decimal.NewFromInt(10)},
		},
	}

	result, err := svc.ProcessChunk(tenantCtx(), req)
	require.NoError(t, err)
	assert.Equal(t, ingestdomain.JobStatusFailed, result.Status)
	assert.Equal(t, 0, result.RowsInserted)

	_, err = svc.ProcessChunk(tenantCtx(), req)
	assert.ErrorIs(t, err, ingestdomain.ErrJobFailed)
}

func TestProcessChunk_UnknownSKUDropsLineItemOnly(t *testing.T) {
	svc, db := setupService(t)
	product := seedProduct(t, db, "SKU-KNOWN", "25.00")

	row := validRow("ORD-SKU")
	row.Items = []ingestdomain.OrderItemRow{
		{SKU: "SKU-KNOWN", Quantity: 2, UnitPrice: decimal.NewFromInt(20)},
		{SKU: "SKU-GHOST", Quantity: 1, UnitPrice: decimal.NewFromInt(5)},
	}

	result, err := svc.ProcessChunk(tenantCtx(), ingestdomain.ProcessChunkRequest{
		IdempotencyKey: "upload-sku",
		Rows:           []ingestdomain.OrderRow{row},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.RowsInserted)
	assert.Equal(t, 0, result.RowsFailed)

	var items []orderdomain.OrderItem
	require.NoError(t, db.Find(&items).Error)
	require.Len(t, items, 1)
	assert.Equal(t, product.ID, items[0].ProductID)
	assert.Equal(t, 2, items[0].Quantity)
	assert.True(t, items[0].TotalPrice.Equal(decimal.NewFromInt(40)))
}

func TestProcessChunk_ResolvesCustomer(t *testing.T) {
	svc, db := setupService(t)

	row := validRow("ORD-CUST")
	row.CustomerEmail = "Buyer@Example.COM"
	row.CustomerName = "Buyer One"

	_, err := svc.ProcessChunk(tenantCtx(), ingestdomain.ProcessChunkRequest{
		IdempotencyKey: "upload-cust",
		Rows:           []ingestdomain.OrderRow{row},
	})
	require.NoError(t, err)

	var customer catalogdomain.Customer
	require.NoError(t, db.Where("tenant_id = ?", testTenantID).First(&customer).Error)
	assert.Equal(t, "buyer@example.com", customer.Email)

	var order orderdomain.Order
	require.NoError(t, db.Where("order_number = ?", "ORD-CUST").First(&order).Error)
	require.NotNil(t, order.CustomerID)
	assert.Equal(t, customer.ID, *order.CustomerID)
}

func TestProcessChunk_InputValidation(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.ProcessChunk(context.Background(), ingestdomain.ProcessChunkRequest{
		IdempotencyKey: "k",
		Rows:           []ingestdomain.OrderRow{validRow("ORD-1")},
	})
	assert.ErrorIs(t, err, ingestdomain.ErrInvalidTenant)

	_, err = svc.ProcessChunk(tenantCtx(), ingestdomain.ProcessChunkRequest{
		Rows: []ingestdomain.OrderRow{validRow("ORD-1")},
	})
	assert.ErrorIs(t, err, ingestdomain.ErrInvalidIdempotencyKey)

	_, err = svc.ProcessChunk(tenantCtx(), ingestdomain.ProcessChunkRequest{IdempotencyKey: "k"})
	assert.ErrorIs(t, err, ingestdomain.ErrEmptyChunk)

	big := make([]ingestdomain.OrderRow, 1001)
	for i := range big {
		big[i] = validRow(fmt.Sprintf("ORD-%d", i))
	}
	_, err = svc.ProcessChunk(tenantCtx(), ingestdomain.ProcessChunkRequest{IdempotencyKey: "k", Rows: big})
	assert.ErrorIs(t, err, ingestdomain.ErrChunkTooLarge)
}

func TestProcessChunk_ErrorDetailsCapped(t *testing.T) {
	svc, _ := setupService(t)

	rows := []ingestdomain.OrderRow{validRow("ORD-OK")}
	for i := 0; i < 15; i++ {
		rows = append(rows, ingestdomain.OrderRow{
			OrderNumber: fmt.Sprintf("ORD-BAD-%d", i),
			Status:      "bogus",
			TotalAmount: decimal.NewFromInt(1),
		})
	}

	result, err := svc.ProcessChunk(tenantCtx(), ingestdomain.ProcessChunkRequest{
		IdempotencyKey: "upload-cap",
		Rows:           rows,
	})
	require.NoError(t, err)
	assert.Equal(t, 15, result.RowsFailed)
	assert.Len(t, result.ErrorDetails, ingestdomain.ErrorDetailCap)
}

func TestCompleteAndStatus_AggregateAcrossChunks(t *testing.T) {
	svc, _ := setupService(t)
	ctx := tenantCtx()

	_, err := svc.ProcessChunk(ctx, ingestdomain.ProcessChunkRequest{
		IdempotencyKey: "upload-multi",
		Rows:           []ingestdomain.OrderRow{validRow("ORD-M1"), validRow("ORD-M2")},
	})
	require.NoError(t, err)

	_, err = svc.ProcessChunk(ctx, ingestdomain.ProcessChunkRequest{
		IdempotencyKey: "upload-multi",
		Rows: []ingestdomain.OrderRow{
			validRow("ORD-M3"),
			{OrderNumber: "ORD-M4", Status: "bogus", TotalAmount: decimal.NewFromInt(1)},
		},
	})
	require.NoError(t, err)

	status, err := svc.Complete(ctx, "upload-multi")
	require.NoError(t, err)
	assert.Equal(t, ingestdomain.JobStatusCompleted, status.Status)
	assert.Equal(t, 4, status.TotalRows)
	assert.Equal(t, 3, status.ProcessedRows)
	assert.Equal(t, 1, status.FailedRows)
	require.NotNil(t, status.CompletedAt)

	again, err := svc.Status(ctx, "upload-multi")
	require.NoError(t, err)
	assert.Equal(t, status.JobID, again.JobID)
	assert.Equal(t, ingestdomain.JobStatusCompleted, again.Status)

	_, err = svc.Status(ctx, "no-such-upload")
	assert.ErrorIs(t, err, ingestdomain.ErrJobNotFound)
}

func TestRecordChunk_StaleSnapshotsKeepAllErrorDetails(t *testing.T) {
	svc, db := setupService(t)
	impl := svc.(*Service)
	ctx := tenantCtx()

	job, err := impl.ensureJob(ctx, testTenantID, "upload-details")
	require.NoError(t, err)

	// Both chunks carry the snapshot loaded before either committed;
	// the merge must still retain both chunks' details.
	first := *job
	require.NoError(t, impl.recordChunk(ctx, &first, 2, 1, 1,
		[]ingestdomain.RowError{{Row: 0, Reason: "missing order_number"}},
		ingestdomain.JobStatusProcessing))

	second := *job
	require.NoError(t, impl.recordChunk(ctx, &second, 2, 1, 1,
		[]ingestdomain.RowError{{Row: 1, Reason: "invalid status"}},
		ingestdomain.JobStatusProcessing))

	var reloaded ingestdomain.IngestionJob
	require.NoError(t, db.First(&reloaded, "id = ?", job.ID).Error)
	assert.Len(t, reloaded.ErrorDetails, 2)
	assert.Equal(t, 4, reloaded.TotalRows)
	assert.Equal(t, 2, reloaded.ProcessedRows)
	assert.Equal(t, 2, reloaded.FailedRows)
}
