package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	aggdomain "github.com/smallbiznis/orderlens/internal/aggregation/domain"
	"github.com/smallbiznis/orderlens/internal/config"
	exportdomain "github.com/smallbiznis/orderlens/internal/export/domain"
	"github.com/smallbiznis/orderlens/internal/idempotency"
	ingestdomain "github.com/smallbiznis/orderlens/internal/ingest/domain"
	pricedomain "github.com/smallbiznis/orderlens/internal/price/domain"
	"github.com/smallbiznis/orderlens/internal/ratelimit"
	searchdomain "github.com/smallbiznis/orderlens/internal/search/domain"
	stockdomain "github.com/smallbiznis/orderlens/internal/stock/domain"
	tenantdomain "github.com/smallbiznis/orderlens/internal/tenant/domain"
	"github.com/smallbiznis/orderlens/pkg/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testTenantID int64 = 42

type fakeIngestService struct {
	lastKey      string
	lastTenantID int64
	result       *ingestdomain.ChunkResult
	err          error
}

func (f *fakeIngestService) ProcessChunk(ctx context.Context, req ingestdomain.ProcessChunkRequest) (*ingestdomain.ChunkResult, error) {
	f.lastKey = req.IdempotencyKey
	f.lastTenantID, _ = tenantctx.TenantID(ctx)
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &ingestdomain.ChunkResult{JobID: "1", Status: "processing", RowsReceived: len(req.Rows)}, nil
}

func (f *fakeIngestService) Complete(ctx context.Context, key string) (*ingestdomain.JobStatus, error) {
	return &ingestdomain.JobStatus{JobID: "1", Status: "completed"}, nil
}

func (f *fakeIngestService) Status(ctx context.Context, key string) (*ingestdomain.JobStatus, error) {
	if key == "missing" {
		return nil, ingestdomain.ErrJobNotFound
	}
	return &ingestdomain.JobStatus{JobID: "1", Status: "processing"}, nil
}

type fakeAggregationService struct{}

func (f *fakeAggregationService) SalesMetrics(ctx context.Context, req aggdomain.MetricsRequest) (*aggdomain.MetricsResult, error) {
	return &aggdomain.MetricsResult{Data: []aggdomain.TimeBucket{}, Method: aggdomain.MethodExactSQL}, nil
}

func (f *fakeAggregationService) Invalidate(ctx context.Context) (int64, error) {
	return 3, nil
}

type fakeSearchService struct {
	rows []searchdomain.Row
}

func (f *fakeSearchService) Search(ctx context.Context, req searchdomain.Request) (*searchdomain.Result, error) {
	return &searchdomain.Result{
		Data:       f.rows,
		Pagination: searchdomain.Pagination{Count: len(f.rows), Limit: req.Limit},
	}, nil
}

func (f *fakeSearchService) Stream(ctx context.Context, req searchdomain.Request, fn func(searchdomain.Row) error) (*searchdomain.StreamSummary, error) {
	for _, row := range f.rows {
		if err := fn(row); err != nil {
			return nil, err
		}
	}
	return &searchdomain.StreamSummary{Rows: len(f.rows)}, nil
}

type nopReadSeekCloser struct {
	*bytes.Reader
}

func (nopReadSeekCloser) Close() error { return nil }

type fakeExportService struct {
	job  *exportdomain.JobInfo
	body []byte
}

func (f *fakeExportService) CreateJob(ctx context.Context, req exportdomain.CreateRequest) (*exportdomain.JobInfo, error) {
	return &exportdomain.JobInfo{JobID: "9", Status: exportdomain.JobStatusPending, Format: string(req.Format)}, nil
}

func (f *fakeExportService) Run(ctx context.Context, jobID int64, w io.Writer) error {
	_, err := w.Write(f.body)
	return err
}

func (f *fakeExportService) Status(ctx context.Context, jobID int64) (*exportdomain.JobInfo, error) {
	if f.job == nil {
		return nil, exportdomain.ErrJobNotFound
	}
	return f.job, nil
}

func (f *fakeExportService) Open(ctx context.Context, jobID int64) (io.ReadSeekCloser, *exportdomain.JobInfo, error) {
	if f.job == nil || f.job.Status != exportdomain.JobStatusCompleted {
		return nil, nil, exportdomain.ErrJobNotReady
	}
	return nopReadSeekCloser{bytes.NewReader(f.body)}, f.job, nil
}

type fakeStockService struct {
	result *stockdomain.BulkUpdateResult
}

func (f *fakeStockService) BulkUpdate(ctx context.Context, req stockdomain.BulkUpdateRequest) (*stockdomain.BulkUpdateResult, error) {
	return f.result, nil
}

func (f *fakeStockService) Stock(ctx context.Context, productID int64) (*stockdomain.CurrentStock, error) {
	return &stockdomain.CurrentStock{ProductID: productID, CurrentStock: 7}, nil
}

func (f *fakeStockService) Events(ctx context.Context, productID int64, filter stockdomain.EventsFilter) ([]stockdomain.EventRecord, error) {
	return []stockdomain.EventRecord{}, nil
}

type fakePriceService struct {
	err  error
	info *ratelimit.RateLimitResult
}

func (f *fakePriceService) ProcessEvent(ctx context.Context, req pricedomain.EventRequest) (*pricedomain.EventResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &pricedomain.EventResult{Success: true, IdempotencyKey: req.IdempotencyKey}, nil
}

func (f *fakePriceService) Anomalies(ctx context.Context, productID int64, filter pricedomain.AnomaliesFilter) ([]pricedomain.AnomalyRecord, error) {
	return []pricedomain.AnomalyRecord{}, nil
}

func (f *fakePriceService) RateLimitInfo(ctx context.Context, productID int64) (*ratelimit.RateLimitResult, error) {
	if f.info != nil {
		return f.info, nil
	}
	return &ratelimit.RateLimitResult{Allowed: true}, nil
}

func (f *fakePriceService) ResetRateLimit(ctx context.Context, productID int64) error {
	return nil
}

type testFixture struct {
	server *Server
	ingest *fakeIngestService
	export *fakeExportService
	stock  *fakeStockService
	price  *fakePriceService
	search *fakeSearchService
}

func setupServer(t *testing.T) *testFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&tenantdomain.Tenant{}))
	require.NoError(t, db.Create(&tenantdomain.Tenant{ID: testTenantID, Name: "acme", Slug: "acme", Active: true}).Error)
	// GORM replaces the zero-value Active field with its tag default (true)
	// on insert, so flip the column explicitly after creating the row.
	require.NoError(t, db.Create(&tenantdomain.Tenant{ID: 43, Name: "gone", Slug: "gone", Active: false}).Error)
	require.NoError(t, db.Model(&tenantdomain.Tenant{}).Where("id = ?", int64(43)).Update("active", false).Error)

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	tf := &testFixture{
		ingest: &fakeIngestService{},
		export: &fakeExportService{},
		stock:  &fakeStockService{},
		price:  &fakePriceService{},
		search: &fakeSearchService{},
	}
	tf.server = NewServer(ServerParams{
		Gin:            engine,
		Cfg:            config.Config{},
		DB:             db,
		IngestSvc:      tf.ingest,
		AggregationSvc: &fakeAggregationService{},
		SearchSvc:      tf.search,
		ExportSvc:      tf.export,
		StockSvc:       tf.stock,
		PriceSvc:       tf.price,
		Idem:           idempotency.NewMemoryStore(),
	})
	return tf
}

func doRequest(tf *testFixture, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTenant, fmt.Sprintf("%d", testTenantID))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	tf.server.Engine().ServeHTTP(w, req)
	return w
}

func TestTenantContext_MissingHeader(t *testing.T) {
	tf := setupServer(t)

	w := doRequest(tf, http.MethodGet, "/api/backpressure", "", map[string]string{HeaderTenant: ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTenantContext_UnknownTenant(t *testing.T) {
	tf := setupServer(t)

	w := doRequest(tf, http.MethodGet, "/api/backpressure", "", map[string]string{HeaderTenant: "9999"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTenantContext_InactiveTenant(t *testing.T) {
	tf := setupServer(t)

	w := doRequest(tf, http.MethodGet, "/api/backpressure", "", map[string]string{HeaderTenant: "43"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTenantContext_PropagatesTenantID(t *testing.T) {
	tf := setupServer(t)

	w := doRequest(tf, http.MethodPost, "/api/ingest/orders", `{"rows":[{"order_number":"A"}]}`, map[string]string{
		HeaderIdempotencyKey: "job-1",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, testTenantID, tf.ingest.lastTenantID)
	assert.Equal(t, "job-1", tf.ingest.lastKey)
}

func TestIngestOrders_RequiresIdempotencyKey(t *testing.T) {
	tf := setupServer(t)

	w := doRequest(tf, http.MethodPost, "/api/ingest/orders", `{"rows":[]}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "missing_idempotency_key")
}

func TestIngestStatus_NotFound(t *testing.T) {
	tf := setupServer(t)

	w := doRequest(tf, http.MethodGet, "/api/ingest/status/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadToken_Issued(t *testing.T) {
	tf := setupServer(t)

	w := doRequest(tf, http.MethodPost, "/api/ingest/upload-token", "", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "upload_token")
}

func TestSalesMetrics_RejectsUnknownGroupBy(t *testing.T) {
	tf := setupServer(t)

	w := doRequest(tf, http.MethodGet, "/api/metrics/sales?group_by=week&start_date=2026-01-01&end_date=2026-01-31", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_group_by")
}

func TestSalesMetrics_RequiresDateRange(t *testing.T) {
	tf := setupServer(t)

	w := doRequest(tf, http.MethodGet, "/api/metrics/sales?group_by=day", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_date_range")
}

func TestSearchOrders_StreamEmitsValidJSON(t *testing.T) {
	tf := setupServer(t)
	tf.search.rows = []searchdomain.Row{
		{"id": "1", "order_number": "A-1"},
		{"id": "2", "order_number": "A-2"},
	}

	w := doRequest(tf, http.MethodGet, "/api/orders/search?stream=true&limit=10", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, strings.HasPrefix(body, `{"data":[`))
	assert.Contains(t, body, `"pagination"`)
	assert.Contains(t, body, "A-2")
}

func TestSearchOrders_NDJSON(t *testing.T) {
	tf := setupServer(t)
	tf.search.rows = []searchdomain.Row{
		{"id": "1"},
		{"id": "2"},
	}

	w := doRequest(tf, http.MethodGet, "/api/orders/search/ndjson", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	// Two rows plus the summary trailer.
	assert.Len(t, lines, 3)
	assert.Contains(t, lines[2], "summary")
}

func TestBulkUpdateStock_PartialSuccessIs207(t *testing.T) {
	tf := setupServer(t)
	tf.stock.result = &stockdomain.BulkUpdateResult{
		Success:           false,
		TotalProducts:     2,
		SuccessfulUpdates: 1,
		FailedUpdates:     1,
	}

	w := doRequest(tf, http.MethodPut, "/api/stock/bulk_update", `{"events":[{"product_id":1,"event_type":"sale","quantity_change":-1}],"conflict_strategy":"merge"}`, nil)
	assert.Equal(t, http.StatusMultiStatus, w.Code)
}

func TestBulkUpdateStock_FullSuccessIs200(t *testing.T) {
	tf := setupServer(t)
	tf.stock.result = &stockdomain.BulkUpdateResult{
		Success:           true,
		TotalProducts:     1,
		SuccessfulUpdates: 1,
	}

	w := doRequest(tf, http.MethodPut, "/api/stock/bulk_update", `{"events":[{"product_id":1,"event_type":"sale","quantity_change":-1}],"conflict_strategy":"merge"}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestProcessPriceEvent_RateLimited(t *testing.T) {
	tf := setupServer(t)
	tf.price.err = pricedomain.ErrRateLimited
	tf.price.info = &ratelimit.RateLimitResult{
		Allowed:    false,
		Limit:      100,
		Remaining:  0,
		RetryAfter: 30 * time.Second,
	}

	w := doRequest(tf, http.MethodPost, "/api/products/5/price-event", `{"price":"10.00"}`, map[string]string{
		HeaderIdempotencyKey: "pe-1",
	})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
	assert.Equal(t, "100", w.Header().Get("X-RateLimit-Limit"))
}

func TestProcessPriceEvent_RequiresIdempotencyKey(t *testing.T) {
	tf := setupServer(t)

	w := doRequest(tf, http.MethodPost, "/api/products/5/price-event", `{"price":"10.00"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDownloadExport_RangeSlice(t *testing.T) {
	tf := setupServer(t)
	body := bytes.Repeat([]byte("0123456789"), 30)
	tf.export.body = body
	tf.export.job = &exportdomain.JobInfo{
		JobID:    "9",
		Status:   exportdomain.JobStatusCompleted,
		Format:   "csv",
		FileSize: int64(len(body)),
	}

	w := doRequest(tf, http.MethodGet, "/api/reports/export/9/download", "", map[string]string{
		"Range": "bytes=100-199",
	})
	require.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, fmt.Sprintf("bytes 100-199/%d", len(body)), w.Header().Get("Content-Range"))
	assert.Equal(t, body[100:200], w.Body.Bytes())
}

func TestDownloadExport_FullWithoutRange(t *testing.T) {
	tf := setupServer(t)
	body := []byte("order_number,status\nA-1,paid\n")
	tf.export.body = body
	tf.export.job = &exportdomain.JobInfo{
		JobID:    "9",
		Status:   exportdomain.JobStatusCompleted,
		Format:   "csv",
		FileSize: int64(len(body)),
	}

	w := doRequest(tf, http.MethodGet, "/api/reports/export/9/download", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, body, w.Body.Bytes())
}

func TestDownloadExport_NotReadyConflict(t *testing.T) {
	tf := setupServer(t)
	tf.export.job = &exportdomain.JobInfo{JobID: "9", Status: exportdomain.JobStatusProcessing, Format: "csv"}

	w := doRequest(tf, http.MethodGet, "/api/reports/export/9/download", "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestBackpressureStatus_HealthyWithoutController(t *testing.T) {
	tf := setupServer(t)

	w := doRequest(tf, http.MethodGet, "/api/backpressure", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"healthy":true`)
}
