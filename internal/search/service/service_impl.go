package service

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	searchdomain "github.com/smallbiznis/orderlens/internal/search/domain"
	"github.com/smallbiznis/orderlens/pkg/db/pagination"
	"github.com/smallbiznis/orderlens/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const streamBatchSize = 1000

// fieldWhitelist is the fixed projection set; unknown names are
// silently dropped.
var fieldWhitelist = map[string]bool{
	"id":             true,
	"order_number":   true,
	"status":         true,
	"total_amount":   true,
	"currency":       true,
	"created_at":     true,
	"updated_at":     true,
	"customer_name":  true,
	"customer_email": true,
}

var defaultFields = []string{"id", "order_number", "status", "total_amount", "created_at", "customer_name"}

type ServiceParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(p ServiceParam) searchdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("search.service"),
	}
}

type projectedRow struct {
	ID            int64
	OrderNumber   string
	Status        string
	TotalAmount   decimal.Decimal
	Currency      string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CustomerName  *string
	CustomerEmail *string
}

func (s *Service) Search(ctx context.Context, req searchdomain.Request) (*searchdomain.Result, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok || tenantID == 0 {
		return nil, searchdomain.ErrInvalidTenant
	}

	limit := clampLimit(req.Limit, searchdomain.MaxLimit)
	fields := projectFields(req.Fields)

	var rows []projectedRow
	err := s.buildQuery(ctx, tenantID, req).
		Limit(limit + 1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	rows, info := pagination.BuildCursorPageInfo(rows, limit, func(r projectedRow) pagination.Cursor {
		return pagination.Cursor{LastID: r.ID, LastCreatedAt: r.CreatedAt}
	})

	data := make([]searchdomain.Row, 0, len(rows))
	for _, r := range rows {
		data = append(data, r.project(fields))
	}

	var next *string
	if info.HasMore {
		next = &info.NextCursor
	}
	return &searchdomain.Result{
		Data: data,
		Pagination: searchdomain.Pagination{
			NextCursor: next,
			Limit:      limit,
			Count:      len(data),
		},
	}, nil
}

func (s *Service) Stream(ctx context.Context, req searchdomain.Request, fn func(searchdomain.Row) error) (*searchdomain.StreamSummary, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok || tenantID == 0 {
		return nil, searchdomain.ErrInvalidTenant
	}

	limit := clampLimit(req.Limit, searchdomain.MaxStreamLimit)
	fields := projectFields(req.Fields)

	rows, err := s.buildQuery(ctx, tenantID, req).Limit(limit).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summary := &searchdomain.StreamSummary{}
	var last projectedRow
	for rows.Next() {
		var row projectedRow
		if err := s.db.ScanRows(rows, &row); err != nil {
			return nil, err
		}
		if err := fn(row.project(fields)); err != nil {
			return nil, err
		}
		last = row
		summary.Rows++

		// Yield between batches so a disconnected caller stops the scan.
		if summary.Rows%streamBatchSize == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if summary.Rows == limit && summary.Rows > 0 {
		cursor := pagination.EncodeCursor(pagination.Cursor{LastID: last.ID, LastCreatedAt: last.CreatedAt})
		summary.NextCursor = &cursor
	}
	return summary, nil
}

func (s *Service) buildQuery(ctx context.Context, tenantID int64, req searchdomain.Request) *gorm.DB {
	tx := s.db.WithContext(ctx).
		Table("orders").
		Select(`orders.id, orders.order_number, orders.status, orders.total_amount,
			orders.currency, orders.created_at, orders.updated_at,
			customers.name AS customer_name, customers.email AS customer_email`).
		Joins("LEFT JOIN customers ON orders.customer_id = customers.id").
		Where("orders.tenant_id = ?", tenantID)

	f := req.Filters
	if f.StartDate != nil {
		tx = tx.Where("orders.created_at >= ?", *f.StartDate)
	}
	if f.EndDate != nil {
		tx = tx.Where("orders.created_at <= ?", *f.EndDate)
	}
	if len(f.Statuses) == 1 {
		tx = tx.Where("orders.status = ?", f.Statuses[0])
	} else if len(f.Statuses) > 1 {
		tx = tx.Where("orders.status IN ?", f.Statuses)
	}
	if f.MinAmount != nil {
		tx = tx.Where("orders.total_amount >= ?", *f.MinAmount)
	}
	if f.MaxAmount != nil {
		tx = tx.Where("orders.total_amount <= ?", *f.MaxAmount)
	}
	if len(f.ProductIDs) > 0 {
		tx = tx.Where(
			"EXISTS (SELECT 1 FROM order_items oi WHERE oi.order_id = orders.id AND oi.product_id IN ?)",
			f.ProductIDs,
		)
	}
	if term := strings.TrimSpace(f.CustomerSearch); term != "" {
		pattern := "%" + strings.ToLower(term) + "%"
		tx = tx.Where("(LOWER(customers.name) LIKE ? OR LOWER(customers.email) LIKE ?)", pattern, pattern)
	}

	if cursor := pagination.DecodeCursor(req.Cursor); cursor != nil {
		tx = tx.Where(
			"(orders.created_at < ? OR (orders.created_at = ? AND orders.id < ?))",
			cursor.LastCreatedAt, cursor.LastCreatedAt, cursor.LastID,
		)
	}

	return tx.Order("orders.created_at DESC, orders.id DESC")
}

func clampLimit(limit, max int) int {
	if limit <= 0 {
		return searchdomain.DefaultLimit
	}
	if limit > max {
		return max
	}
	return limit
}

func projectFields(requested []string) []string {
	fields := make([]string, 0, len(requested))
	for _, f := range requested {
		f = strings.TrimSpace(strings.ToLower(f))
		if fieldWhitelist[f] {
			fields = append(fields, f)
		}
	}
	if len(fields) == 0 {
		return defaultFields
	}
	return fields
}

func (r projectedRow) project(fields []string) searchdomain.Row {
	out := make(searchdomain.Row, len(fields))
	for _, f := range fields {
		switch f {
		case "id":
			out[f] = r.ID
		case "order_number":
			out[f] = r.OrderNumber
		case "status":
			out[f] = r.Status
		case "total_amount":
			out[f] = r.TotalAmount
		case "currency":
			out[f] = r.Currency
		case "created_at":
			out[f] = r.CreatedAt
		case "updated_at":
			out[f] = r.UpdatedAt
		case "customer_name":
			out[f] = r.CustomerName
		case "customer_email":
			out[f] = r.CustomerEmail
		}
	}
	return out
}
