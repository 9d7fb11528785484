package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusPending   = "pending"
	StatusPaid      = "paid"
	StatusShipped   = "shipped"
	StatusDelivered = "delivered"
	StatusCancelled = "cancelled"
	StatusRefunded  = "refunded"
)

// ValidStatus reports whether s is a known order status.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusPaid, StatusShipped, StatusDelivered, StatusCancelled, StatusRefunded:
		return true
	default:
		return false
	}
}

// RevenueStatuses are the statuses aggregation counts as realized sales.
func RevenueStatuses() []string {
	return []string{StatusPaid, StatusShipped, StatusDelivered}
}

type Order struct {
	ID          int64           `json:"id" gorm:"primaryKey"`
	TenantID    int64           `json:"tenant_id" gorm:"not null;index:ix_orders_tenant_created,priority:1"`
	CustomerID  *int64          `json:"customer_id,omitempty" gorm:"index"`
	OrderNumber string          `json:"order_number" gorm:"type:text;not null;index"`
	Status      string          `json:"status" gorm:"type:text;not null;index"`
	TotalAmount decimal.Decimal `json:"total_amount" gorm:"type:numeric(12,2);not null"`
	Currency    string          `json:"currency" gorm:"type:text;not null;default:USD"`
	CreatedAt   time.Time       `json:"created_at" gorm:"not null;index:ix_orders_tenant_created,priority:2;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time       `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`

	Items []OrderItem `json:"items,omitempty" gorm:"foreignKey:OrderID"`
}

func (Order) TableName() string { return "orders" }

type OrderItem struct {
	ID         int64           `json:"id" gorm:"primaryKey"`
	OrderID    int64           `json:"order_id" gorm:"not null;index"`
	ProductID  int64           `json:"product_id" gorm:"not null;index"`
	Quantity   int             `json:"quantity" gorm:"not null"`
	UnitPrice  decimal.Decimal `json:"unit_price" gorm:"type:numeric(12,2);not null"`
	TotalPrice decimal.Decimal `json:"total_price" gorm:"type:numeric(12,2);not null"`
}

func (OrderItem) TableName() string { return "order_items" }
