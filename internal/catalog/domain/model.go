package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrProductNotFound  = errors.New("product_not_found")
	ErrCustomerNotFound = errors.New("customer_not_found")
)

type Product struct {
	ID        int64           `json:"id" gorm:"primaryKey"`
	TenantID  int64           `json:"tenant_id" gorm:"not null;index:ux_products_tenant_sku,unique,priority:1"`
	SKU       string          `json:"sku" gorm:"type:text;not null;index:ux_products_tenant_sku,unique,priority:2"`
	Name      string          `json:"name" gorm:"type:text;not null"`
	Category  string          `json:"category" gorm:"type:text"`
	Price     decimal.Decimal `json:"price" gorm:"type:numeric(12,2);not null"`
	CreatedAt time.Time       `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time       `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Product) TableName() string { return "products" }

type Customer struct {
	ID        int64     `json:"id" gorm:"primaryKey"`
	TenantID  int64     `json:"tenant_id" gorm:"not null;index:ux_customers_tenant_email,unique,priority:1"`
	Email     string    `json:"email" gorm:"type:text;not null;index:ux_customers_tenant_email,unique,priority:2"`
	Name      string    `json:"name" gorm:"type:text"`
	Phone     string    `json:"phone" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Customer) TableName() string { return "customers" }
