package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/orderlens/internal/catalog/domain"
	"github.com/smallbiznis/orderlens/pkg/cache"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultProductTTL = 10 * time.Minute

// Resolver serves hot-path product and customer lookups for bulk ingest.
// Product hits are cached; customers are created on first sight.
type Resolver struct {
	db       *gorm.DB
	genID    *snowflake.Node
	products cache.Cache[string, domain.Product]
}

func NewResolver(db *gorm.DB, genID *snowflake.Node) *Resolver {
	return &Resolver{
		db:       db,
		genID:    genID,
		products: cache.NewTTLCache[string, domain.Product](),
	}
}

// ProductBySKU returns the tenant's product for sku, or
// domain.ErrProductNotFound.
func (r *Resolver) ProductBySKU(ctx context.Context, tenantID int64, sku string) (domain.Product, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return domain.Product{}, domain.ErrProductNotFound
	}

	key := productKey(tenantID, sku)
	if cached, ok := r.products.Get(key); ok {
		return cached, nil
	}

	var product domain.Product
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND sku = ?", tenantID, sku).
		First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, err
	}

	r.products.Set(key, product, defaultProductTTL)
	return product, nil
}

// ProductByID returns the tenant's product by id.
func (r *Resolver) ProductByID(ctx context.Context, tenantID, productID int64) (domain.Product, error) {
	var product domain.Product
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, productID).
		First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, err
	}
	return product, nil
}

// EnsureCustomer returns the tenant's customer for email, creating it
// when absent. Concurrent creates race safely on the unique index.
func (r *Resolver) EnsureCustomer(ctx context.Context, tenantID int64, email, name string) (domain.Customer, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}

	customer := domain.Customer{
		ID:        r.genID.Generate().Int64(),
		TenantID:  tenantID,
		Email:     email,
		Name:      strings.TrimSpace(name),
		CreatedAt: time.Now().UTC(),
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "email"}},
			DoNothing: true,
		}).
		Create(&customer)
	if result.Error != nil {
		return domain.Customer{}, result.Error
	}
	if result.RowsAffected > 0 {
		return customer, nil
	}

	var existing domain.Customer
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND email = ?", tenantID, email).
		First(&existing).Error
	if err != nil {
		return domain.Customer{}, err
	}
	return existing, nil
}

// InvalidateProduct drops the cached product entry after price updates.
func (r *Resolver) InvalidateProduct(tenantID int64, sku string) {
	r.products.Delete(productKey(tenantID, strings.TrimSpace(sku)))
}

// productKey keeps the SKU as stored; lookups are case-sensitive, so
// SKUs differing only in case must not share a cache entry.
func productKey(tenantID int64, sku string) string {
	return fmt.Sprintf("%d|%s", tenantID, sku)
}
