package catalog

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/orderlens/internal/catalog/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testTenantID int64 = 8001

func setupResolver(t *testing.T) (*Resolver, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Product{}, &domain.Customer{}))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	return NewResolver(db, node), db
}

func seedProduct(t *testing.T, db *gorm.DB, sku, price string) domain.Product {
	t.Helper()

	amount, err := decimal.NewFromString(price)
	require.NoError(t, err)
	product := domain.Product{
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

func TestProductBySKU_CaseSensitiveCacheKeys(t *testing.T) {
	r, db := setupResolver(t)
	ctx := context.Background()

	upper := seedProduct(t, db, "WIDGET-1", "10.00")
	lower := seedProduct(t, db, "widget-1", "20.00")

	// Warm the cache with the uppercase SKU, then resolve the lowercase
	// one; the entries must not alias.
	got, err := r.ProductBySKU(ctx, testTenantID, "WIDGET-1")
	require.NoError(t, err)
	assert.Equal(t, upper.ID, got.ID)

	got, err = r.ProductBySKU(ctx, testTenantID, "widget-1")
	require.NoError(t, err)
	assert.Equal(t, lower.ID, got.ID)
	assert.True(t, got.Price.Equal(lower.Price))

	// Both now cached; repeat lookups still return the right product.
	got, err = r.ProductBySKU(ctx, testTenantID, "WIDGET-1")
	require.NoError(t, err)
	assert.Equal(t, upper.ID, got.ID)
}

func TestProductBySKU_CacheInvalidation(t *testing.T) {
	r, db := setupResolver(t)
	ctx := context.Background()

	product := seedProduct(t, db, "SKU-CACHED", "15.00")

	got, err := r.ProductBySKU(ctx, testTenantID, "SKU-CACHED")
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(product.Price))

	newPrice := decimal.NewFromFloat(18.50)
	require.NoError(t, db.Model(&domain.Product{}).
		Where("id = ?", product.ID).
		Update("price", newPrice).Error)

	// Stale until invalidated.
	got, err = r.ProductBySKU(ctx, testTenantID, "SKU-CACHED")
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(product.Price))

	r.InvalidateProduct(testTenantID, "SKU-CACHED")
	got, err = r.ProductBySKU(ctx, testTenantID, "SKU-CACHED")
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(newPrice))
}

func TestEnsureCustomer_ReusesExisting(t *testing.T) {
	r, _ := setupResolver(t)
	ctx := context.Background()

	first, err := r.EnsureCustomer(ctx, testTenantID, "Jo@Example.com", "Jo")
	require.NoError(t, err)
	assert.Equal(t, "jo@example.com", first.Email)

	second, err := r.EnsureCustomer(ctx, testTenantID, "jo@example.com", "Jo Again")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}
