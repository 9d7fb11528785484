package migration

import (
	"errors"

	aggregationdomain "github.com/smallbiznis/orderlens/internal/aggregation/domain"
	catalogdomain "github.com/smallbiznis/orderlens/internal/catalog/domain"
	exportdomain "github.com/smallbiznis/orderlens/internal/export/domain"
	ingestdomain "github.com/smallbiznis/orderlens/internal/ingest/domain"
	orderdomain "github.com/smallbiznis/orderlens/internal/order/domain"
	pricedomain "github.com/smallbiznis/orderlens/internal/price/domain"
	stockdomain "github.com/smallbiznis/orderlens/internal/stock/domain"
	tenantdomain "github.com/smallbiznis/orderlens/internal/tenant/domain"
	"gorm.io/gorm"
)

// RunMigrations creates the analytics schema on startup so local and
// self-hosted environments work out of the box.
func RunMigrations(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}

	return conn.AutoMigrate(
		&tenantdomain.Tenant{},
		&catalogdomain.Product{},
		&catalogdomain.Customer{},
		&orderdomain.Order{},
		&orderdomain.OrderItem{},
		&ingestdomain.IngestionJob{},
		&aggregationdomain.MaterializedView{},
		&exportdomain.ExportJob{},
		&stockdomain.StockEvent{},
		&pricedomain.PriceEvent{},
		&pricedomain.PriceHistory{},
	)
}
