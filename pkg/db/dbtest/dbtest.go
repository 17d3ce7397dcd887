// Package dbtest opens throwaway sqlite databases carrying the full schema.
package dbtest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kayakoyan/marketplace-backend/pkg/db/models"
	"github.com/kayakoyan/marketplace-backend/pkg/enums"
)

// Open returns a shared-cache in-memory database scoped to the running test.
func Open(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(models.All()...))
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

// Fixture is a customer, a worker and one of the worker's listings.
type Fixture struct {
	Customer models.User
	Worker   models.User
	Listing  models.Listing
}

func SeedParticipants(t *testing.T, conn *gorm.DB, listingType enums.ListingType) Fixture {
	t.Helper()
	f := Fixture{
		Customer: models.User{Name: "Ana Cruz", Email: "ana@example.com", Role: enums.RoleCustomer},
		Worker:   models.User{Name: "Ben Reyes", Email: "ben@example.com", Role: enums.RoleWorker},
	}
	require.NoError(t, conn.Create(&f.Customer).Error)
	require.NoError(t, conn.Create(&f.Worker).Error)
	f.Listing = models.Listing{
		WorkerID: f.Worker.ID,
		Title:    "Logo design",
		Type:     listingType,
		Price:    decimal.RequireFromString("1500.00"),
		IsActive: true,
	}
	if listingType == enums.ListingTypeDigitalProduct {
		path := "listings/1/pack.zip"
		f.Listing.Title = "Icon pack"
		f.Listing.DigitalFilePath = &path
	}
	require.NoError(t, conn.Create(&f.Listing).Error)
	return f
}

// SeedOrder inserts an order for the fixture in the given status.
func SeedOrder(t *testing.T, conn *gorm.DB, f Fixture, status enums.OrderStatus) models.Order {
	t.Helper()
	var count int64
	require.NoError(t, conn.Model(&models.Order{}).Count(&count).Error)
	order := models.Order{
		OrderNumber: fmt.Sprintf("KKY-TEST-%04d", count+1),
		ListingID:   f.Listing.ID,
		CustomerID:  f.Customer.ID,
		WorkerID:    f.Worker.ID,
		Quantity:    1,
		UnitPrice:   f.Listing.Price,
		TotalPrice:  f.Listing.Price,
		Status:      status,
	}
	require.NoError(t, conn.Create(&order).Error)
	return order
}
