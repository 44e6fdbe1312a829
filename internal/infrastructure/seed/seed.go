// Package seed fills a marketplace database with generated products,
// merchants and customers for local use of the console.
package seed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/erp/console/internal/infrastructure/persistence"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Counts is how many records of each collection to generate
type Counts struct {
	Merchants int
	Products  int
	Customers int
}

// DefaultCounts returns a data set large enough to page through
func DefaultCounts() Counts {
	return Counts{Merchants: 25, Products: 250, Customers: 120}
}

// Validate checks the counts
func (c Counts) Validate() error {
	if c.Merchants < 0 || c.Products < 0 || c.Customers < 0 {
		return errors.New("seed counts cannot be negative")
	}
	if c.Products > 0 && c.Merchants == 0 {
		return errors.New("products need at least one merchant")
	}
	return nil
}

var (
	merchantTypes    = []string{"retail", "wholesale", "manufacturer", "farm", "artisan"}
	merchantStatuses = []string{"active", "active", "active", "pending", "suspended"}
	productStatuses  = []string{"active", "active", "active", "inactive", "discontinued"}
	customerStatuses = []string{"active", "active", "active", "inactive", "blocked"}
)

// Seeder generates records. The same seed produces the same data set.
type Seeder struct {
	db        *gorm.DB
	faker     *gofakeit.Faker
	logger    *zap.Logger
	now       func() time.Time
	batchSize int
}

// Option configures a Seeder
type Option func(*Seeder)

// WithSeed makes generation deterministic
func WithSeed(seed uint64) Option {
	return func(s *Seeder) {
		s.faker = gofakeit.New(seed)
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Seeder) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the reference time records are dated against
func WithClock(now func() time.Time) Option {
	return func(s *Seeder) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSeeder creates a seeder writing into db
func NewSeeder(db *gorm.DB, opts ...Option) *Seeder {
	s := &Seeder{
		db:        db,
		faker:     gofakeit.New(0),
		logger:    zap.NewNop(),
		now:       time.Now,
		batchSize: 100,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run migrates the tables and inserts the generated records in one transaction
func (s *Seeder) Run(ctx context.Context, counts Counts) error {
	if err := counts.Validate(); err != nil {
		return err
	}
	if err := persistence.Migrate(s.db.WithContext(ctx)); err != nil {
		return fmt.Errorf("migrating tables: %w", err)
	}

	now := s.now().UTC()
	merchants := s.Merchants(counts.Merchants, now)
	ids := make([]string, len(merchants))
	for i, m := range merchants {
		ids[i] = m.ID
	}
	products := s.Products(counts.Products, ids, now)
	customers := s.Customers(counts.Customers, now)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(merchants) > 0 {
			if err := tx.CreateInBatches(merchants, s.batchSize).Error; err != nil {
				return fmt.Errorf("inserting merchants: %w", err)
			}
		}
		if len(products) > 0 {
			if err := tx.CreateInBatches(products, s.batchSize).Error; err != nil {
				return fmt.Errorf("inserting products: %w", err)
			}
		}
		if len(customers) > 0 {
			if err := tx.CreateInBatches(customers, s.batchSize).Error; err != nil {
				return fmt.Errorf("inserting customers: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Database seeded",
		zap.Int("merchants", len(merchants)),
		zap.Int("products", len(products)),
		zap.Int("customers", len(customers)))
	return nil
}

// Merchants generates n merchants
func (s *Seeder) Merchants(n int, now time.Time) []persistence.MerchantModel {
	f := s.faker
	out := make([]persistence.MerchantModel, n)
	for i := range out {
		created := f.DateRange(now.AddDate(-3, 0, 0), now)
		m := persistence.MerchantModel{
			ID:           f.UUID(),
			Name:         f.Company(),
			BusinessType: f.RandomString(merchantTypes),
			City:         f.City(),
			Phone:        f.Phone(),
			Rating:       decimal.NewFromFloat(f.Float64Range(1, 5)).Round(2),
			Status:       f.RandomString(merchantStatuses),
			Verified:     f.Number(1, 10) > 3,
			CreatedAt:    created,
			UpdatedAt:    created,
		}
		// about one in five merchants has no logo
		if f.Number(1, 5) > 1 {
			logo := f.URL() + "/logo.png"
			m.LogoURL = &logo
		}
		out[i] = m
	}
	return out
}

// Products generates n products spread over the given merchants
func (s *Seeder) Products(n int, merchantIDs []string, now time.Time) []persistence.ProductModel {
	f := s.faker
	out := make([]persistence.ProductModel, n)
	for i := range out {
		created := f.DateRange(now.AddDate(-1, 0, 0), now)
		p := persistence.ProductModel{
			ID:           f.UUID(),
			Name:         f.ProductName(),
			SKU:          fmt.Sprintf("SKU-%05d", i+1),
			Category:     f.ProductCategory(),
			SellingPrice: decimal.NewFromFloat(f.Price(1, 500)).Round(2),
			Stock:        f.Number(0, 1000),
			Status:       f.RandomString(productStatuses),
			Featured:     f.Number(1, 10) == 1,
			Description:  f.ProductDescription(),
			CreatedAt:    created,
			UpdatedAt:    created,
		}
		if len(merchantIDs) > 0 {
			id := merchantIDs[f.Number(0, len(merchantIDs)-1)]
			p.MerchantID = &id
		}
		if f.Number(1, 5) > 1 {
			img := fmt.Sprintf("%s/products/%s.jpg", f.URL(), strings.ToLower(p.SKU))
			p.ImageURL = &img
		}
		out[i] = p
	}
	return out
}

// Customers generates n customers with unique emails
func (s *Seeder) Customers(n int, now time.Time) []persistence.CustomerModel {
	f := s.faker
	out := make([]persistence.CustomerModel, n)
	for i := range out {
		created := f.DateRange(now.AddDate(-2, 0, 0), now)
		first, last := f.FirstName(), f.LastName()
		c := persistence.CustomerModel{
			ID:          f.UUID(),
			Name:        first + " " + last,
			Email:       fmt.Sprintf("%s.%s.%d@%s", strings.ToLower(first), strings.ToLower(last), i+1, f.DomainName()),
			City:        f.City(),
			Status:      f.RandomString(customerStatuses),
			TotalOrders: f.Number(0, 60),
			CreatedAt:   created,
			UpdatedAt:   created,
		}
		if c.TotalOrders > 0 {
			c.TotalSpent = decimal.NewFromFloat(f.Price(10, 300)).Mul(decimal.NewFromInt(int64(c.TotalOrders))).Round(2)
			lastOrder := f.DateRange(created, now)
			c.LastOrderAt = &lastOrder
		}
		if f.Number(1, 4) > 1 {
			phone := f.Phone()
			c.Phone = &phone
		}
		out[i] = c
	}
	return out
}
