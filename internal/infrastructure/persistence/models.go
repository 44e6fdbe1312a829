package persistence

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ProductModel is the table layout of the products collection
type ProductModel struct {
	ID           string          `gorm:"type:varchar(36);primaryKey"`
	Name         string          `gorm:"type:varchar(200);not null"`
	SKU          string          `gorm:"column:sku;type:varchar(50);uniqueIndex"`
	Category     string          `gorm:"type:varchar(100);index"`
	MerchantID   *string         `gorm:"type:varchar(36);index"`
	SellingPrice decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Stock        int             `gorm:"not null;default:0"`
	Status       string          `gorm:"type:varchar(20);not null;default:'active'"`
	Featured     bool            `gorm:"not null;default:false"`
	ImageURL     *string         `gorm:"type:varchar(500)"`
	Description  string          `gorm:"type:text"`
	CreatedAt    time.Time       `gorm:"not null;index"`
	UpdatedAt    time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ProductModel) TableName() string {
	return "products"
}

// MerchantModel is the table layout of the merchants collection
type MerchantModel struct {
	ID           string          `gorm:"type:varchar(36);primaryKey"`
	Name         string          `gorm:"type:varchar(200);not null"`
	BusinessType string          `gorm:"type:varchar(50);index"`
	City         string          `gorm:"type:varchar(100);index"`
	Phone        string          `gorm:"type:varchar(30)"`
	Rating       decimal.Decimal `gorm:"type:decimal(3,2);not null;default:0"`
	Status       string          `gorm:"type:varchar(20);not null;default:'pending'"`
	Verified     bool            `gorm:"not null;default:false"`
	LogoURL      *string         `gorm:"type:varchar(500)"`
	CreatedAt    time.Time       `gorm:"not null;index"`
	UpdatedAt    time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (MerchantModel) TableName() string {
	return "merchants"
}

// CustomerModel is the table layout of the customers collection
type CustomerModel struct {
	ID          string          `gorm:"type:varchar(36);primaryKey"`
	Name        string          `gorm:"type:varchar(200);not null"`
	Email       string          `gorm:"type:varchar(200);uniqueIndex"`
	Phone       *string         `gorm:"type:varchar(30)"`
	City        string          `gorm:"type:varchar(100);index"`
	Status      string          `gorm:"type:varchar(20);not null;default:'active'"`
	TotalOrders int             `gorm:"not null;default:0"`
	TotalSpent  decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	LastOrderAt *time.Time
	CreatedAt   time.Time `gorm:"not null;index"`
	UpdatedAt   time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CustomerModel) TableName() string {
	return "customers"
}

// Migrate creates or updates the tables of the built-in collections
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&ProductModel{}, &MerchantModel{}, &CustomerModel{})
}
