package catalog

import "github.com/erp/console/internal/domain/listing"

// Products lists the marketplace catalog
func Products() EntityConfig {
	return EntityConfig{
		Kind:       KindProducts,
		Collection: "products",
		Title:      "Products",
		Columns: []Column{
			{Field: "name", Label: "Name", Editable: true},
			{Field: "sku", Label: "SKU"},
			{Field: "category", Label: "Category", Editable: true},
			{Field: "merchant_id", Label: "Merchant"},
			{Field: "selling_price", Label: "Price", Editable: true},
			{Field: "stock", Label: "Stock", Editable: true},
			{Field: "status", Label: "Status", Editable: true},
			{Field: "featured", Label: "Featured", Editable: true},
			{Field: "image_url", Label: "Image"},
			{Field: "description", Label: "Description", Editable: true},
			{Field: "created_at", Label: "Created"},
		},
		Dimensions: []Dimension{
			{Name: "category", Kind: listing.KindSet},
			{Name: "status", Kind: listing.KindSet},
			{Name: "merchant_id", Kind: listing.KindSet},
			{Name: "price", Field: "selling_price", Kind: listing.KindRange},
			{Name: "stock", Kind: listing.KindRange},
			{Name: "featured", Kind: listing.KindFlag},
			{Name: "missing", Kind: listing.KindMissing},
		},
		SortableFields: []string{"name", "sku", "category", "selling_price", "stock", "status", "created_at"},
		SearchFields:   []string{"name", "sku", "description"},
		DefaultSort:    listing.SortSpec{Field: "created_at", Direction: listing.Desc},
		PageSize:       listing.DefaultPageSize,
	}
}

// Merchants lists the sellers on the marketplace
func Merchants() EntityConfig {
	return EntityConfig{
		Kind:       KindMerchants,
		Collection: "merchants",
		Title:      "Merchants",
		Columns: []Column{
			{Field: "name", Label: "Name", Editable: true},
			{Field: "business_type", Label: "Type", Editable: true},
			{Field: "city", Label: "City", Editable: true},
			{Field: "phone", Label: "Phone", Editable: true},
			{Field: "rating", Label: "Rating"},
			{Field: "status", Label: "Status", Editable: true},
			{Field: "verified", Label: "Verified", Editable: true},
			{Field: "logo_url", Label: "Logo"},
			{Field: "created_at", Label: "Joined"},
		},
		Dimensions: []Dimension{
			{Name: "business_type", Kind: listing.KindSet},
			{Name: "city", Kind: listing.KindSet},
			{Name: "status", Kind: listing.KindSet},
			{Name: "rating", Kind: listing.KindRange},
			{Name: "verified", Kind: listing.KindFlag},
			{Name: "missing", Kind: listing.KindMissing},
		},
		SortableFields: []string{"name", "city", "rating", "status", "created_at"},
		SearchFields:   []string{"name", "city", "phone"},
		DefaultSort:    listing.SortSpec{Field: "created_at", Direction: listing.Desc},
		PageSize:       listing.DefaultPageSize,
	}
}

// Customers lists the buyers registered on the marketplace
func Customers() EntityConfig {
	return EntityConfig{
		Kind:       KindCustomers,
		Collection: "customers",
		Title:      "Customers",
		Columns: []Column{
			{Field: "name", Label: "Name", Editable: true},
			{Field: "email", Label: "Email", Editable: true},
			{Field: "phone", Label: "Phone", Editable: true},
			{Field: "city", Label: "City", Editable: true},
			{Field: "status", Label: "Status", Editable: true},
			{Field: "total_orders", Label: "Orders"},
			{Field: "total_spent", Label: "Spent"},
			{Field: "last_order_at", Label: "Last order"},
			{Field: "created_at", Label: "Registered"},
		},
		Dimensions: []Dimension{
			{Name: "city", Kind: listing.KindSet},
			{Name: "status", Kind: listing.KindSet},
			{Name: "total_orders", Kind: listing.KindRange},
			{Name: "total_spent", Kind: listing.KindRange},
			{Name: "missing", Kind: listing.KindMissing},
		},
		SortableFields: []string{"name", "email", "city", "total_orders", "total_spent", "last_order_at", "created_at"},
		SearchFields:   []string{"name", "email", "phone"},
		DefaultSort:    listing.SortSpec{Field: "created_at", Direction: listing.Desc},
		PageSize:       listing.DefaultPageSize,
	}
}

// Builtin returns the configurations shipped with the console
func Builtin() []EntityConfig {
	return []EntityConfig{Products(), Merchants(), Customers()}
}
