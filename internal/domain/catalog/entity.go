// Package catalog declares the collections the console can list and the
// per-entity configuration (columns, filter dimensions, sortable and search
// fields) a generic list view is driven by.
package catalog

import (
	"fmt"

	"github.com/erp/console/internal/domain/listing"
	"github.com/erp/console/internal/domain/shared"
)

// Kind identifies an entity type of the marketplace
type Kind string

const (
	KindProducts  Kind = "products"
	KindMerchants Kind = "merchants"
	KindCustomers Kind = "customers"
)

// MaxPageSize is the largest page a view may request
const MaxPageSize = 200

// Column is a field shown in the list
type Column struct {
	Field    string `yaml:"field" validate:"required,identifier"`
	Label    string `yaml:"label"`
	Editable bool   `yaml:"editable"`
}

// Dimension is a filterable facet of the list
type Dimension struct {
	Name  string                `yaml:"name" validate:"required,identifier"`
	Field string                `yaml:"field" validate:"omitempty,identifier"`
	Kind  listing.CriterionKind `yaml:"kind" validate:"required,oneof=set range missing flag"`
}

// EntityConfig is the declarative description of one collection view
type EntityConfig struct {
	Kind           Kind             `yaml:"kind" validate:"required,identifier"`
	Collection     string           `yaml:"collection" validate:"required,identifier"`
	Title          string           `yaml:"title"`
	Columns        []Column         `yaml:"columns" validate:"required,min=1,dive"`
	Dimensions     []Dimension      `yaml:"dimensions" validate:"dive"`
	SortableFields []string         `yaml:"sortable_fields" validate:"dive,identifier"`
	SearchFields   []string         `yaml:"search_fields" validate:"dive,identifier"`
	DefaultSort    listing.SortSpec `yaml:"default_sort"`
	PageSize       int              `yaml:"page_size" validate:"gte=1,lte=200"`
}

// Column returns the declared column for field
func (c EntityConfig) Column(field string) (Column, bool) {
	for _, col := range c.Columns {
		if col.Field == field {
			return col, true
		}
	}
	return Column{}, false
}

// Dimension returns the declared filter dimension by name
func (c EntityConfig) Dimension(name string) (Dimension, bool) {
	for _, d := range c.Dimensions {
		if d.Name == name {
			return d, true
		}
	}
	return Dimension{}, false
}

// IsSortable reports whether the list may be ordered by field
func (c EntityConfig) IsSortable(field string) bool {
	for _, f := range c.SortableFields {
		if f == field {
			return true
		}
	}
	return false
}

// IsEditable reports whether a cell of field may be edited inline
func (c EntityConfig) IsEditable(field string) bool {
	col, ok := c.Column(field)
	return ok && col.Editable
}

// DimensionField returns the record field a dimension filters on.
// Missing-value dimensions name their fields in the criterion values instead.
func (d Dimension) DimensionField() string {
	if d.Field != "" {
		return d.Field
	}
	if d.Kind == listing.KindMissing {
		return ""
	}
	return d.Name
}

// Criterion builds the filter criterion of this dimension from raw values
func (d Dimension) Criterion(values []string) (*listing.Criterion, error) {
	return listing.NewCriterion(d.Name, d.DimensionField(), d.Kind, values)
}

// Criterion builds the criterion of the named dimension from raw values.
// It returns (nil, nil) when the values clear the dimension.
func (c EntityConfig) Criterion(name string, values []string) (*listing.Criterion, error) {
	dim, ok := c.Dimension(name)
	if !ok {
		return nil, shared.NewValidationError(name, "unknown filter dimension")
	}
	crit, err := dim.Criterion(values)
	if err != nil || crit == nil {
		return nil, err
	}
	if err := c.CheckCriterion(name, crit); err != nil {
		return nil, err
	}
	return crit, nil
}

// CheckCriterion validates a criterion stored under dimension name.
// Missing-value criteria may only name declared columns.
func (c EntityConfig) CheckCriterion(name string, crit *listing.Criterion) error {
	dim, ok := c.Dimension(name)
	if !ok {
		return shared.NewValidationError(name, "unknown filter dimension")
	}
	if crit == nil || dim.Kind != listing.KindMissing {
		return nil
	}
	for _, field := range crit.Values {
		if _, ok := c.Column(field); !ok {
			return shared.NewValidationError(name, fmt.Sprintf("%q is not a column of %s", field, c.Collection))
		}
	}
	return nil
}

// NewQuery returns the initial query of a view of this entity. It carries no
// sort: until the user picks one, data sources order by DefaultSort.
func (c EntityConfig) NewQuery() listing.Query {
	return listing.NewQuery(c.PageSize, listing.SortSpec{})
}
