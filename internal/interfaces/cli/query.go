package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/erp/console/internal/domain/catalog"
	"github.com/erp/console/internal/domain/listing"
	"github.com/erp/console/internal/domain/shared"
	"github.com/spf13/cobra"
)

// queryFlags are the list view inputs shared by every command that acts on a page
type queryFlags struct {
	filters  []string
	search   string
	sort     string
	page     int
	pageSize int
}

func (f *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&f.filters, "filter", "f", nil,
		"Filter as dimension=value[,value...]; ranges take min..max (repeatable)")
	cmd.Flags().StringVarP(&f.search, "search", "s", "", "Free-text search")
	cmd.Flags().StringVar(&f.sort, "sort", "", "Sort as field[:asc|desc]; none disables the default sort")
	cmd.Flags().IntVarP(&f.page, "page", "p", 1, "Page number (1-based)")
	cmd.Flags().IntVar(&f.pageSize, "page-size", 0, "Rows per page (default: entity page size)")
}

// build turns the flags into a query on cfg
func (f *queryFlags) build(cfg catalog.EntityConfig) (listing.Query, error) {
	q := cfg.NewQuery()

	for _, raw := range f.filters {
		name, values, err := parseFilter(cfg, raw)
		if err != nil {
			return listing.Query{}, err
		}
		crit, err := cfg.Criterion(name, values)
		if err != nil {
			return listing.Query{}, err
		}
		q.Filters = q.Filters.With(name, crit)
	}

	q.Search = strings.TrimSpace(f.search)

	if f.sort != "" {
		sort, err := parseSort(f.sort)
		if err != nil {
			return listing.Query{}, err
		}
		q.Sort = sort
	}

	q.Page.Index = f.page
	if f.pageSize != 0 {
		q.Page.Size = f.pageSize
	}
	return q, nil
}

func parseFilter(cfg catalog.EntityConfig, raw string) (string, []string, error) {
	name, value, ok := strings.Cut(raw, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", nil, shared.NewValidationError("filter", fmt.Sprintf("expected dimension=value, got %q", raw))
	}
	dim, ok := cfg.Dimension(name)
	if !ok {
		return "", nil, shared.NewValidationError(name, fmt.Sprintf("%s has no filter dimension %q", cfg.Kind, name))
	}
	if dim.Kind == listing.KindRange {
		lo, hi, isRange := strings.Cut(value, "..")
		if !isRange {
			return name, []string{value, value}, nil
		}
		return name, []string{lo, hi}, nil
	}
	if strings.TrimSpace(value) == "" {
		return name, nil, nil
	}
	return name, strings.Split(value, ","), nil
}

func parseSort(raw string) (listing.SortSpec, error) {
	field, dir, hasDir := strings.Cut(strings.TrimSpace(raw), ":")
	if field == "none" {
		return listing.SortSpec{}, nil
	}
	if field == "" {
		return listing.SortSpec{}, shared.NewValidationError("sort", "sort field is empty")
	}
	if !hasDir {
		return listing.SortSpec{Field: field, Direction: listing.Asc}, nil
	}
	switch strings.ToLower(dir) {
	case string(listing.Asc), string(listing.Desc):
		return listing.SortSpec{Field: field, Direction: listing.ParseDirection(dir)}, nil
	}
	return listing.SortSpec{}, shared.NewValidationError("sort", fmt.Sprintf("unknown direction %q", dir))
}

// parseValue reads a cell value typed on the command line. Numbers, booleans
// and null keep their type unless raw is forced to a string.
func parseValue(raw string, forceString bool) any {
	if forceString {
		return raw
	}
	switch raw {
	case "null":
		return nil
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

// splitIDs flattens comma separated id lists and drops blanks
func splitIDs(values []string) []string {
	var ids []string
	for _, v := range values {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}
