package listing

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/erp/console/internal/domain/shared"
)

// ExportFormat is the file format of a bulk export
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatXLSX ExportFormat = "xlsx"
)

// ParseExportFormat validates a user supplied export format
func ParseExportFormat(s string) (ExportFormat, error) {
	switch ExportFormat(strings.ToLower(strings.TrimSpace(s))) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatXLSX, "excel":
		return FormatXLSX, nil
	}
	return "", shared.NewValidationError("format", "export format must be csv or xlsx")
}

// Extension returns the file extension for the format
func (f ExportFormat) Extension() string {
	return string(f)
}

// ContentType returns the MIME type for the format
func (f ExportFormat) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Blob is a binary payload returned by an export
type Blob struct {
	Data        []byte
	ContentType string
	Format      ExportFormat
}

// DataSource is the contract of the managed backend a view talks to.
// Implementations are stateless translations of these calls into backend
// requests; they never retry on their own and fail with *shared.RemoteError.
type DataSource interface {
	// Query returns one page of a collection
	Query(ctx context.Context, collection string, q Query) (PageResult, error)
	// Get returns a single record
	Get(ctx context.Context, collection, id string) (Record, error)
	// Insert creates a record and returns it as stored
	Insert(ctx context.Context, collection string, values map[string]any) (Record, error)
	// Mutate applies a patch to one record and returns the updated row
	Mutate(ctx context.Context, collection, id string, patch map[string]any) (Record, error)
	// Delete removes one record
	Delete(ctx context.Context, collection, id string) error
	// BulkMutate applies one patch to every id and returns the updated count
	BulkMutate(ctx context.Context, collection string, ids []string, patch map[string]any) (int64, error)
	// BulkDelete removes every id and returns the deleted count
	BulkDelete(ctx context.Context, collection string, ids []string) (int64, error)
	// ExportSelected renders the given ids as a spreadsheet
	ExportSelected(ctx context.Context, collection string, ids []string, format ExportFormat) (Blob, error)
	// CallProcedure invokes a named server-side procedure
	CallProcedure(ctx context.Context, name string, args map[string]any) (json.RawMessage, error)
}
