package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/erp/console/internal/domain/catalog"
	"github.com/erp/console/internal/domain/listing"
	"github.com/erp/console/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var procedurePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*(\.[a-z_][a-z0-9_]*)?$`)

var argumentPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// TableSource implements listing.DataSource directly over the marketplace
// tables. Rows are read as generic field maps, so any registered entity whose
// collection names a table can be listed.
type TableSource struct {
	db       *gorm.DB
	registry *catalog.Registry
	now      func() time.Time
}

// NewTableSource creates a data source over db for the registered collections
func NewTableSource(db *gorm.DB, registry *catalog.Registry) *TableSource {
	return &TableSource{db: db, registry: registry, now: time.Now}
}

// Query returns one page of a collection
func (s *TableSource) Query(ctx context.Context, collection string, q listing.Query) (listing.PageResult, error) {
	const op = "query"
	cfg, err := s.entity(op, collection)
	if err != nil {
		return listing.PageResult{}, err
	}

	page := q.Page
	if page.Size <= 0 {
		page = listing.FirstPage(cfg.PageSize)
	}
	if page.Index < 1 {
		page.Index = 1
	}

	base := s.db.WithContext(ctx).Table(collection)
	base = applyFilters(base, q.Filters)
	base = applySearch(base, q.Search, cfg.SearchFields)
	base = base.Session(&gorm.Session{})

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return listing.PageResult{}, dbError(op, err)
	}

	field, desc := orderFor(cfg, q.Sort)
	tx := base
	if field != "" {
		tx = tx.Order(clause.OrderByColumn{Column: clause.Column{Name: field}, Desc: desc})
	}
	tx = tx.Order(clause.OrderByColumn{Column: clause.Column{Name: listing.IDField}})

	var raw []map[string]any
	if err := tx.Offset(page.Offset()).Limit(page.Size).Find(&raw).Error; err != nil {
		return listing.PageResult{}, dbError(op, err)
	}
	rows, err := toRecords(op, raw)
	if err != nil {
		return listing.PageResult{}, err
	}
	return shared.NewPaginated(rows, total, page.Index, page.Size), nil
}

// Get returns a single record
func (s *TableSource) Get(ctx context.Context, collection, id string) (listing.Record, error) {
	const op = "get"
	if _, err := s.entity(op, collection); err != nil {
		return listing.Record{}, err
	}
	return s.get(ctx, op, collection, id)
}

func (s *TableSource) get(ctx context.Context, op, collection, id string) (listing.Record, error) {
	raw := map[string]any{}
	err := s.db.WithContext(ctx).Table(collection).
		Where("? = ?", clause.Column{Name: listing.IDField}, id).
		Take(&raw).Error
	if err != nil {
		return listing.Record{}, dbError(op, err)
	}
	rec, err := listing.NewRecord(normalizeRow(raw))
	if err != nil {
		return listing.Record{}, shared.WrapRemote(op, shared.RemoteCodeDecode, err)
	}
	return rec, nil
}

// Insert creates a record and returns it as stored. A missing id is generated.
func (s *TableSource) Insert(ctx context.Context, collection string, values map[string]any) (listing.Record, error) {
	const op = "insert"
	cfg, err := s.entity(op, collection)
	if err != nil {
		return listing.Record{}, err
	}

	row := make(map[string]any, len(values)+3)
	for k, v := range values {
		if k != listing.IDField {
			if err := checkColumn(op, cfg, k); err != nil {
				return listing.Record{}, err
			}
		}
		row[k] = v
	}
	if listing.IsEmptyValue(row[listing.IDField]) {
		row[listing.IDField] = uuid.NewString()
	}
	now := s.now()
	migrator := s.db.WithContext(ctx).Migrator()
	for _, stamp := range []string{"created_at", "updated_at"} {
		if _, set := row[stamp]; !set && migrator.HasColumn(collection, stamp) {
			row[stamp] = now
		}
	}

	if err := s.db.WithContext(ctx).Table(collection).Create(row).Error; err != nil {
		return listing.Record{}, dbError(op, err)
	}
	return s.get(ctx, op, collection, listing.ValueString(row[listing.IDField]))
}

// Mutate applies a patch to one record and returns the updated row
func (s *TableSource) Mutate(ctx context.Context, collection, id string, patch map[string]any) (listing.Record, error) {
	const op = "mutate"
	cfg, err := s.entity(op, collection)
	if err != nil {
		return listing.Record{}, err
	}
	if err := checkPatch(op, cfg, patch); err != nil {
		return listing.Record{}, err
	}

	res := s.db.WithContext(ctx).Table(collection).
		Where("? = ?", clause.Column{Name: listing.IDField}, id).
		Updates(patch)
	if res.Error != nil {
		return listing.Record{}, dbError(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return listing.Record{}, notFound(op, collection, id)
	}
	return s.get(ctx, op, collection, id)
}

// Delete removes one record
func (s *TableSource) Delete(ctx context.Context, collection, id string) error {
	const op = "delete"
	if _, err := s.entity(op, collection); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Exec("DELETE FROM ? WHERE ? = ?",
		clause.Table{Name: collection}, clause.Column{Name: listing.IDField}, id)
	if res.Error != nil {
		return dbError(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound(op, collection, id)
	}
	return nil
}

// BulkMutate applies one patch to every id in a single statement
func (s *TableSource) BulkMutate(ctx context.Context, collection string, ids []string, patch map[string]any) (int64, error) {
	const op = "bulk_mutate"
	cfg, err := s.entity(op, collection)
	if err != nil {
		return 0, err
	}
	if err := checkPatch(op, cfg, patch); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res := s.db.WithContext(ctx).Table(collection).
		Where("? IN ?", clause.Column{Name: listing.IDField}, ids).
		Updates(patch)
	if res.Error != nil {
		return 0, dbError(op, res.Error)
	}
	return res.RowsAffected, nil
}

// BulkDelete removes every id in a single statement
func (s *TableSource) BulkDelete(ctx context.Context, collection string, ids []string) (int64, error) {
	const op = "bulk_delete"
	if _, err := s.entity(op, collection); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res := s.db.WithContext(ctx).Exec("DELETE FROM ? WHERE ? IN ?",
		clause.Table{Name: collection}, clause.Column{Name: listing.IDField}, ids)
	if res.Error != nil {
		return 0, dbError(op, res.Error)
	}
	return res.RowsAffected, nil
}

// ExportSelected renders the given ids as CSV
func (s *TableSource) ExportSelected(ctx context.Context, collection string, ids []string, format listing.ExportFormat) (listing.Blob, error) {
	const op = "export"
	cfg, err := s.entity(op, collection)
	if err != nil {
		return listing.Blob{}, err
	}
	if format != listing.FormatCSV {
		return listing.Blob{}, &shared.RemoteError{
			Op: op, Code: shared.RemoteCodeUnsupported, Status: http.StatusNotImplemented,
			Message: fmt.Sprintf("%s export is not available for direct table access", format),
		}
	}

	var raw []map[string]any
	if len(ids) > 0 {
		err := s.db.WithContext(ctx).Table(collection).
			Where("? IN ?", clause.Column{Name: listing.IDField}, ids).
			Order(clause.OrderByColumn{Column: clause.Column{Name: listing.IDField}}).
			Find(&raw).Error
		if err != nil {
			return listing.Blob{}, dbError(op, err)
		}
	}
	rows, err := toRecords(op, raw)
	if err != nil {
		return listing.Blob{}, err
	}

	data, err := RenderCSV(cfg, rows)
	if err != nil {
		return listing.Blob{}, shared.WrapRemote(op, shared.RemoteCodeDatabase, err)
	}
	return listing.Blob{Data: data, ContentType: format.ContentType(), Format: format}, nil
}

// CallProcedure invokes a set-returning database function using named
// argument notation and returns its rows as a JSON array. Only PostgreSQL
// supports stored functions.
func (s *TableSource) CallProcedure(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	const op = "rpc"
	if s.db.Dialector.Name() != "postgres" {
		return nil, &shared.RemoteError{
			Op: op, Code: shared.RemoteCodeUnsupported, Status: http.StatusNotImplemented,
			Message: fmt.Sprintf("procedures are not supported by %s", s.db.Dialector.Name()),
		}
	}
	if !procedurePattern.MatchString(name) {
		return nil, invalid(op, fmt.Sprintf("invalid procedure name %q", name))
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		if !argumentPattern.MatchString(k) {
			return nil, invalid(op, fmt.Sprintf("invalid argument name %q", k))
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)

	params := make([]string, len(keys))
	vals := make([]any, len(keys))
	for i, k := range keys {
		params[i] = k + " => ?"
		vals[i] = args[k]
	}
	sql := fmt.Sprintf("SELECT * FROM %s(%s)", name, strings.Join(params, ", "))

	var raw []map[string]any
	if err := s.db.WithContext(ctx).Raw(sql, vals...).Scan(&raw).Error; err != nil {
		return nil, dbError(op, err)
	}
	out := make([]map[string]any, len(raw))
	for i, r := range raw {
		out[i] = normalizeRow(r)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, shared.WrapRemote(op, shared.RemoteCodeDecode, err)
	}
	return data, nil
}

func (s *TableSource) entity(op, collection string) (catalog.EntityConfig, error) {
	cfg, err := s.registry.ByCollection(collection)
	if err != nil {
		return catalog.EntityConfig{}, &shared.RemoteError{
			Op: op, Code: shared.RemoteCodeNotFound, Status: http.StatusNotFound,
			Message: fmt.Sprintf("unknown collection %q", collection), Err: err,
		}
	}
	return cfg, nil
}

// orderFor resolves the ORDER BY column against the sort allowlist of the
// entity, falling back to its default sort.
func orderFor(cfg catalog.EntityConfig, sort listing.SortSpec) (string, bool) {
	if sort.IsZero() || !cfg.IsSortable(sort.Field) {
		sort = cfg.DefaultSort
	}
	if sort.IsZero() || !cfg.IsSortable(sort.Field) {
		return "", false
	}
	return sort.Field, listing.ParseDirection(string(sort.Direction)) == listing.Desc
}

func applyFilters(tx *gorm.DB, filters listing.FilterSet) *gorm.DB {
	for _, dim := range filters.Dimensions() {
		c := filters[dim]
		col := clause.Column{Name: c.Field}
		switch c.Kind {
		case listing.KindSet:
			values := make([]string, len(c.Values))
			for i, v := range c.Values {
				values[i] = strings.ToLower(v)
			}
			tx = tx.Where("LOWER(CAST(? AS TEXT)) IN ?", col, values)
		case listing.KindRange:
			if c.Min != nil {
				tx = tx.Where("? >= ?", col, *c.Min)
			}
			if c.Max != nil {
				tx = tx.Where("? <= ?", col, *c.Max)
			}
		case listing.KindMissing:
			conds := make([]string, len(c.Values))
			args := make([]any, 0, 2*len(c.Values))
			for i, field := range c.Values {
				conds[i] = "? IS NULL OR CAST(? AS TEXT) = ''"
				args = append(args, clause.Column{Name: field}, clause.Column{Name: field})
			}
			tx = tx.Where("("+strings.Join(conds, " OR ")+")", args...)
		case listing.KindFlag:
			if c.Flag {
				tx = tx.Where("? = ?", col, true)
			} else {
				tx = tx.Where("(? = ? OR ? IS NULL)", col, false, col)
			}
		}
	}
	return tx
}

func applySearch(tx *gorm.DB, text string, fields []string) *gorm.DB {
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" || len(fields) == 0 {
		return tx
	}
	pattern := "%" + escapeLike(needle) + "%"
	conds := make([]string, len(fields))
	args := make([]any, 0, 2*len(fields))
	for i, f := range fields {
		conds[i] = `LOWER(CAST(? AS TEXT)) LIKE ? ESCAPE '\'`
		args = append(args, clause.Column{Name: f}, pattern)
	}
	return tx.Where("("+strings.Join(conds, " OR ")+")", args...)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func checkColumn(op string, cfg catalog.EntityConfig, field string) error {
	if _, ok := cfg.Column(field); !ok {
		return invalid(op, fmt.Sprintf("unknown field %q", field))
	}
	return nil
}

func checkPatch(op string, cfg catalog.EntityConfig, patch map[string]any) error {
	if len(patch) == 0 {
		return invalid(op, "patch is empty")
	}
	for field := range patch {
		if field == listing.IDField {
			return invalid(op, "id cannot be changed")
		}
		if err := checkColumn(op, cfg, field); err != nil {
			return err
		}
	}
	return nil
}

func toRecords(op string, raw []map[string]any) ([]listing.Record, error) {
	rows := make([]listing.Record, 0, len(raw))
	for _, r := range raw {
		rec, err := listing.NewRecord(normalizeRow(r))
		if err != nil {
			return nil, shared.WrapRemote(op, shared.RemoteCodeDecode, err)
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

// normalizeRow converts driver byte slices to strings
func normalizeRow(r map[string]any) map[string]any {
	for k, v := range r {
		if b, ok := v.([]byte); ok {
			r[k] = string(b)
		}
	}
	return r
}

func dbError(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &shared.RemoteError{Op: op, Code: shared.RemoteCodeNotFound, Message: "record not found", Status: http.StatusNotFound, Err: err}
	}
	return shared.WrapRemote(op, shared.RemoteCodeDatabase, err)
}

func notFound(op, collection, id string) error {
	return &shared.RemoteError{
		Op: op, Code: shared.RemoteCodeNotFound, Status: http.StatusNotFound,
		Message: fmt.Sprintf("%s %q not found", collection, id),
	}
}

func invalid(op, message string) error {
	return &shared.RemoteError{Op: op, Code: shared.RemoteCodeInvalid, Status: http.StatusBadRequest, Message: message}
}
