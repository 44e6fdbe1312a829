package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/erp/console/internal/domain/catalog"
	"github.com/erp/console/internal/domain/listing"
	"github.com/erp/console/internal/domain/shared"
)

// Source implements listing.DataSource over the backend's REST API
type Source struct {
	client   *Client
	registry *catalog.Registry
}

// NewSource creates a data source. The registry supplies the search fields
// used when a legacy endpoint answers with a bare array; it may be nil.
func NewSource(client *Client, registry *catalog.Registry) *Source {
	return &Source{client: client, registry: registry}
}

type bulkMutateRequest struct {
	IDs   []string       `json:"ids"`
	Patch map[string]any `json:"patch"`
}

type bulkDeleteRequest struct {
	IDs []string `json:"ids"`
}

type exportRequest struct {
	IDs    []string `json:"ids"`
	Format string   `json:"format"`
}

// Query returns one page of a collection
func (s *Source) Query(ctx context.Context, collection string, q listing.Query) (listing.PageResult, error) {
	const op = "query"
	resp, err := s.client.Do(ctx, Request{
		Op:     op,
		Method: http.MethodGet,
		Path:   collectionPath(collection),
		Query:  QueryParams(q),
	})
	if err != nil {
		return listing.PageResult{}, err
	}

	rows, meta, bare, err := decodeRows(resp.Body)
	if err != nil {
		return listing.PageResult{}, shared.WrapRemote(op, shared.RemoteCodeDecode, err)
	}
	if bare {
		cfg := s.entity(collection)
		if q.Sort.IsZero() {
			q.Sort = cfg.DefaultSort
		}
		return listing.Evaluate(rows, q, cfg.SearchFields), nil
	}

	page, size := q.Page.Index, q.Page.Size
	if meta.Page > 0 {
		page = meta.Page
	}
	if meta.PageSize > 0 {
		size = meta.PageSize
	}
	res := shared.NewPaginated(rows, meta.Total, page, size)
	if meta.TotalPages > 0 {
		res.TotalPages = meta.TotalPages
	}
	return res, nil
}

// Get returns a single record
func (s *Source) Get(ctx context.Context, collection, id string) (listing.Record, error) {
	return s.record(ctx, "get", http.MethodGet, recordPath(collection, id), nil)
}

// Insert creates a record and returns it as stored
func (s *Source) Insert(ctx context.Context, collection string, values map[string]any) (listing.Record, error) {
	return s.record(ctx, "insert", http.MethodPost, collectionPath(collection), values)
}

// Mutate applies a patch to one record and returns the updated row
func (s *Source) Mutate(ctx context.Context, collection, id string, patch map[string]any) (listing.Record, error) {
	return s.record(ctx, "mutate", http.MethodPatch, recordPath(collection, id), patch)
}

func (s *Source) record(ctx context.Context, op, method, path string, body any) (listing.Record, error) {
	resp, err := s.client.Do(ctx, Request{Op: op, Method: method, Path: path, Body: body})
	if err != nil {
		return listing.Record{}, err
	}
	rec, err := decodeRecord(resp.Body)
	if err != nil {
		return listing.Record{}, shared.WrapRemote(op, shared.RemoteCodeDecode, err)
	}
	return rec, nil
}

// Delete removes one record
func (s *Source) Delete(ctx context.Context, collection, id string) error {
	_, err := s.client.Do(ctx, Request{Op: "delete", Method: http.MethodDelete, Path: recordPath(collection, id)})
	return err
}

// BulkMutate applies one patch to every id and returns the updated count
func (s *Source) BulkMutate(ctx context.Context, collection string, ids []string, patch map[string]any) (int64, error) {
	return s.count(ctx, "bulk_mutate", collectionPath(collection)+"/bulk-update",
		bulkMutateRequest{IDs: ids, Patch: patch}, "updated_count")
}

// BulkDelete removes every id and returns the deleted count
func (s *Source) BulkDelete(ctx context.Context, collection string, ids []string) (int64, error) {
	return s.count(ctx, "bulk_delete", collectionPath(collection)+"/bulk-delete",
		bulkDeleteRequest{IDs: ids}, "deleted_count")
}

func (s *Source) count(ctx context.Context, op, path string, body any, key string) (int64, error) {
	resp, err := s.client.Do(ctx, Request{Op: op, Method: http.MethodPost, Path: path, Body: body})
	if err != nil {
		return 0, err
	}
	n, err := decodeCount(resp.Body, key)
	if err != nil {
		return 0, shared.WrapRemote(op, shared.RemoteCodeDecode, err)
	}
	return n, nil
}

// ExportSelected asks the backend to render the given ids as a spreadsheet
func (s *Source) ExportSelected(ctx context.Context, collection string, ids []string, format listing.ExportFormat) (listing.Blob, error) {
	resp, err := s.client.Do(ctx, Request{
		Op:      "export",
		Method:  http.MethodPost,
		Path:    collectionPath(collection) + "/export",
		Headers: map[string]string{"Accept": format.ContentType()},
		Body:    exportRequest{IDs: ids, Format: string(format)},
	})
	if err != nil {
		return listing.Blob{}, err
	}
	contentType := resp.Headers.Get("Content-Type")
	if contentType == "" {
		contentType = format.ContentType()
	}
	return listing.Blob{Data: resp.Body, ContentType: contentType, Format: format}, nil
}

// CallProcedure invokes a named server-side procedure and returns its JSON
// result, unwrapped from a {success, data} envelope when present.
func (s *Source) CallProcedure(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	const op = "rpc"
	if args == nil {
		args = map[string]any{}
	}
	resp, err := s.client.Do(ctx, Request{
		Op:     op,
		Method: http.MethodPost,
		Path:   "/rpc/" + url.PathEscape(name),
		Body:   args,
	})
	if err != nil {
		return nil, err
	}

	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(body) {
		return nil, shared.NewRemoteError(op, shared.RemoteCodeDecode, "procedure returned invalid JSON")
	}
	if !isArray(body) {
		var env envelope
		if decode(body, &env) == nil && env.Success != nil && len(env.Data) > 0 {
			return env.Data, nil
		}
	}
	return json.RawMessage(body), nil
}

// entity returns the configuration of collection, or a zero one when the
// collection is not registered
func (s *Source) entity(collection string) catalog.EntityConfig {
	if s.registry == nil {
		return catalog.EntityConfig{}
	}
	cfg, err := s.registry.ByCollection(collection)
	if err != nil {
		return catalog.EntityConfig{}
	}
	return cfg
}

// QueryParams renders a list query as URL parameters:
// page, page_size, order_by, order_dir, search, <dim>=a,b, min_<dim>,
// max_<dim>, missing=f1,f2 and <flag>=true.
func QueryParams(q listing.Query) url.Values {
	v := url.Values{}
	page := q.Page
	if page.Size <= 0 {
		page = listing.FirstPage(0)
	}
	v.Set("page", strconv.Itoa(max(page.Index, 1)))
	v.Set("page_size", strconv.Itoa(page.Size))
	if !q.Sort.IsZero() {
		v.Set("order_by", q.Sort.Field)
		v.Set("order_dir", string(q.Sort.Direction))
	}
	if search := strings.TrimSpace(q.Search); search != "" {
		v.Set("search", search)
	}
	for _, dim := range q.Filters.Dimensions() {
		c := q.Filters[dim]
		switch c.Kind {
		case listing.KindSet:
			v.Set(c.Dimension, strings.Join(c.Values, ","))
		case listing.KindRange:
			if c.Min != nil {
				v.Set("min_"+c.Dimension, c.Min.String())
			}
			if c.Max != nil {
				v.Set("max_"+c.Dimension, c.Max.String())
			}
		case listing.KindMissing:
			v.Set("missing", strings.Join(c.Values, ","))
		case listing.KindFlag:
			v.Set(c.Dimension, strconv.FormatBool(c.Flag))
		}
	}
	return v
}

func collectionPath(collection string) string {
	return "/" + url.PathEscape(collection)
}

func recordPath(collection, id string) string {
	return collectionPath(collection) + "/" + url.PathEscape(id)
}
