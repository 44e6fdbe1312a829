package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/erp/console/internal/domain/listing"
	"github.com/erp/console/internal/domain/shared"
)

// pageInfo is the pagination metadata of a list response
type pageInfo struct {
	Total      int64
	TotalPages int
	Page       int
	PageSize   int
}

// envelope covers the response shapes the backend answers with:
// {data, pagination:{total,totalPages,page,limit}} and
// {success, data, meta:{total,page,page_size,total_pages}}.
type envelope struct {
	Success    *bool           `json:"success"`
	Data       json.RawMessage `json:"data"`
	Pagination *struct {
		Total      int64 `json:"total"`
		TotalPages int   `json:"totalPages"`
		Page       int   `json:"page"`
		Limit      int   `json:"limit"`
	} `json:"pagination"`
	Meta *struct {
		Total      int64 `json:"total"`
		Page       int   `json:"page"`
		PageSize   int   `json:"page_size"`
		TotalPages int   `json:"total_pages"`
	} `json:"meta"`
}

func (e envelope) pageInfo() *pageInfo {
	switch {
	case e.Pagination != nil:
		return &pageInfo{Total: e.Pagination.Total, TotalPages: e.Pagination.TotalPages, Page: e.Pagination.Page, PageSize: e.Pagination.Limit}
	case e.Meta != nil:
		return &pageInfo{Total: e.Meta.Total, TotalPages: e.Meta.TotalPages, Page: e.Meta.Page, PageSize: e.Meta.PageSize}
	}
	return nil
}

// decode unmarshals JSON keeping numbers as json.Number
func decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func isArray(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) > 0 && data[0] == '['
}

// decodeRows extracts the rows of a list response. bare is true when the
// backend answered with a plain array and no pagination metadata.
func decodeRows(body []byte) (rows []listing.Record, meta *pageInfo, bare bool, err error) {
	payload := body
	if !isArray(body) {
		var env envelope
		if err := decode(body, &env); err != nil {
			return nil, nil, false, err
		}
		if len(env.Data) == 0 || !isArray(env.Data) {
			return nil, nil, false, fmt.Errorf("response has no data array")
		}
		payload = env.Data
		meta = env.pageInfo()
	}

	var raw []map[string]any
	if err := decode(payload, &raw); err != nil {
		return nil, nil, false, err
	}
	rows = make([]listing.Record, 0, len(raw))
	for i, fields := range raw {
		rec, err := listing.NewRecord(fields)
		if err != nil {
			return nil, nil, false, fmt.Errorf("row %d: %w", i, err)
		}
		rows = append(rows, rec)
	}
	return rows, meta, meta == nil, nil
}

// decodeRecord extracts a single row from {data:{...}}, a bare object or a
// one-element array.
func decodeRecord(body []byte) (listing.Record, error) {
	var fields map[string]any
	if isArray(body) {
		var raw []map[string]any
		if err := decode(body, &raw); err != nil {
			return listing.Record{}, err
		}
		if len(raw) == 0 {
			return listing.Record{}, fmt.Errorf("response array is empty")
		}
		fields = raw[0]
	} else {
		if err := decode(body, &fields); err != nil {
			return listing.Record{}, err
		}
		if data, ok := fields["data"].(map[string]any); ok {
			fields = data
		}
	}
	return listing.NewRecord(fields)
}

// decodeCount reads a count field from {key: n}, {data:{key: n}} or {count: n}
func decodeCount(body []byte, key string) (int64, error) {
	var obj map[string]any
	if err := decode(body, &obj); err != nil {
		return 0, err
	}
	if data, ok := obj["data"].(map[string]any); ok {
		obj = data
	}
	for _, k := range []string{key, "count"} {
		if v, ok := obj[k]; ok {
			d, ok := listing.ValueDecimal(v)
			if !ok {
				return 0, fmt.Errorf("%s is not a number", k)
			}
			return d.IntPart(), nil
		}
	}
	return 0, fmt.Errorf("response has no %s", key)
}

// ParseError builds the RemoteError of a non-2xx response. The code and
// message are read from {error:{code,message}}, {error:"..."},
// {code,message} or {message}; the status text is the fallback.
func ParseError(op string, status int, body []byte) *shared.RemoteError {
	re := &shared.RemoteError{Op: op, Status: status}

	var obj map[string]any
	if len(bytes.TrimSpace(body)) > 0 && decode(body, &obj) == nil {
		switch e := obj["error"].(type) {
		case map[string]any:
			re.Code = stringField(e, "code")
			re.Message = firstString(e, "message", "description")
		case string:
			re.Message = e
		}
		if re.Code == "" {
			re.Code = stringField(obj, "code")
		}
		if re.Message == "" {
			re.Message = firstString(obj, "message", "msg", "detail", "hint")
		}
	}

	if re.Code == "" {
		re.Code = statusCode(status)
	}
	if re.Message == "" {
		re.Message = http.StatusText(status)
		if re.Message == "" {
			re.Message = fmt.Sprintf("status %d", status)
		}
	}
	return re
}

func stringField(obj map[string]any, key string) string {
	v, ok := obj[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(listing.ValueString(v))
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringField(obj, k); s != "" {
			return s
		}
	}
	return ""
}

func statusCode(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return shared.RemoteCodeInvalid
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return shared.RemoteCodeNotFound
	case http.StatusConflict:
		return "CONFLICT"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	}
	return shared.RemoteCodeHTTP
}
