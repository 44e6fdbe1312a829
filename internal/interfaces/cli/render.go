package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	applisting "github.com/erp/console/internal/application/listing"
	"github.com/erp/console/internal/domain/catalog"
	"github.com/erp/console/internal/domain/listing"
	"github.com/erp/console/internal/domain/shared"
	"github.com/erp/console/internal/infrastructure/notify"
)

// Output formats
const (
	OutputTable = "table"
	OutputJSON  = "json"
)

const maxCellWidth = 40

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	oddRowStyle = cellStyle.Foreground(lipgloss.Color("245"))
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	severityStyles = map[shared.Severity]lipgloss.Style{
		shared.SeveritySuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		shared.SeverityInfo:    lipgloss.NewStyle().Foreground(lipgloss.Color("69")),
		shared.SeverityWarning: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		shared.SeverityError:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
)

// pageOutput is the JSON shape of a listed page
type pageOutput struct {
	Collection string           `json:"collection"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
	Total      int64            `json:"total"`
	TotalPages int              `json:"total_pages"`
	Rows       []listing.Record `json:"rows"`
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderPage(w io.Writer, format string, cfg catalog.EntityConfig, st applisting.State) error {
	if format == OutputJSON {
		rows := st.Rows
		if rows == nil {
			rows = []listing.Record{}
		}
		return writeJSON(w, pageOutput{
			Collection: st.Collection,
			Page:       st.Query.Page.Index,
			PageSize:   st.Query.Page.Size,
			Total:      st.Total,
			TotalPages: st.TotalPages,
			Rows:       rows,
		})
	}

	headers := []string{"ID"}
	for _, col := range cfg.Columns {
		headers = append(headers, columnLabel(col))
	}
	body := make([][]string, len(st.Rows))
	for i, r := range st.Rows {
		line := make([]string, 0, len(headers))
		line = append(line, r.ID)
		for _, col := range cfg.Columns {
			v, _ := r.Get(col.Field)
			line = append(line, truncate(listing.ValueString(v), maxCellWidth))
		}
		body[i] = line
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		Rows(body...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row%2 == 1:
				return oddRowStyle
			default:
				return cellStyle
			}
		})

	title := cfg.Title
	if title == "" {
		title = cfg.Collection
	}
	if _, err := fmt.Fprintln(w, titleStyle.Render(title)); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, t.String()); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, mutedStyle.Render(pageSummary(st)))
	return err
}

func pageSummary(st applisting.State) string {
	parts := []string{fmt.Sprintf("page %d of %d", st.Query.Page.Index, max(st.TotalPages, 1)),
		fmt.Sprintf("%d total", st.Total)}
	if !st.Query.Sort.IsZero() {
		parts = append(parts, "sorted by "+st.Query.Sort.String())
	}
	if dims := st.Query.Filters.Dimensions(); len(dims) > 0 {
		parts = append(parts, "filtered on "+strings.Join(dims, ", "))
	}
	if st.Query.Search != "" {
		parts = append(parts, fmt.Sprintf("matching %q", st.Query.Search))
	}
	return strings.Join(parts, " · ")
}

func columnLabel(col catalog.Column) string {
	label := col.Label
	if label == "" {
		label = col.Field
	}
	if col.Editable {
		label += "*"
	}
	return label
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func renderEntities(w io.Writer, format string, configs []catalog.EntityConfig) error {
	if format == OutputJSON {
		type entity struct {
			Kind       catalog.Kind `json:"kind"`
			Collection string       `json:"collection"`
			Title      string       `json:"title"`
			Editable   []string     `json:"editable"`
			Dimensions []string     `json:"dimensions"`
			Sortable   []string     `json:"sortable"`
			PageSize   int          `json:"page_size"`
		}
		out := make([]entity, len(configs))
		for i, c := range configs {
			out[i] = entity{
				Kind:       c.Kind,
				Collection: c.Collection,
				Title:      c.Title,
				Editable:   editableFields(c),
				Dimensions: dimensionNames(c),
				Sortable:   append([]string{}, c.SortableFields...),
				PageSize:   c.PageSize,
			}
		}
		return writeJSON(w, out)
	}

	rows := make([][]string, len(configs))
	for i, c := range configs {
		rows[i] = []string{
			string(c.Kind),
			c.Collection,
			strings.Join(dimensionNames(c), ", "),
			strings.Join(c.SortableFields, ", "),
			strings.Join(editableFields(c), ", "),
		}
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers("KIND", "COLLECTION", "FILTERS", "SORTABLE", "EDITABLE").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	_, err := fmt.Fprintln(w, t.String())
	return err
}

func editableFields(c catalog.EntityConfig) []string {
	out := []string{}
	for _, col := range c.Columns {
		if col.Editable {
			out = append(out, col.Field)
		}
	}
	return out
}

func dimensionNames(c catalog.EntityConfig) []string {
	out := make([]string, len(c.Dimensions))
	for i, d := range c.Dimensions {
		out[i] = fmt.Sprintf("%s (%s)", d.Name, d.Kind)
	}
	return out
}

// renderNotices prints the active notifications, most recent last
func renderNotices(w io.Writer, entries []notify.Entry) {
	for _, e := range entries {
		style, ok := severityStyles[e.Severity]
		if !ok {
			style = mutedStyle
		}
		line := style.Render(e.Title)
		if e.Message != "" {
			line += " " + e.Message
		}
		_, _ = fmt.Fprintln(w, line)
	}
}
