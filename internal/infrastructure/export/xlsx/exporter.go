// Package xlsx renders a processed document as a workbook with the
// structured record on one sheet and the recognized text on another.
package xlsx

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/heritage-ocr/internal/core/domain"
)

const (
	RecordSheet = "Record"
	TextSheet   = "Text"
	contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type Exporter struct{}

func New() *Exporter { return &Exporter{} }

func (e *Exporter) ContentType() string { return contentType }

func (e *Exporter) Export(w io.Writer, doc *domain.ProcessedDocument) error {
	if doc == nil {
		return domain.WrapError(domain.ErrNotFound, "export.xlsx", fmt.Errorf("no processed document"))
	}

	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	if err := f.SetSheetName(f.GetSheetName(0), RecordSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := writeRecordSheet(f, doc); err != nil {
		return err
	}
	if _, err := f.NewSheet(TextSheet); err != nil {
		return fmt.Errorf("create text sheet: %w", err)
	}
	if err := writeTextSheet(f, doc.Recognition); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func writeRecordSheet(f *excelize.File, doc *domain.ProcessedDocument) error {
	rows := [][]any{{"Field", "Value"}}
	for _, field := range flattenRecord(doc.Record) {
		rows = append(rows, []any{field.key, field.value})
	}
	rows = append(rows,
		[]any{"", ""},
		[]any{"Source file", doc.Document.Filename},
		[]any{"OCR engine", doc.Recognition.Engine},
		[]any{"Language", doc.Recognition.Language},
	)
	if doc.Ledger != nil {
		rows = append(rows,
			[]any{"Ledger index", doc.Ledger.Index},
			[]any{"Ledger hash", doc.Ledger.Hash},
		)
	}
	if err := setRows(f, RecordSheet, rows); err != nil {
		return err
	}
	if err := f.SetColWidth(RecordSheet, "A", "A", 28); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}
	return f.SetColWidth(RecordSheet, "B", "B", 80)
}

func writeTextSheet(f *excelize.File, recognition domain.Recognition) error {
	rows := [][]any{{"#", "Label", "Text", "X", "Y", "Width", "Height"}}
	for i, span := range recognition.Spans {
		rows = append(rows, []any{
			i + 1, span.Label, span.Text,
			span.Bounds.X, span.Bounds.Y, span.Bounds.Width, span.Bounds.Height,
		})
	}
	if len(recognition.Spans) == 0 && recognition.Text != "" {
		rows = append(rows, []any{1, "", recognition.Text})
	}
	if err := setRows(f, TextSheet, rows); err != nil {
		return err
	}
	return f.SetColWidth(TextSheet, "C", "C", 80)
}

func setRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("set %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

type field struct {
	key   string
	value string
}

// flattenRecord turns nested objects into dotted keys sorted by name.
// Lists of scalars are joined with "; ", other lists stay as JSON.
func flattenRecord(record domain.StructuredRecord) []field {
	var out []field
	var walk func(prefix string, value any)
	walk = func(prefix string, value any) {
		switch v := value.(type) {
		case map[string]any:
			keys := make([]string, 0, len(v))
			for k := range v {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				name := k
				if prefix != "" {
					name = prefix + "." + k
				}
				walk(name, v[k])
			}
		case []any:
			if parts, ok := scalarList(v); ok {
				out = append(out, field{key: prefix, value: strings.Join(parts, "; ")})
				return
			}
			raw, _ := json.Marshal(v)
			out = append(out, field{key: prefix, value: string(raw)})
		default:
			out = append(out, field{key: prefix, value: scalarString(v)})
		}
	}
	walk("", map[string]any(record))
	return out
}

func scalarList(values []any) ([]string, bool) {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		switch v.(type) {
		case map[string]any, []any:
			return nil, false
		}
		parts = append(parts, scalarString(v))
	}
	return parts, true
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprint(t)
	}
}
