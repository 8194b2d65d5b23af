package query

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrRowWidth is returned by Validate when a row does not line up with the
// column list.
var ErrRowWidth = errors.New("row width does not match column count")

// Result is a tabular query result. Column names may repeat and their order
// matters; every row holds exactly len(Columns) values. Types holds the
// backend's type name per column when the driver reports one.
type Result struct {
	Columns []string
	Types   []string
	Rows    [][]any
}

// Validate checks that every row is as wide as the column list.
func (r *Result) Validate() error {
	if r.Types != nil && len(r.Types) != len(r.Columns) {
		return fmt.Errorf("%w: %d types for %d columns", ErrRowWidth, len(r.Types), len(r.Columns))
	}
	for i, row := range r.Rows {
		if len(row) != len(r.Columns) {
			return fmt.Errorf("%w: row %d has %d values, want %d", ErrRowWidth, i, len(row), len(r.Columns))
		}
	}
	return nil
}

func (r *Result) typeOf(col int) string {
	if col < len(r.Types) {
		return r.Types[col]
	}
	return ""
}

// FormatCSV renders r as comma separated lines: a header, then one line per
// row, joined by "\n" without a trailing newline. Values are written as-is.
// Nothing is quoted, so a value holding a comma or newline will shift the
// columns of its line.
func FormatCSV(r *Result) string {
	lines := make([]string, 0, len(r.Rows)+1)
	lines = append(lines, strings.Join(r.Columns, ","))

	fields := make([]string, len(r.Columns))
	for _, row := range r.Rows {
		fields = fields[:0]
		for i, v := range row {
			fields = append(fields, FormatValue(v, r.typeOf(i)))
		}
		lines = append(lines, strings.Join(fields, ","))
	}
	return strings.Join(lines, "\n")
}

// FormatValue renders one cell of a column of type dbType, which may be
// empty when unknown. NULL becomes the empty string.
func FormatValue(v any, dbType string) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		if dbType == "UUID" && len(x) == 16 {
			if id, err := uuid.FromBytes(x); err == nil {
				return id.String()
			}
		}
		return string(x)
	case time.Time:
		return formatTime(x, dbType)
	case *time.Time:
		if x == nil {
			return ""
		}
		return formatTime(*x, dbType)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func formatTime(t time.Time, dbType string) string {
	switch dbType {
	case "DATE":
		return t.Format(time.DateOnly)
	case "TIME":
		return t.Format(time.TimeOnly) + micros(t)
	case "TIMETZ":
		return t.Format(time.TimeOnly) + micros(t) + t.Format("-07:00")
	case "TIMESTAMPTZ":
		return t.Format(time.DateTime) + micros(t) + t.Format("-07:00")
	default:
		return t.Format(time.DateTime) + micros(t)
	}
}

// micros is the fractional second part, present only when non-zero.
func micros(t time.Time) string {
	us := t.Nanosecond() / 1000
	if us == 0 {
		return ""
	}
	return fmt.Sprintf(".%06d", us)
}
