// Package duckdb provides the DuckDB backend for the query executor.
package duckdb

import (
	"fmt"
	"time"

	"github.com/marcboeker/go-duckdb"

	"github.com/walkure/duckdb-acp-slack/pkg/query"
)

// Dial opens a fresh in-memory DuckDB database for every session.
func Dial() query.Dialer {
	return query.OpenSQL("duckdb", "", query.WithValueMapper(mapValue))
}

// mapValue converts the driver's composite scan types to printable values.
func mapValue(v any, _ string) any {
	switch x := v.(type) {
	case duckdb.Decimal:
		if x.Value == nil {
			return nil
		}
		return x.String()
	case *duckdb.Decimal:
		if x == nil || x.Value == nil {
			return nil
		}
		return x.String()
	case duckdb.Interval:
		return FormatInterval(x)
	default:
		return v
	}
}

// FormatInterval prints iv as a day count and a clock, such as
// "1 day, 0:00:00" or "-1 day, 23:59:59.999999". A month counts as 30 days.
func FormatInterval(iv duckdb.Interval) string {
	const day = int64(24 * time.Hour / time.Microsecond)

	total := (int64(iv.Months)*30+int64(iv.Days))*day + iv.Micros
	days := total / day
	rem := total % day
	if rem < 0 {
		rem += day
		days--
	}

	hours := rem / int64(time.Hour/time.Microsecond)
	rem %= int64(time.Hour / time.Microsecond)
	minutes := rem / int64(time.Minute/time.Microsecond)
	rem %= int64(time.Minute / time.Microsecond)
	seconds := rem / int64(time.Second/time.Microsecond)
	us := rem % int64(time.Second/time.Microsecond)

	clock := fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	if us != 0 {
		clock += fmt.Sprintf(".%06d", us)
	}
	switch days {
	case 0:
		return clock
	case 1, -1:
		return fmt.Sprintf("%d day, %s", days, clock)
	default:
		return fmt.Sprintf("%d days, %s", days, clock)
	}
}
