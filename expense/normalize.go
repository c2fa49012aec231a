package expense

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// DefaultDateLayouts are tried in order by ParseDate.
var DefaultDateLayouts = []string{
	time.DateOnly,
	time.DateTime,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"02/01/2006",
	"02.01.2006",
	"02-01-2006",
	"2006/01/02",
}

// ParseDecimal reads a number written with either '.' or ',' as the decimal
// separator and optional grouping (spaces, no-break spaces, apostrophes, or
// the other separator). When both separators appear, the last one is the
// decimal separator: "1.234,56" and "1,234.56" both read as 1234.56.
// A single comma is a decimal separator: "12,5" is 12.5.
func ParseDecimal(raw string) (decimal.Decimal, error) {
	s := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\u00a0', '\u202f', '\'':
			return -1
		}
		return r
	}, raw)
	if s == "" {
		return decimal.Zero, errEmptyValue
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid number %q", strings.TrimSpace(raw))
	}
	return d, nil
}

// ParseDate reads a calendar date using the given layouts, falling back to
// a spreadsheet serial day number. The result is midnight UTC.
func ParseDate(raw string, layouts []string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, errEmptyValue
	}
	if len(layouts) == 0 {
		layouts = DefaultDateLayouts
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return dateOnly(t), nil
		}
	}

	// Spreadsheet cells formatted as dates come through as serial numbers.
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial >= 1 && serial < 2958466 {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err == nil {
			return dateOnly(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DecodeReceipt decodes base64 receipt content, accepting a data URL
// ("data:image/png;base64,....") and unpadded input.
func DecodeReceipt(raw string) ([]byte, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "data:") {
		if i := strings.IndexByte(s, ','); i >= 0 {
			s = s[i+1:]
		}
	}
	s = strings.Join(strings.Fields(s), "")
	if s == "" {
		return nil, errEmptyValue
	}

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("invalid base64 receipt data")
}
