package expense_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fuel-ledger/expense"
)

func TestParseDecimal_LocaleFormats(t *testing.T) {
	cases := map[string]string{
		"12.5":          "12.5",
		"12,5":          "12.5",
		" 45,67 ":       "45.67",
		"1 234,56":      "1234.56",
		"1\u00a0234,56": "1234.56",
		"1\u202f234,56": "1234.56",
		"1.234,56":      "1234.56",
		"1,234.56":      "1234.56",
		"1.234.567":     "1234567",
		"1,234,567":     "1234567",
		"1'234.50":      "1234.5",
		"-3,25":         "-3.25",
		"0":             "0",
	}
	for in, want := range cases {
		got, err := expense.ParseDecimal(in)
		require.NoError(t, err, in)
		assert.True(t, got.Equal(decimal.RequireFromString(want)), "%q: want %s, got %s", in, want, got)
	}
}

func TestParseDecimal_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "abc", "12,5x"} {
		_, err := expense.ParseDecimal(in)
		assert.Error(t, err, in)
	}
}

func TestParseDate(t *testing.T) {
	want := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{
		"2025-03-14",
		"2025-03-14 17:45:00",
		"2025-03-14T17:45:00Z",
		"14/03/2025",
		"14.03.2025",
		"45730", // spreadsheet serial
		"45730.75",
	} {
		got, err := expense.ParseDate(in, nil)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := expense.ParseDate("next tuesday", nil)
	assert.Error(t, err)
	_, err = expense.ParseDate("", nil)
	assert.Error(t, err)
}

func TestDecodeReceipt(t *testing.T) {
	got, err := expense.DecodeReceipt("data:image/png;base64,aGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	got, err = expense.DecodeReceipt("aGVs\nbG8")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	_, err = expense.DecodeReceipt("not base64 at all!!")
	assert.Error(t, err)
}

func TestDedupHash_CanonicalDecimals(t *testing.T) {
	date := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	a := expense.DedupHash("c1", date, decimal.RequireFromString("12.50"), decimal.RequireFromString("10"))
	b := expense.DedupHash("c1", date, decimal.RequireFromString("12.5"), decimal.RequireFromString("10.000"))
	assert.Equal(t, a, b)

	c := expense.DedupHash("c2", date, decimal.RequireFromString("12.5"), decimal.RequireFromString("10"))
	assert.NotEqual(t, a, c)

	d := expense.DedupHash("c1", date.AddDate(0, 0, 1), decimal.RequireFromString("12.5"), decimal.RequireFromString("10"))
	assert.NotEqual(t, a, d)
}
