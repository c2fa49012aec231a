package expense

// Optional columns and the aliases accepted for each.
var (
	colOdometer = []string{"odometer", "km", "mileage"}
	colStation  = []string{"station", "station_name"}
	colNotes    = []string{"notes", "comment"}
	colReceipt  = []string{"receipt_b64", "receipt_data"}
	colFilename = []string{"receipt_filename", "filename"}
)

// ImportConfig names the required columns and the accepted date layouts.
// Column names are matched after lower-casing and trimming the header.
type ImportConfig struct {
	CardColumn     string
	DateColumn     string
	AmountColumn   string
	QuantityColumn string
	DateLayouts    []string
}

func DefaultImportConfig() ImportConfig {
	return ImportConfig{
		CardColumn:     "card_uid",
		DateColumn:     "expense_date",
		AmountColumn:   "amount",
		QuantityColumn: "liter_qty",
		DateLayouts:    DefaultDateLayouts,
	}
}

// RequiredColumns lists the columns a file must contain.
func (c ImportConfig) RequiredColumns() []string {
	return []string{
		normalizeHeader(c.CardColumn),
		normalizeHeader(c.DateColumn),
		normalizeHeader(c.AmountColumn),
		normalizeHeader(c.QuantityColumn),
	}
}
