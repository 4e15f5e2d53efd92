// Package ingest loads the NBIM and custodian CSV exports and normalizes
// them into EventRecords. Both exports are semicolon separated with
// dd.mm.yyyy dates; each source has its own header vocabulary.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"

	"divrecon/internal/logging"
	"divrecon/internal/types"
)

var csvReaderOnce sync.Once

// The exports use ';' separators. gocsv reader configuration is global, so
// it is set exactly once.
func setupCSVReader() {
	csvReaderOnce.Do(func() {
		gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
			r := csv.NewReader(in)
			r.Comma = ';'
			r.LazyQuotes = true
			r.TrimLeadingSpace = true
			return r
		})
	})
}

// RowError records a row that could not be normalized. Bad rows never abort
// a load; they are collected and surfaced alongside the good records.
type RowError struct {
	Line int
	Err  error
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Line, e.Err)
}

type nbimRow struct {
	EventKey    string `csv:"COAC_EVENT_KEY"`
	ISIN        string `csv:"ISIN"`
	SEDOL       string `csv:"SEDOL"`
	Ticker      string `csv:"TICKER"`
	CompanyName string `csv:"ORGANISATION_NAME"`
	ExDate      string `csv:"EXDATE"`
	PaymentDate string `csv:"PAYMENT_DATE"`
	DivRate     string `csv:"DIVIDENDS_PER_SHARE"`
	Nominal     string `csv:"NOMINAL_BASIS"`
	Gross       string `csv:"GROSS_AMOUNT_QUOTATION"`
	Net         string `csv:"NET_AMOUNT_QUOTATION"`
	Tax         string `csv:"WTHTAX_COST_QUOTATION"`
	TaxRate     string `csv:"WTHTAX_RATE"`
	Currency    string `csv:"QUOTATION_CURRENCY"`
	Custodian   string `csv:"CUSTODIAN"`
	BankAccount string `csv:"BANK_ACCOUNT"`
}

type custodyRow struct {
	EventKey    string `csv:"COAC_EVENT_KEY"`
	ISIN        string `csv:"ISIN"`
	SEDOL       string `csv:"SEDOL"`
	ExDate      string `csv:"EX_DATE"`
	PaymentDate string `csv:"PAY_DATE"`
	DivRate     string `csv:"DIV_RATE"`
	Nominal     string `csv:"NOMINAL_BASIS"`
	Gross       string `csv:"GROSS_AMOUNT"`
	Net         string `csv:"NET_AMOUNT_QC"`
	Tax         string `csv:"TAX"`
	TaxRate     string `csv:"TAX_RATE"`
	Currencies  string `csv:"CURRENCIES"`
	Custodian   string `csv:"CUSTODIAN"`
	BankAccount string `csv:"BANK_ACCOUNTS"`
}

// LoadNBIM reads the internal ledger export.
func LoadNBIM(path string) ([]types.EventRecord, []RowError, error) {
	setupCSVReader()
	log := logging.Get(logging.CategoryIngest)

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening ledger export: %w", err)
	}
	defer f.Close()

	var rows []nbimRow
	if err := gocsv.Unmarshal(f, &rows); err != nil {
		return nil, nil, fmt.Errorf("parsing ledger export %s: %w", path, err)
	}

	records := make([]types.EventRecord, 0, len(rows))
	var errs []RowError
	for i, row := range rows {
		rec, err := row.normalize()
		if err != nil {
			errs = append(errs, RowError{Line: i + 2, Err: err})
			continue
		}
		records = append(records, rec)
	}
	log.Infow("loaded ledger export", "file", path, "records", len(records), "bad_rows", len(errs))
	return records, errs, nil
}

// LoadCustody reads the custodian export.
func LoadCustody(path string) ([]types.EventRecord, []RowError, error) {
	setupCSVReader()
	log := logging.Get(logging.CategoryIngest)

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening custodian export: %w", err)
	}
	defer f.Close()

	var rows []custodyRow
	if err := gocsv.Unmarshal(f, &rows); err != nil {
		return nil, nil, fmt.Errorf("parsing custodian export %s: %w", path, err)
	}

	records := make([]types.EventRecord, 0, len(rows))
	var errs []RowError
	for i, row := range rows {
		rec, err := row.normalize()
		if err != nil {
			errs = append(errs, RowError{Line: i + 2, Err: err})
			continue
		}
		records = append(records, rec)
	}
	log.Infow("loaded custodian export", "file", path, "records", len(records), "bad_rows", len(errs))
	return records, errs, nil
}

func (r nbimRow) normalize() (types.EventRecord, error) {
	gross, net, tax, err := parseAmounts(r.Gross, r.Net, r.Tax)
	if err != nil {
		return types.EventRecord{}, err
	}
	exDate, err := parseDate(r.ExDate)
	if err != nil {
		return types.EventRecord{}, fmt.Errorf("ex date: %w", err)
	}
	payDate, err := parseDate(r.PaymentDate)
	if err != nil {
		return types.EventRecord{}, fmt.Errorf("payment date: %w", err)
	}
	return types.EventRecord{
		EventKey:    strings.TrimSpace(r.EventKey),
		ISIN:        strings.TrimSpace(r.ISIN),
		SEDOL:       strings.TrimSpace(r.SEDOL),
		Ticker:      strings.TrimSpace(r.Ticker),
		CompanyName: strings.TrimSpace(r.CompanyName),
		ExDate:      exDate,
		PaymentDate: payDate,
		GrossAmount: gross,
		NetAmount:   net,
		TaxAmount:   tax,
		Currency:    strings.TrimSpace(r.Currency),
		Custodian:   strings.TrimSpace(r.Custodian),
		BankAccount: strings.TrimSpace(r.BankAccount),
		Source:      types.SourceNBIM,
		Extra: map[string]string{
			"dividends_per_share": strings.TrimSpace(r.DivRate),
			"nominal_basis":       strings.TrimSpace(r.Nominal),
			"withholding_rate":    strings.TrimSpace(r.TaxRate),
		},
	}, nil
}

func (r custodyRow) normalize() (types.EventRecord, error) {
	gross, net, tax, err := parseAmounts(r.Gross, r.Net, r.Tax)
	if err != nil {
		return types.EventRecord{}, err
	}
	exDate, err := parseDate(r.ExDate)
	if err != nil {
		return types.EventRecord{}, fmt.Errorf("ex date: %w", err)
	}
	payDate, err := parseDate(r.PaymentDate)
	if err != nil {
		return types.EventRecord{}, fmt.Errorf("pay date: %w", err)
	}
	return types.EventRecord{
		EventKey:    strings.TrimSpace(r.EventKey),
		ISIN:        strings.TrimSpace(r.ISIN),
		SEDOL:       strings.TrimSpace(r.SEDOL),
		ExDate:      exDate,
		PaymentDate: payDate,
		GrossAmount: gross,
		NetAmount:   net,
		TaxAmount:   tax,
		Currency:    firstToken(r.Currencies),
		Custodian:   strings.TrimSpace(r.Custodian),
		BankAccount: strings.TrimSpace(r.BankAccount),
		Source:      types.SourceCustody,
		Extra: map[string]string{
			"div_rate":      strings.TrimSpace(r.DivRate),
			"nominal_basis": strings.TrimSpace(r.Nominal),
			"tax_rate":      strings.TrimSpace(r.TaxRate),
		},
	}, nil
}

func parseAmounts(gross, net, tax string) (g, n, t decimal.Decimal, err error) {
	if g, err = parseAmount(gross); err != nil {
		return g, n, t, fmt.Errorf("gross amount: %w", err)
	}
	if n, err = parseAmount(net); err != nil {
		return g, n, t, fmt.Errorf("net amount: %w", err)
	}
	if t, err = parseAmount(tax); err != nil {
		return g, n, t, fmt.Errorf("tax amount: %w", err)
	}
	return g, n, t, nil
}

// parseAmount accepts empty as zero and tolerates thousands separators.
func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	s = strings.ReplaceAll(s, ",", "")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad amount %q", s)
	}
	return d, nil
}

// parseDate converts dd.mm.yyyy to ISO. Empty stays empty so a missing date
// surfaces as a comparison mismatch rather than a load failure.
func parseDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	t, err := time.Parse("02.01.2006", s)
	if err != nil {
		// Some exports already carry ISO dates.
		if _, isoErr := time.Parse("2006-01-02", s); isoErr == nil {
			return s, nil
		}
		return "", fmt.Errorf("bad date %q", s)
	}
	return t.Format("2006-01-02"), nil
}

// firstToken returns the first whitespace-separated token. The custodian
// export packs several currency codes into one column; the first is the
// quotation currency.
func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
