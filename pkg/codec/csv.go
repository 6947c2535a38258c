package codec

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/iwvelando/loan-amortization/pkg/loans"
	"github.com/shopspring/decimal"
)

// MetadataMarker is the first field of the metadata record.
const MetadataMarker = "#metadata"

// Header lists the schedule columns, in order.
var Header = []string{
	"month",
	"payment",
	"principal",
	"interest",
	"extra",
	"remainingBalance",
	"cumulativeInterest",
}

// EncodeCSV writes the snapshot as a metadata record, a header record and one
// record per period. Amounts are rounded to the cent.
func EncodeCSV(w io.Writer, s Snapshot) error {
	metadata, err := json.Marshal(NewConfigRecord(s.Config, s.SavedAt))
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	writer := csv.NewWriter(w)
	if err := writer.Write([]string{MetadataMarker, string(metadata)}); err != nil {
		return err
	}
	if err := writer.Write(Header); err != nil {
		return err
	}
	for _, period := range s.Schedule {
		if err := writer.Write(csvRecord(period)); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// EncodeCSVString is EncodeCSV into a string.
func EncodeCSVString(s Snapshot) (string, error) {
	var builder strings.Builder
	if err := EncodeCSV(&builder, s); err != nil {
		return "", err
	}
	return builder.String(), nil
}

func csvRecord(period loans.AmortizationPeriod) []string {
	return []string{
		strconv.Itoa(period.Month),
		cents(period.Payment),
		cents(period.PrincipalComponent),
		cents(period.InterestComponent),
		cents(period.ExtraPaymentApplied),
		cents(period.RemainingBalance),
		cents(period.CumulativeInterest),
	}
}

func cents(amount float64) string {
	return decimal.NewFromFloat(amount).StringFixed(2)
}

// DecodeCSV reads a snapshot written by EncodeCSV. The configuration comes
// from the metadata record; the schedule rows are read as stored.
func DecodeCSV(r io.Reader) (Snapshot, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	metadata, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return Snapshot{}, ErrMissingMetadata
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read metadata record: %w", err)
	}
	if len(metadata) != 2 || strings.TrimSpace(metadata[0]) != MetadataMarker {
		return Snapshot{}, ErrMissingMetadata
	}

	var record ConfigRecord
	if err := json.Unmarshal([]byte(metadata[1]), &record); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode metadata: %w", err)
	}
	cfg, savedAt, err := record.LoanConfiguration()
	if err != nil {
		return Snapshot{}, err
	}

	header, err := reader.Read()
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: missing header: %v", ErrMalformedRow, err)
	}
	if !equalFields(header, Header) {
		return Snapshot{}, fmt.Errorf("%w: unexpected header %q", ErrMalformedRow, strings.Join(header, ","))
	}

	schedule := []loans.AmortizationPeriod{}
	for line := 3; ; line++ {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Snapshot{}, fmt.Errorf("%w: line %d: %v", ErrMalformedRow, line, err)
		}

		period, err := parsePeriod(fields)
		if err != nil {
			return Snapshot{}, fmt.Errorf("%w: line %d: %v", ErrMalformedRow, line, err)
		}
		if expected := len(schedule) + 1; period.Month != expected {
			return Snapshot{}, fmt.Errorf("%w: line %d: month %d out of sequence, expected %d",
				ErrMalformedRow, line, period.Month, expected)
		}
		schedule = append(schedule, period)
	}

	return Snapshot{Config: cfg, Schedule: schedule, SavedAt: savedAt}, nil
}

func parsePeriod(fields []string) (loans.AmortizationPeriod, error) {
	if len(fields) != len(Header) {
		return loans.AmortizationPeriod{}, fmt.Errorf("expected %d fields, got %d", len(Header), len(fields))
	}

	month, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return loans.AmortizationPeriod{}, fmt.Errorf("invalid month %q", fields[0])
	}

	amounts := make([]float64, len(fields)-1)
	for i, field := range fields[1:] {
		value, err := decimal.NewFromString(strings.TrimSpace(field))
		if err != nil {
			return loans.AmortizationPeriod{}, fmt.Errorf("invalid %s %q", Header[i+1], field)
		}
		amounts[i] = value.InexactFloat64()
	}

	return loans.AmortizationPeriod{
		Month:               month,
		Payment:             amounts[0],
		PrincipalComponent:  amounts[1],
		InterestComponent:   amounts[2],
		ExtraPaymentApplied: amounts[3],
		RemainingBalance:    amounts[4],
		CumulativeInterest:  amounts[5],
	}, nil
}

func equalFields(got, expected []string) bool {
	if len(got) != len(expected) {
		return false
	}
	for i := range got {
		if strings.TrimSpace(got[i]) != expected[i] {
			return false
		}
	}
	return true
}
