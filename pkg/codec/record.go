// Package codec defines how a loan configuration and its schedule are written
// to disk and read back.
//
// Reconstruction is total: a decode either returns a complete Snapshot or an
// error, never a partially populated one.
package codec

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/iwvelando/loan-amortization/pkg/constants"
	"github.com/iwvelando/loan-amortization/pkg/datetime"
	"github.com/iwvelando/loan-amortization/pkg/loans"
	"github.com/iwvelando/loan-amortization/pkg/mathutil"
)

// FormatVersion is written into every metadata record.
const FormatVersion = 1

var (
	// ErrMissingMetadata means the input does not start with a metadata record.
	ErrMissingMetadata = errors.New("missing metadata record")

	// ErrMalformedRow means a schedule row could not be parsed.
	ErrMalformedRow = errors.New("malformed schedule row")

	// ErrUnsupportedVersion means the metadata was written by a newer format.
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")
)

// Snapshot is a configuration together with the schedule computed from it.
type Snapshot struct {
	Config   loans.LoanConfiguration
	Schedule []loans.AmortizationPeriod
	SavedAt  time.Time
}

// NewSnapshot builds the schedule for cfg and stamps it with savedAt.
func NewSnapshot(cfg loans.LoanConfiguration, savedAt time.Time) Snapshot {
	return Snapshot{
		Config:   cfg.Clone(),
		Schedule: loans.BuildSchedule(cfg),
		SavedAt:  savedAt.UTC(),
	}
}

// Rebuild recomputes the schedule from the snapshot's configuration. Stored
// rows are rounded to the cent, so the engine stays the source of truth.
func Rebuild(s Snapshot) Snapshot {
	return Snapshot{
		Config:   s.Config.Clone(),
		Schedule: loans.BuildSchedule(s.Config),
		SavedAt:  s.SavedAt,
	}
}

// RowsMatch reports whether stored rows agree with a rebuilt schedule to
// within a cent in every amount.
func RowsMatch(stored, rebuilt []loans.AmortizationPeriod) bool {
	if len(stored) != len(rebuilt) {
		return false
	}
	for i := range stored {
		s, r := stored[i], rebuilt[i]
		if s.Month != r.Month {
			return false
		}
		for _, pair := range [][2]float64{
			{s.Payment, r.Payment},
			{s.PrincipalComponent, r.PrincipalComponent},
			{s.InterestComponent, r.InterestComponent},
			{s.ExtraPaymentApplied, r.ExtraPaymentApplied},
			{s.RemainingBalance, r.RemainingBalance},
			{s.CumulativeInterest, r.CumulativeInterest},
		} {
			if !mathutil.WithinTolerance(pair[0], pair[1], constants.CurrencyTolerance) {
				return false
			}
		}
	}
	return true
}

// ConfigRecord is the on-disk form of a loans.LoanConfiguration.
type ConfigRecord struct {
	Version                   int                  `json:"version"`
	Principal                 float64              `json:"principal"`
	AnnualInterestRatePercent float64              `json:"annualInterestRatePercent"`
	TermYears                 float64              `json:"termYears"`
	StartDate                 string               `json:"startDate,omitempty"`
	RecurringExtraPayment     float64              `json:"recurringExtraPayment"`
	ModificationPeriods       []ModificationRecord `json:"modificationPeriods"`
	SavedAt                   string               `json:"savedAt,omitempty"`
}

// ModificationRecord is the on-disk form of a loans.ModificationPeriod.
type ModificationRecord struct {
	StartMonth int     `json:"startMonth"`
	EndMonth   int     `json:"endMonth"`
	Amount     float64 `json:"amount"`
}

// NewConfigRecord converts cfg into its on-disk form.
func NewConfigRecord(cfg loans.LoanConfiguration, savedAt time.Time) ConfigRecord {
	record := ConfigRecord{
		Version:                   FormatVersion,
		Principal:                 cfg.Principal,
		AnnualInterestRatePercent: cfg.AnnualInterestRatePercent,
		TermYears:                 cfg.TermYears,
		StartDate:                 datetime.FormatDate(cfg.StartDate),
		RecurringExtraPayment:     cfg.RecurringExtraPayment,
		ModificationPeriods:       make([]ModificationRecord, 0, len(cfg.ModificationPeriods)),
	}
	if !savedAt.IsZero() {
		record.SavedAt = savedAt.UTC().Format(time.RFC3339)
	}
	for _, period := range cfg.ModificationPeriods {
		record.ModificationPeriods = append(record.ModificationPeriods, ModificationRecord{
			StartMonth: period.StartMonth,
			EndMonth:   period.EndMonth,
			Amount:     period.Amount,
		})
	}
	return record
}

// LoanConfiguration reconstructs the configuration, restoring the start date
// and validating every modification range.
func (r ConfigRecord) LoanConfiguration() (loans.LoanConfiguration, time.Time, error) {
	if r.Version > FormatVersion {
		return loans.LoanConfiguration{}, time.Time{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, r.Version)
	}

	for name, value := range map[string]float64{
		"principal":             r.Principal,
		"annualInterestRate":    r.AnnualInterestRatePercent,
		"termYears":             r.TermYears,
		"recurringExtraPayment": r.RecurringExtraPayment,
	} {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return loans.LoanConfiguration{}, time.Time{}, fmt.Errorf("metadata field %s is not a finite number", name)
		}
	}

	startDate, err := datetime.ParseDate(r.StartDate)
	if err != nil {
		return loans.LoanConfiguration{}, time.Time{}, fmt.Errorf("metadata start date: %w", err)
	}

	var savedAt time.Time
	if r.SavedAt != "" {
		savedAt, err = time.Parse(time.RFC3339, r.SavedAt)
		if err != nil {
			return loans.LoanConfiguration{}, time.Time{}, fmt.Errorf("metadata saved-at timestamp: %w", err)
		}
	}

	cfg := loans.LoanConfiguration{
		Principal:                 r.Principal,
		AnnualInterestRatePercent: r.AnnualInterestRatePercent,
		TermYears:                 r.TermYears,
		StartDate:                 startDate,
		RecurringExtraPayment:     r.RecurringExtraPayment,
	}
	for i, period := range r.ModificationPeriods {
		if period.StartMonth < 1 || period.EndMonth < period.StartMonth {
			return loans.LoanConfiguration{}, time.Time{}, fmt.Errorf(
				"modification period %d has an invalid range [%d, %d]", i+1, period.StartMonth, period.EndMonth)
		}
		if period.Amount < 0 || math.IsNaN(period.Amount) || math.IsInf(period.Amount, 0) {
			return loans.LoanConfiguration{}, time.Time{}, fmt.Errorf(
				"modification period %d has an invalid amount %v", i+1, period.Amount)
		}
		cfg.ModificationPeriods = append(cfg.ModificationPeriods, loans.ModificationPeriod{
			StartMonth: period.StartMonth,
			EndMonth:   period.EndMonth,
			Amount:     period.Amount,
		})
	}

	return cfg, savedAt, nil
}
