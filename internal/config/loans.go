package config

import (
	"fmt"
	"time"

	"github.com/iwvelando/loan-amortization/pkg/datetime"
	"github.com/iwvelando/loan-amortization/pkg/loans"
)

// Loan is the loan block of a config file and the body of API requests.
type Loan struct {
	Principal           float64              `yaml:"principal" json:"principal"`
	InterestRate        float64              `yaml:"interestRate" json:"interestRate"` // annual percent
	TermYears           float64              `yaml:"termYears" json:"termYears"`
	StartDate           string               `yaml:"startDate,omitempty" json:"startDate,omitempty"`
	ExtraPayment        float64              `yaml:"extraPayment,omitempty" json:"extraPayment,omitempty"`
	ModificationPeriods []ModificationPeriod `yaml:"modificationPeriods,omitempty" json:"modificationPeriods,omitempty"`
	OneTimePayments     []OneTimePayment     `yaml:"oneTimePayments,omitempty" json:"oneTimePayments,omitempty"`
}

// ModificationPeriod adds Amount to every payment from StartMonth to
// EndMonth inclusive.
type ModificationPeriod struct {
	StartMonth int     `yaml:"startMonth" json:"startMonth"`
	EndMonth   int     `yaml:"endMonth" json:"endMonth"`
	Amount     float64 `yaml:"amount" json:"amount"`
}

// OneTimePayment is a single extra payment made in the month containing Date.
type OneTimePayment struct {
	Date   string  `yaml:"date" json:"date"`
	Amount float64 `yaml:"amount" json:"amount"`
}

// ToLoanConfiguration converts the loan block for the engine. An empty start
// date becomes the day of now. One-time payments become single-month
// modification periods; those dated before the start are dropped.
func (l Loan) ToLoanConfiguration(now time.Time) (loans.LoanConfiguration, error) {
	start, err := l.startDate(now)
	if err != nil {
		return loans.LoanConfiguration{}, err
	}

	cfg := loans.LoanConfiguration{
		Principal:                 l.Principal,
		AnnualInterestRatePercent: l.InterestRate,
		TermYears:                 l.TermYears,
		StartDate:                 start,
		RecurringExtraPayment:     l.ExtraPayment,
	}

	for _, period := range l.ModificationPeriods {
		cfg.ModificationPeriods = append(cfg.ModificationPeriods, loans.ModificationPeriod{
			StartMonth: period.StartMonth,
			EndMonth:   period.EndMonth,
			Amount:     period.Amount,
		})
	}

	for i, payment := range l.OneTimePayments {
		month, err := paymentMonth(start, payment)
		if err != nil {
			return loans.LoanConfiguration{}, fmt.Errorf("oneTimePayments[%d]: %w", i, err)
		}
		if month < 1 {
			continue
		}
		cfg.ModificationPeriods = append(cfg.ModificationPeriods, loans.ModificationPeriod{
			StartMonth: month,
			EndMonth:   month,
			Amount:     payment.Amount,
		})
	}

	return cfg, nil
}

// FromLoanConfiguration is the inverse of ToLoanConfiguration, with one-time
// payments left as modification periods.
func FromLoanConfiguration(cfg loans.LoanConfiguration) Loan {
	loan := Loan{
		Principal:    cfg.Principal,
		InterestRate: cfg.AnnualInterestRatePercent,
		TermYears:    cfg.TermYears,
		StartDate:    datetime.FormatDate(cfg.StartDate),
		ExtraPayment: cfg.RecurringExtraPayment,
	}
	for _, period := range cfg.ModificationPeriods {
		loan.ModificationPeriods = append(loan.ModificationPeriods, ModificationPeriod{
			StartMonth: period.StartMonth,
			EndMonth:   period.EndMonth,
			Amount:     period.Amount,
		})
	}
	return loan
}

func (l Loan) startDate(now time.Time) (time.Time, error) {
	if l.StartDate == "" {
		return datetime.StartOfDay(now), nil
	}
	start, err := datetime.ParseDate(l.StartDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("startDate: %w", err)
	}
	return start, nil
}

// paymentMonth is the 1-based schedule month containing the payment date.
func paymentMonth(start time.Time, payment OneTimePayment) (int, error) {
	date, err := datetime.ParseDate(payment.Date)
	if err != nil {
		return 0, err
	}
	if date.IsZero() {
		return 0, fmt.Errorf("date is required")
	}
	return datetime.MonthsBetween(start, date) + 1, nil
}

func (l Loan) dateWarnings(start time.Time) []string {
	var warnings []string
	for i, payment := range l.OneTimePayments {
		month, err := paymentMonth(start, payment)
		if err == nil && month < 1 {
			warnings = append(warnings, fmt.Sprintf(
				"One-time payment %d on %s is before the loan start %s and is ignored",
				i+1, payment.Date, datetime.FormatDate(start)))
		}
	}
	return warnings
}
