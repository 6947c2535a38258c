package loans

import (
	"time"

	"github.com/iwvelando/loan-amortization/pkg/constants"
)

// ModificationPeriod is an additional payment applied to every month in
// [StartMonth, EndMonth], both inclusive and 1-based.
type ModificationPeriod struct {
	StartMonth int
	EndMonth   int
	Amount     float64
}

// Covers reports whether month falls inside the period's range.
func (p ModificationPeriod) Covers(month int) bool {
	return month >= p.StartMonth && month <= p.EndMonth
}

// LoanConfiguration holds the parameters of a single fixed-rate loan.
type LoanConfiguration struct {
	Principal                 float64
	AnnualInterestRatePercent float64
	TermYears                 float64
	// StartDate anchors month 1. The zero value means unset.
	StartDate             time.Time
	RecurringExtraPayment float64
	ModificationPeriods   []ModificationPeriod
}

// Computable reports whether the configuration has the minimum inputs needed
// to build a schedule.
func (c LoanConfiguration) Computable() bool {
	return c.Principal > 0 && c.TermYears > 0 && c.AnnualInterestRatePercent >= 0
}

// ScheduledPayments is the number of payments in the original term.
func (c LoanConfiguration) ScheduledPayments() float64 {
	return c.TermYears * constants.MonthsPerYear
}

// StandardPayment is the base monthly payment for the original terms.
func (c LoanConfiguration) StandardPayment() float64 {
	return ComputeStandardPayment(c.Principal, c.AnnualInterestRatePercent, c.TermYears)
}

// ExtraPaymentForMonth totals the recurring extra payment and every
// modification period covering month. Overlapping periods add up. Negative
// contributions are ignored.
func (c LoanConfiguration) ExtraPaymentForMonth(month int) float64 {
	amount := 0.0
	if c.RecurringExtraPayment > 0 {
		amount += c.RecurringExtraPayment
	}
	for _, period := range c.ModificationPeriods {
		if period.Covers(month) && period.Amount > 0 {
			amount += period.Amount
		}
	}
	return amount
}

// Clone returns a copy that shares no slices with c.
func (c LoanConfiguration) Clone() LoanConfiguration {
	clone := c
	if c.ModificationPeriods != nil {
		clone.ModificationPeriods = append([]ModificationPeriod(nil), c.ModificationPeriods...)
	}
	return clone
}

// AmortizationPeriod holds the values for a given month of the schedule.
type AmortizationPeriod struct {
	Month               int
	Payment             float64
	PrincipalComponent  float64
	InterestComponent   float64
	RemainingBalance    float64
	CumulativeInterest  float64
	ExtraPaymentApplied float64
}

// RegularPayment is the part of Payment not attributable to extra
// contributions.
func (p AmortizationPeriod) RegularPayment() float64 {
	return p.Payment - p.ExtraPaymentApplied
}
