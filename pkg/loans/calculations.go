// Package loans computes loan amortization schedules.
//
// The functions in this file are pure: they hold no state, perform no I/O and
// may be called concurrently. Generator wraps them with logging for callers
// that want it.
package loans

import (
	"math"

	"github.com/iwvelando/loan-amortization/pkg/constants"
	"github.com/iwvelando/loan-amortization/pkg/mathutil"
)

// maxPreallocatedPeriods covers a 50-year term with room for the cap.
const maxPreallocatedPeriods = 1200

// ComputeStandardPayment calculates the fixed monthly payment that amortizes
// principal over termYears at the given annual percentage rate. It returns 0
// when the inputs cannot produce a payment.
func ComputeStandardPayment(principal, annualRatePercent, termYears float64) float64 {
	if principal <= 0 || termYears <= 0 || annualRatePercent < 0 {
		return 0
	}

	numberOfPayments := termYears * constants.MonthsPerYear
	monthlyRate := mathutil.MonthlyRate(annualRatePercent)
	if monthlyRate == 0 {
		// For zero interest, simply divide the principal by term
		return principal / numberOfPayments
	}

	power := math.Pow(1.00+monthlyRate, numberOfPayments)
	payment := principal * monthlyRate * power / (power - 1.00)
	if !mathutil.IsFinite(payment) || payment <= 0 {
		return 0
	}
	return payment
}

// CalculateInterestPayment calculates the interest accrued on a balance for
// one month.
func CalculateInterestPayment(remainingBalance, monthlyRate float64) float64 {
	if monthlyRate == 0 {
		return 0
	}
	return remainingBalance * monthlyRate
}

// ScheduleCap returns the maximum number of periods BuildSchedule will emit
// for a term, twice the scheduled number of payments and never less than one.
func ScheduleCap(termYears float64) int {
	limit := int(math.Ceil(termYears * constants.MonthsPerYear * constants.ScheduleCapMultiplier))
	if limit < 1 {
		return 1
	}
	return limit
}

// BuildSchedule produces the month-by-month amortization schedule for cfg.
//
// An invalid configuration yields an empty schedule. A configuration that does
// not pay off within ScheduleCap periods yields the periods computed so far,
// the last of which still carries a positive balance.
func BuildSchedule(cfg LoanConfiguration) []AmortizationPeriod {
	if !cfg.Computable() {
		return []AmortizationPeriod{}
	}

	standardPayment := ComputeStandardPayment(cfg.Principal, cfg.AnnualInterestRatePercent, cfg.TermYears)
	if standardPayment == 0 {
		return []AmortizationPeriod{}
	}

	monthlyRate := mathutil.MonthlyRate(cfg.AnnualInterestRatePercent)
	maxPeriods := ScheduleCap(cfg.TermYears)

	balance := cfg.Principal
	cumulativeInterest := 0.0
	schedule := make([]AmortizationPeriod, 0, min(maxPeriods, maxPreallocatedPeriods))

	// The balance only reaches the payoff tolerance through the final-period
	// branch, which also ends the loop.
	for month := 1; month <= maxPeriods; month++ {
		interest := CalculateInterestPayment(balance, monthlyRate)
		extra := cfg.ExtraPaymentForMonth(month)
		available := standardPayment + extra
		principalPortion := available - interest

		period := AmortizationPeriod{
			Month:             month,
			InterestComponent: interest,
		}

		if mathutil.IsPaidOff(balance - principalPortion) {
			// Final period: pay exactly what is left.
			period.PrincipalComponent = balance
			period.Payment = balance + interest
			period.ExtraPaymentApplied = mathutil.Max(0, period.Payment-standardPayment)
			period.RemainingBalance = 0
			cumulativeInterest += interest
			period.CumulativeInterest = cumulativeInterest
			schedule = append(schedule, period)
			break
		}

		period.PrincipalComponent = principalPortion
		period.Payment = available
		period.ExtraPaymentApplied = mathutil.Max(0, extra)
		balance -= principalPortion
		cumulativeInterest += interest
		period.RemainingBalance = balance
		period.CumulativeInterest = cumulativeInterest
		schedule = append(schedule, period)
	}

	return schedule
}

// PaidOff reports whether a schedule ends with the loan settled. An empty
// schedule is never paid off.
func PaidOff(schedule []AmortizationPeriod) bool {
	if len(schedule) == 0 {
		return false
	}
	return schedule[len(schedule)-1].RemainingBalance == 0
}
