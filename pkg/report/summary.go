// Package report derives the figures shown alongside an amortization
// schedule: the summary, savings against the original term, chart samples and
// table pages.
package report

import (
	"math"
	"time"

	"github.com/iwvelando/loan-amortization/pkg/constants"
	"github.com/iwvelando/loan-amortization/pkg/datetime"
	"github.com/iwvelando/loan-amortization/pkg/loans"
	"github.com/iwvelando/loan-amortization/pkg/mathutil"
)

// Summary holds the headline figures for a schedule.
type Summary struct {
	MonthlyPayment float64
	TotalPrincipal float64
	TotalInterest  float64
	TotalPayments  float64
	PayoffMonths   int
	// PayoffDate is the zero time when the configuration has no start date.
	PayoffDate time.Time
	Converged  bool
	Savings    *Savings
}

// Savings compares an accelerated schedule with the original term. It is only
// produced when the loan is paid off before the original term ends.
type Savings struct {
	OriginalTermMonths    int
	MonthsSaved           int
	OriginalTotalInterest float64
	InterestSaved         float64
	OriginalPayoffDate    time.Time
}

// Summarize derives the summary for schedule, which must have been built from
// cfg. It returns false for an empty schedule.
func Summarize(cfg loans.LoanConfiguration, schedule []loans.AmortizationPeriod) (Summary, bool) {
	if len(schedule) == 0 {
		return Summary{}, false
	}

	last := schedule[len(schedule)-1]
	standardPayment := cfg.StandardPayment()
	paidPrincipal := cfg.Principal - last.RemainingBalance

	summary := Summary{
		MonthlyPayment: standardPayment,
		TotalPrincipal: cfg.Principal,
		TotalInterest:  last.CumulativeInterest,
		TotalPayments:  paidPrincipal + last.CumulativeInterest,
		PayoffMonths:   last.Month,
		Converged:      loans.PaidOff(schedule),
	}
	if !cfg.StartDate.IsZero() {
		summary.PayoffDate = datetime.AddMonths(cfg.StartDate, last.Month)
	}

	originalTermMonths := OriginalTermMonths(cfg)
	if summary.Converged && last.Month < originalTermMonths {
		originalInterest := standardPayment*float64(originalTermMonths) - cfg.Principal
		savings := &Savings{
			OriginalTermMonths:    originalTermMonths,
			MonthsSaved:           originalTermMonths - last.Month,
			OriginalTotalInterest: originalInterest,
			InterestSaved:         mathutil.Max(0, originalInterest-last.CumulativeInterest),
		}
		if !cfg.StartDate.IsZero() {
			savings.OriginalPayoffDate = datetime.AddMonths(cfg.StartDate, originalTermMonths)
		}
		summary.Savings = savings
	}

	return summary, true
}

// OriginalTermMonths is the scheduled number of payments rounded up to whole
// months.
func OriginalTermMonths(cfg loans.LoanConfiguration) int {
	return int(math.Ceil(cfg.TermYears * constants.MonthsPerYear))
}

// ChartPoint is one sample of the balance-over-time chart.
type ChartPoint struct {
	Month   int
	Year    int
	Balance float64
}

// ChartPoints samples the schedule once per year plus its final period.
func ChartPoints(schedule []loans.AmortizationPeriod) []ChartPoint {
	points := make([]ChartPoint, 0, len(schedule)/constants.MonthsPerYear+1)
	for i, period := range schedule {
		if period.Month%constants.MonthsPerYear == 0 || i == len(schedule)-1 {
			points = append(points, ChartPoint{
				Month:   period.Month,
				Year:    (period.Month + constants.MonthsPerYear - 1) / constants.MonthsPerYear,
				Balance: period.RemainingBalance,
			})
		}
	}
	return points
}
