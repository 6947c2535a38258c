// Package output provides utilities for formatting and displaying amortization
// results.
package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/iwvelando/loan-amortization/pkg/codec"
	"github.com/iwvelando/loan-amortization/pkg/constants"
	"github.com/iwvelando/loan-amortization/pkg/format"
	"github.com/iwvelando/loan-amortization/pkg/loans"
	"github.com/iwvelando/loan-amortization/pkg/report"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// PrettyFormat writes a human-readable rather than machine-readable summary
// followed by the full schedule table.
func PrettyFormat(w io.Writer, cfg loans.LoanConfiguration, schedule []loans.AmortizationPeriod) {
	p := message.NewPrinter(language.English)

	summary, ok := report.Summarize(cfg, schedule)
	if !ok {
		fmt.Fprintf(w, "No schedule: the loan needs a positive principal and term and a non-negative rate.\n")
		return
	}

	fmt.Fprintf(w, "--- Loan summary ---\n")
	_, _ = p.Fprintf(w, "Principal        | $%.2f\n", cfg.Principal)
	_, _ = p.Fprintf(w, "Interest rate    | %.3f%%\n", cfg.AnnualInterestRatePercent)
	fmt.Fprintf(w, "Term             | %s\n", format.Months(report.OriginalTermMonths(cfg)))
	if !cfg.StartDate.IsZero() {
		fmt.Fprintf(w, "Start date       | %s\n", cfg.StartDate.Format(constants.DateLayout))
	}
	_, _ = p.Fprintf(w, "Monthly payment  | $%.2f\n", summary.MonthlyPayment)
	if cfg.RecurringExtraPayment > 0 {
		_, _ = p.Fprintf(w, "Extra payment    | $%.2f\n", cfg.RecurringExtraPayment)
	}
	for _, period := range cfg.ModificationPeriods {
		_, _ = p.Fprintf(w, "Extra months     | %d-%d: $%.2f\n", period.StartMonth, period.EndMonth, period.Amount)
	}
	_, _ = p.Fprintf(w, "Total interest   | $%.2f\n", summary.TotalInterest)
	_, _ = p.Fprintf(w, "Total payments   | $%.2f\n", summary.TotalPayments)

	payoff := format.Months(summary.PayoffMonths)
	if !summary.PayoffDate.IsZero() {
		payoff += ", " + summary.PayoffDate.Format(constants.MonthLayout)
	}
	fmt.Fprintf(w, "Payoff           | %s\n", payoff)

	if summary.Savings != nil {
		_, _ = p.Fprintf(w, "Interest saved   | $%.2f\n", summary.Savings.InterestSaved)
		fmt.Fprintf(w, "Time saved       | %s\n", format.Months(summary.Savings.MonthsSaved))
	}
	if !summary.Converged {
		fmt.Fprintf(w, "Warning          | balance not repaid within %d payments\n", summary.PayoffMonths)
	}

	fmt.Fprintf(w, "\n--- Schedule ---\n")
	fmt.Fprintf(w, "Month | Payment ($) | Principal ($) | Interest ($) | Extra ($) | Balance ($)\n")
	fmt.Fprintf(w, "_____ | ___________ | _____________ | ____________ | _________ | ___________\n")
	for _, period := range schedule {
		fmt.Fprintf(w, "%d | %s | %s | %s | %s | %s\n",
			period.Month,
			format.NumericCurrency(period.Payment),
			format.NumericCurrency(period.PrincipalComponent),
			format.NumericCurrency(period.InterestComponent),
			format.NumericCurrency(period.ExtraPaymentApplied),
			format.NumericCurrency(period.RemainingBalance),
		)
	}
}

// CsvFormat writes the snapshot in the on-disk CSV format.
func CsvFormat(w io.Writer, snapshot codec.Snapshot) error {
	return codec.EncodeCSV(w, snapshot)
}

// CsvString returns the snapshot in the on-disk CSV format.
func CsvString(snapshot codec.Snapshot) (string, error) {
	var builder strings.Builder
	if err := CsvFormat(&builder, snapshot); err != nil {
		return "", err
	}
	return builder.String(), nil
}
