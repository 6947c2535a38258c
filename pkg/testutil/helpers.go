// Package testutil provides common utility functions for testing.
package testutil

import (
	"github.com/iwvelando/loan-amortization/pkg/loans"
	"github.com/iwvelando/loan-amortization/pkg/mathutil"
)

// FindPeriod finds the period for a 1-based month in a schedule.
// Returns a pointer to the period if found, nil otherwise.
func FindPeriod(schedule []loans.AmortizationPeriod, month int) *loans.AmortizationPeriod {
	for i := range schedule {
		if schedule[i].Month == month {
			return &schedule[i]
		}
	}
	return nil
}

// WithinTolerance reports whether got is within tolerance of expected.
func WithinTolerance(got, expected, tolerance float64) bool {
	return mathutil.WithinTolerance(got, expected, tolerance)
}
