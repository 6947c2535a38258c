package report

import (
	"github.com/iwvelando/loan-amortization/pkg/constants"
	"github.com/iwvelando/loan-amortization/pkg/loans"
)

// Page is a window of a schedule for tabular display. Number is 1-based.
type Page struct {
	Number     int
	TotalPages int
	PerPage    int
	Periods    []loans.AmortizationPeriod
}

// Paginate returns page number of schedule. Non-positive perPage uses the
// default page size; page numbers outside the schedule clamp to the first or
// last page.
func Paginate(schedule []loans.AmortizationPeriod, number, perPage int) Page {
	if perPage <= 0 {
		perPage = constants.DefaultRowsPerPage
	}

	totalPages := (len(schedule) + perPage - 1) / perPage
	if totalPages == 0 {
		return Page{Number: 1, TotalPages: 0, PerPage: perPage, Periods: []loans.AmortizationPeriod{}}
	}

	if number < 1 {
		number = 1
	}
	if number > totalPages {
		number = totalPages
	}

	start := (number - 1) * perPage
	end := min(start+perPage, len(schedule))
	return Page{
		Number:     number,
		TotalPages: totalPages,
		PerPage:    perPage,
		Periods:    schedule[start:end],
	}
}
