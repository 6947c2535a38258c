// Package validation checks loan input before it reaches the amortization
// engine and collects every problem it finds.
package validation

import (
	"errors"
	"fmt"

	"github.com/iwvelando/loan-amortization/pkg/constants"
	"github.com/iwvelando/loan-amortization/pkg/loans"
	"github.com/iwvelando/loan-amortization/pkg/mathutil"
	"go.uber.org/multierr"
)

// ErrInvalid is wrapped by every field error returned from ValidateLoan.
var ErrInvalid = errors.New("invalid loan configuration")

// FieldError describes a single rejected input field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match ErrInvalid.
func (e *FieldError) Unwrap() error {
	return ErrInvalid
}

const notANumber = "must be a finite number"

func fieldError(field, format string, args ...interface{}) error {
	return &FieldError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ValidateLoan checks cfg against the input rules of the loan form and returns
// every violation combined into one error, or nil.
func ValidateLoan(cfg loans.LoanConfiguration) error {
	var err error

	// NaN fails every comparison below, so it is rejected up front.
	if !mathutil.IsFinite(cfg.Principal) {
		err = multierr.Append(err, fieldError("principal", notANumber))
	} else if cfg.Principal <= 0 {
		err = multierr.Append(err, fieldError("principal", "must be a positive amount"))
	} else if cfg.Principal > constants.MaxPrincipal {
		err = multierr.Append(err, fieldError("principal", "exceeds the maximum of %.2f", constants.MaxPrincipal))
	}

	if !mathutil.IsFinite(cfg.AnnualInterestRatePercent) {
		err = multierr.Append(err, fieldError("interestRate", notANumber))
	} else if cfg.AnnualInterestRatePercent < 0 {
		err = multierr.Append(err, fieldError("interestRate", "cannot be negative"))
	} else if cfg.AnnualInterestRatePercent > constants.MaxInterestRate {
		err = multierr.Append(err, fieldError("interestRate", "exceeds the maximum of %.2f%%", constants.MaxInterestRate))
	}

	if !mathutil.IsFinite(cfg.TermYears) {
		err = multierr.Append(err, fieldError("termYears", notANumber))
	} else if cfg.TermYears <= 0 {
		err = multierr.Append(err, fieldError("termYears", "must be a positive number of years"))
	} else if cfg.TermYears > constants.MaxTermYears {
		err = multierr.Append(err, fieldError("termYears", "exceeds the maximum of %.0f years", constants.MaxTermYears))
	}

	if !mathutil.IsFinite(cfg.RecurringExtraPayment) {
		err = multierr.Append(err, fieldError("extraPayment", notANumber))
	} else if cfg.RecurringExtraPayment < 0 {
		err = multierr.Append(err, fieldError("extraPayment", "cannot be negative"))
	}

	for i, period := range cfg.ModificationPeriods {
		err = multierr.Append(err, validateModificationPeriod(i, period))
	}

	return err
}

func validateModificationPeriod(index int, period loans.ModificationPeriod) error {
	field := fmt.Sprintf("modificationPeriods[%d]", index)
	var err error

	if period.StartMonth < 1 {
		err = multierr.Append(err, fieldError(field+".startMonth", "must be at least 1"))
	}
	if period.EndMonth < period.StartMonth {
		err = multierr.Append(err, fieldError(field+".endMonth", "must not be before startMonth (%d < %d)",
			period.EndMonth, period.StartMonth))
	}
	if period.EndMonth-period.StartMonth > constants.MaxModificationSpan {
		err = multierr.Append(err, fieldError(field, "spans more than %d months", constants.MaxModificationSpan))
	}
	if !mathutil.IsFinite(period.Amount) {
		err = multierr.Append(err, fieldError(field+".amount", notANumber))
	} else if period.Amount < 0 {
		err = multierr.Append(err, fieldError(field+".amount", "cannot be negative"))
	}

	return err
}

// Errors splits an error returned by ValidateLoan into its individual
// messages.
func Errors(err error) []string {
	if err == nil {
		return nil
	}
	all := multierr.Errors(err)
	messages := make([]string, 0, len(all))
	for _, e := range all {
		messages = append(messages, e.Error())
	}
	return messages
}

// Warnings returns non-fatal observations about cfg.
func Warnings(cfg loans.LoanConfiguration) []string {
	var warnings []string

	scheduled := int(cfg.ScheduledPayments())
	for i, period := range cfg.ModificationPeriods {
		if scheduled > 0 && period.StartMonth > scheduled {
			warnings = append(warnings, fmt.Sprintf(
				"Modification period %d starts at month %d, after the scheduled term of %d months",
				i+1, period.StartMonth, scheduled))
		}
	}

	if cfg.Principal > 0 && cfg.RecurringExtraPayment >= cfg.Principal {
		warnings = append(warnings, fmt.Sprintf(
			"Recurring extra payment %.2f covers the whole principal %.2f in the first month",
			cfg.RecurringExtraPayment, cfg.Principal))
	}

	return warnings
}

// ValidateOutputFormat checks if the output format is one of the supported formats.
func ValidateOutputFormat(format string) error {
	if format != constants.OutputFormatPretty && format != constants.OutputFormatCSV {
		return fmt.Errorf("expected output format of %s or %s, got %s",
			constants.OutputFormatPretty, constants.OutputFormatCSV, format)
	}
	return nil
}
