package loans

import (
	"fmt"

	"go.uber.org/zap"
)

// AmortizationScheduleGenerator wraps BuildSchedule with logging.
type AmortizationScheduleGenerator struct {
	logger *zap.Logger
}

// NewAmortizationScheduleGenerator creates a new generator instance
func NewAmortizationScheduleGenerator(logger *zap.Logger) *AmortizationScheduleGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AmortizationScheduleGenerator{logger: logger}
}

// GenerateSchedule builds the schedule for cfg. The result is identical to
// BuildSchedule; the generator only reports what happened.
func (g *AmortizationScheduleGenerator) GenerateSchedule(cfg LoanConfiguration) []AmortizationPeriod {
	standardPayment := cfg.StandardPayment()
	schedule := BuildSchedule(cfg)

	if len(schedule) == 0 {
		g.logger.Debug("loan configuration is not computable",
			zap.String("op", "loans.GenerateSchedule"),
			zap.Float64("principal", cfg.Principal),
			zap.Float64("rate", cfg.AnnualInterestRatePercent),
			zap.Float64("termYears", cfg.TermYears),
		)
		return schedule
	}

	for _, period := range cfg.ModificationPeriods {
		g.logger.Debug(fmt.Sprintf("applying extra payment %.2f for months %d-%d",
			period.Amount, period.StartMonth, period.EndMonth),
			zap.String("op", "loans.GenerateSchedule"),
		)
	}

	last := schedule[len(schedule)-1]
	if !PaidOff(schedule) {
		g.logger.Warn("schedule reached its period cap without paying off the loan",
			zap.String("op", "loans.GenerateSchedule"),
			zap.Int("periods", len(schedule)),
			zap.Float64("remainingBalance", last.RemainingBalance),
		)
	}

	g.logger.Debug("generated amortization schedule",
		zap.String("op", "loans.GenerateSchedule"),
		zap.Float64("standardPayment", standardPayment),
		zap.Int("periods", len(schedule)),
		zap.Float64("totalInterest", last.CumulativeInterest),
	)
	return schedule
}
