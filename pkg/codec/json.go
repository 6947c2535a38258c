package codec

import (
	"encoding/json"
	"fmt"

	"github.com/iwvelando/loan-amortization/pkg/loans"
)

type document struct {
	Config  ConfigRecord   `json:"config"`
	Periods []periodRecord `json:"periods"`
}

type periodRecord struct {
	Month               int     `json:"month"`
	Payment             float64 `json:"payment"`
	PrincipalComponent  float64 `json:"principal"`
	InterestComponent   float64 `json:"interest"`
	RemainingBalance    float64 `json:"remainingBalance"`
	CumulativeInterest  float64 `json:"cumulativeInterest"`
	ExtraPaymentApplied float64 `json:"extra"`
}

// MarshalSnapshot encodes s as JSON at full precision. Stores use this form.
func MarshalSnapshot(s Snapshot) ([]byte, error) {
	doc := document{
		Config:  NewConfigRecord(s.Config, s.SavedAt),
		Periods: make([]periodRecord, 0, len(s.Schedule)),
	}
	for _, period := range s.Schedule {
		doc.Periods = append(doc.Periods, periodRecord(period))
	}
	return json.Marshal(doc)
}

// UnmarshalSnapshot decodes data produced by MarshalSnapshot.
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	cfg, savedAt, err := doc.Config.LoanConfiguration()
	if err != nil {
		return Snapshot{}, err
	}

	schedule := make([]loans.AmortizationPeriod, 0, len(doc.Periods))
	for i, record := range doc.Periods {
		if record.Month != i+1 {
			return Snapshot{}, fmt.Errorf("%w: period %d has month %d", ErrMalformedRow, i+1, record.Month)
		}
		schedule = append(schedule, loans.AmortizationPeriod(record))
	}

	return Snapshot{Config: cfg, Schedule: schedule, SavedAt: savedAt}, nil
}
