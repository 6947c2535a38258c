// Package advisor asks a chat-completion model how a loan could be paid off
// faster, and falls back to a summary computed locally when no model is
// available.
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/iwvelando/loan-amortization/pkg/constants"
	"github.com/iwvelando/loan-amortization/pkg/format"
	"github.com/iwvelando/loan-amortization/pkg/loans"
	"github.com/iwvelando/loan-amortization/pkg/mathutil"
	"github.com/iwvelando/loan-amortization/pkg/report"
	"github.com/iwvelando/loan-amortization/pkg/validation"
	"go.uber.org/zap"
)

// Suggestion sources.
const (
	SourceModel    = "model"
	SourceFallback = "fallback"
)

// ErrUpstream wraps failures talking to the model in strict mode.
var ErrUpstream = errors.New("advisor upstream failure")

const systemPrompt = "You are an expert financial advisor specializing in loan amortization and debt optimization. " +
	"You give clear, accurate and easy to understand payment plans."

// Config holds advisor configuration options
type Config struct {
	Enabled   bool          `yaml:"enabled"`
	Endpoint  string        `yaml:"endpoint,omitempty"`
	Model     string        `yaml:"model,omitempty"`
	APIKeyEnv string        `yaml:"apiKeyEnv,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
	MaxTokens int           `yaml:"maxTokens,omitempty"`
	// Strict returns upstream failures instead of falling back.
	Strict bool `yaml:"strict,omitempty"`
	// RateLimit caps suggestions per client per minute on the API; zero disables it.
	RateLimit int `yaml:"rateLimit,omitempty"`
}

// Suggestion is the advisor's answer.
type Suggestion struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

// Client produces suggestions. The zero value is not usable; use New.
type Client struct {
	cfg        Config
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// New builds a client from cfg, reading the API key from the environment
// variable it names. Without a key the client only produces fallback text.
func New(logger *zap.Logger, cfg Config) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = constants.DefaultAdvisorEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = constants.DefaultAdvisorModel
	}
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = constants.DefaultAdvisorKeyEnv
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = constants.DefaultAdvisorMaxTokens
	}

	return &Client{
		cfg:        cfg,
		apiKey:     strings.TrimSpace(os.Getenv(cfg.APIKeyEnv)),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Enabled reports whether suggestions will be requested from the model.
func (c *Client) Enabled() bool {
	return c.cfg.Enabled && c.apiKey != ""
}

// Suggest returns a payment plan suggestion for cfg. Invalid configurations
// are rejected with the validation error.
func (c *Client) Suggest(ctx context.Context, cfg loans.LoanConfiguration) (Suggestion, error) {
	if err := validation.ValidateLoan(cfg); err != nil {
		return Suggestion{}, err
	}

	if !c.Enabled() {
		return Suggestion{Text: Fallback(cfg), Source: SourceFallback}, nil
	}

	text, err := c.complete(ctx, Prompt(cfg))
	if err != nil {
		c.logger.Warn("advisor request failed",
			zap.String("op", "advisor.Suggest"),
			zap.String("endpoint", c.cfg.Endpoint),
			zap.Error(err),
		)
		if c.cfg.Strict {
			return Suggestion{}, fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		return Suggestion{Text: Fallback(cfg), Source: SourceFallback}, nil
	}

	return Suggestion{Text: text, Source: SourceModel}, nil
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens: c.cfg.MaxTokens,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 || strings.TrimSpace(decoded.Choices[0].Message.Content) == "" {
		return "", errors.New("no response from model")
	}

	return strings.TrimSpace(decoded.Choices[0].Message.Content), nil
}

// Prompt renders the loan for the model. The rate is sent as a decimal
// fraction and the term in months.
func Prompt(cfg loans.LoanConfiguration) string {
	var b strings.Builder
	b.WriteString("Based on the loan below, suggest a payment plan that minimizes the total interest paid and shortens the loan term.\n\n")
	b.WriteString("Loan Details:\n")
	fmt.Fprintf(&b, "Principal: %.2f\n", cfg.Principal)
	fmt.Fprintf(&b, "Interest Rate: %.6g\n", cfg.AnnualInterestRatePercent/constants.PercentageMultiplier)
	fmt.Fprintf(&b, "Loan Term (Months): %d\n", report.OriginalTermMonths(cfg))
	if cfg.RecurringExtraPayment > 0 {
		fmt.Fprintf(&b, "Extra Payment Amount (monthly): %.2f\n", cfg.RecurringExtraPayment)
	}
	if len(cfg.ModificationPeriods) > 0 {
		b.WriteString("Payment Modification Periods:\n")
		for _, period := range cfg.ModificationPeriods {
			fmt.Fprintf(&b, "  Start Month: %d, End Month: %d, Amount: %.2f\n",
				period.StartMonth, period.EndMonth, period.Amount)
		}
	}
	b.WriteString("\nInclude the new total interest paid and the new loan term in months. ")
	b.WriteString("Take into account that the borrower may be willing to pay extra in some months but not others. ")
	b.WriteString("Do not include disclaimers.")
	return b.String()
}

// Fallback describes the configured plan using the local engine.
func Fallback(cfg loans.LoanConfiguration) string {
	schedule := loans.BuildSchedule(cfg)
	summary, ok := report.Summarize(cfg, schedule)
	if !ok {
		return "A schedule could not be computed for this loan."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "With a standard payment of %s, this loan is repaid in %s with %s of total interest.",
		format.Currency(summary.MonthlyPayment), format.Months(summary.PayoffMonths), format.Currency(summary.TotalInterest))
	if summary.Savings != nil {
		fmt.Fprintf(&b, " The extra payments save %s of interest and %d months compared with the original term.",
			format.Currency(summary.Savings.InterestSaved), summary.Savings.MonthsSaved)
	} else {
		// Suggest a modest recurring extra and show what it would do.
		extra := mathutil.Round(summary.MonthlyPayment * 0.1)
		if extra > 0 {
			accelerated := cfg.Clone()
			accelerated.RecurringExtraPayment += extra
			if faster, ok := report.Summarize(accelerated, loans.BuildSchedule(accelerated)); ok && faster.Savings != nil {
				fmt.Fprintf(&b, " Paying an extra %s each month would finish %d months early and save %s of interest.",
					format.Currency(extra), faster.Savings.MonthsSaved, format.Currency(faster.Savings.InterestSaved))
			}
		}
	}
	return b.String()
}
