// Package constants provides shared constants for the loan-amortization application.
package constants

// DateLayout is the full date format used for loan start dates and on-disk
// snapshots.
const DateLayout = "2006-01-02"

// MonthLayout is the month-only format accepted in config files and used for
// payoff dates in output.
const MonthLayout = "2006-01"

// Financial constants
const (
	// MonthsPerYear is the number of months in a year
	MonthsPerYear = 12

	// DecimalPrecision is the precision for currency rounding (2 decimal places)
	DecimalPrecision = 100

	// PercentageMultiplier is used for percentage conversions
	PercentageMultiplier = 100.0

	// PayoffTolerance is the balance under which a loan counts as paid off.
	PayoffTolerance = 0.005

	// ScheduleCapMultiplier bounds a schedule to this many times the scheduled
	// number of payments.
	ScheduleCapMultiplier = 2

	// CurrencyTolerance is the tolerance for currency comparisons (1 cent)
	CurrencyTolerance = 0.01
)

// Input limits applied by the validation layer.
const (
	MaxPrincipal        = 1_000_000_000.0
	MaxInterestRate     = 1000.0
	MaxTermYears        = 50.0
	MaxModificationSpan = 1200
)

// Output format constants
const (
	// OutputFormatPretty is the human-readable output format
	OutputFormatPretty = "pretty"

	// OutputFormatCSV is the CSV output format
	OutputFormatCSV = "csv"

	// DefaultRowsPerPage is the number of periods shown per page of a schedule.
	DefaultRowsPerPage = 12
)

// Configuration file constants
const (
	// DefaultConfigFile is the default configuration file name
	DefaultConfigFile = "config.yaml"

	// DefaultServerConfigFile is the default server configuration file name
	DefaultServerConfigFile = "server-config.yaml"

	// EnvPrefix is the prefix for environment overrides of config keys.
	EnvPrefix = "AMORTIZE"
)

// Server configuration defaults
const (
	// DefaultServerAddress is the default HTTP listen address for the API
	DefaultServerAddress = ":8080"

	// DefaultMaxUploadSizeBytes is the default maximum upload size for CSV imports (256 KB)
	DefaultMaxUploadSizeBytes int64 = 256 * 1024
)

// Storage defaults
const (
	StorageBackendMemory = "memory"
	StorageBackendSQLite = "sqlite"
	StorageBackendRedis  = "redis"

	DefaultSQLitePath    = "data/amortize.db"
	DefaultRedisAddr     = "localhost:6379"
	RedisKeyPrefix       = "amortize:snapshot:"
	MaxSnapshotKeyLength = 128
)

// Advisor defaults
const (
	DefaultAdvisorEndpoint  = "https://api.openai.com/v1/chat/completions"
	DefaultAdvisorModel     = "gpt-4o-mini"
	DefaultAdvisorKeyEnv    = "OPENAI_API_KEY"
	DefaultAdvisorMaxTokens = 800
)
