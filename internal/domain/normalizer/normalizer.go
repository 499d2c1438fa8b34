// Package normalizer converts source ledger amounts, dates and names into
// the shapes the destination ledger expects.
//
// All amount conversions are exact integer arithmetic. A conversion that
// would overflow or lose precision fails with an amount_conversion error
// instead of rounding.
//
// Example usage:
//
//	n := normalizer.New(normalizer.DefaultConfig())
//	amount, err := n.ToDestinationAmount(-4250) // cents -> milliunits
//	date := n.ToDestinationDate(tx.SettledAt, tx.CreatedAt)
package normalizer

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/model"
)

const (
	// DateLayout is the destination ledger's calendar-date format
	DateLayout = "2006-01-02"

	// UnknownPayee is the last entry of the payee fallback policy
	UnknownPayee = "Unknown Payee"

	// MaxPayeeLength is the destination's payee name limit in runes
	MaxPayeeLength = 50

	// MaxMemoLength is the destination's memo limit in runes
	MaxMemoLength = 200
)

// Config holds the minor-unit scales of both ledgers
type Config struct {
	SourceUnitsPerMajor      int64          // Default: 100 (cents)
	DestinationUnitsPerMajor int64          // Default: 1000 (milliunits)
	Location                 *time.Location // nil keeps each timestamp's own offset
}

// DefaultConfig returns cents -> milliunits scaling
func DefaultConfig() Config {
	return Config{
		SourceUnitsPerMajor:      100,
		DestinationUnitsPerMajor: 1000,
	}
}

// Normalizer is a pure, stateless converter
type Normalizer struct {
	config Config
}

// New creates a normalizer. Non-positive scales fall back to the defaults.
func New(config Config) *Normalizer {
	def := DefaultConfig()
	if config.SourceUnitsPerMajor <= 0 {
		config.SourceUnitsPerMajor = def.SourceUnitsPerMajor
	}
	if config.DestinationUnitsPerMajor <= 0 {
		config.DestinationUnitsPerMajor = def.DestinationUnitsPerMajor
	}
	return &Normalizer{config: config}
}

// Config returns the scales in use
func (n *Normalizer) Config() Config {
	return n.config
}

// ToDestinationAmount scales a source minor-unit amount to destination minor units
func (n *Normalizer) ToDestinationAmount(source int64) (int64, error) {
	return scale(source, n.config.SourceUnitsPerMajor, n.config.DestinationUnitsPerMajor)
}

// ToSourceAmount is the exact inverse of ToDestinationAmount
func (n *Normalizer) ToSourceAmount(destination int64) (int64, error) {
	return scale(destination, n.config.DestinationUnitsPerMajor, n.config.SourceUnitsPerMajor)
}

func scale(amount, fromUnits, toUnits int64) (int64, error) {
	switch {
	case fromUnits == toUnits:
		return amount, nil
	case toUnits%fromUnits == 0:
		factor := toUnits / fromUnits
		if amount > math.MaxInt64/factor || amount < math.MinInt64/factor {
			return 0, model.NewSyncError(model.ErrorAmountConversion,
				fmt.Sprintf("amount %d overflows when scaled by %d", amount, factor), nil)
		}
		return amount * factor, nil
	case fromUnits%toUnits == 0:
		factor := fromUnits / toUnits
		if amount%factor != 0 {
			return 0, model.NewSyncError(model.ErrorAmountConversion,
				fmt.Sprintf("amount %d is not representable at 1/%d precision", amount, toUnits), nil)
		}
		return amount / factor, nil
	default:
		return 0, model.NewSyncError(model.ErrorAmountConversion,
			fmt.Sprintf("unsupported unit scales %d -> %d", fromUnits, toUnits), nil)
	}
}

// ToDestinationDate formats the settlement date, falling back to the
// creation date when the transaction has not settled.
func (n *Normalizer) ToDestinationDate(settledAt *time.Time, createdAt time.Time) string {
	t := createdAt
	if settledAt != nil && !settledAt.IsZero() {
		t = *settledAt
	}
	if n.config.Location != nil {
		t = t.In(n.config.Location)
	}
	return t.Format(DateLayout)
}

// ResolvePayee applies the payee precedence list: the first candidate that
// is not blank wins, otherwise UnknownPayee. Callers pass candidates in
// order: rule payee, description, message.
func ResolvePayee(candidates ...string) string {
	for _, c := range candidates {
		if trimmed := strings.TrimSpace(c); trimmed != "" {
			return truncateRunes(trimmed, MaxPayeeLength)
		}
	}
	return UnknownPayee
}

// Memo trims a source message to the destination memo limit
func Memo(message string) string {
	return truncateRunes(strings.TrimSpace(message), MaxMemoLength)
}

// FormatAmount renders minor units as an exact decimal string, e.g. -4250 at
// 100 units per major -> "-42.50".
func FormatAmount(minor int64, unitsPerMajor int64) string {
	if unitsPerMajor <= 0 {
		unitsPerMajor = 1
	}
	places := int32(0)
	for u := unitsPerMajor; u >= 10; u /= 10 {
		places++
	}
	d := decimal.NewFromInt(minor).Div(decimal.NewFromInt(unitsPerMajor))
	if places < 2 {
		places = 2
	}
	return d.StringFixed(places)
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
