// Package identity derives the import token used to de-duplicate
// transactions on the destination ledger.
//
// Tokens longer than MaxTokenLength are truncated to their prefix. Two
// long IDs sharing the same first 36 characters would collide; source IDs
// are UUIDs in practice, so truncation is a fallback and is logged.
package identity

import (
	"log/slog"
	"unicode/utf8"

	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/model"
)

// MaxTokenLength is the destination ledger's import_id limit
const MaxTokenLength = 36

// Resolver maps source transaction IDs to import tokens
type Resolver struct {
	logger *slog.Logger
}

// NewResolver creates a resolver that reports truncations to logger
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger}
}

// Resolve returns sourceID unchanged when it fits, otherwise its first
// MaxTokenLength characters.
func (r *Resolver) Resolve(sourceID string) model.ImportToken {
	length := utf8.RuneCountInString(sourceID)
	if length <= MaxTokenLength {
		return model.ImportToken(sourceID)
	}

	token := string([]rune(sourceID)[:MaxTokenLength])
	r.logger.Warn("Truncated oversized import token",
		"source_id", sourceID,
		"source_length", length,
		"token", token,
	)
	return model.ImportToken(token)
}
