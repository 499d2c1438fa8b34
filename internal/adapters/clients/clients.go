// Package clients wires the ledger API clients from configuration.
package clients

import (
	"log/slog"

	"github.com/eshaffer321/upbank-ynab-sync/internal/adapters/clients/upbank"
	"github.com/eshaffer321/upbank-ynab-sync/internal/adapters/clients/ynab"
	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/categorizer"
	"github.com/eshaffer321/upbank-ynab-sync/internal/infrastructure/config"
)

// Clients bundles the source and destination ledger clients
type Clients struct {
	Source      *upbank.Client
	Destination *ynab.Client
}

// NewClients builds both clients. Tokens fall back to their usual env var names.
func NewClients(cfg *config.Config, logger *slog.Logger) (*Clients, error) {
	if logger == nil {
		logger = slog.Default()
	}

	upToken := cfg.GetAPIKey(cfg.UpBank.Token, "UPBANK_TOKEN", "UP_API_TOKEN")
	ynabToken := cfg.GetAPIKey(cfg.YNAB.Token, "YNAB_TOKEN", "YNAB_ACCESS_TOKEN")

	source, err := upbank.NewClient(upbank.Config{
		Token:             upToken,
		BaseURL:           cfg.UpBank.BaseURL,
		Timeout:           cfg.Sync.HTTPTimeout,
		RequestsPerSecond: cfg.UpBank.RequestsPerSecond,
		MaxRetries:        cfg.Sync.TransportRetries,
	}, logger.With("system", "upbank"))
	if err != nil {
		return nil, err
	}

	destination, err := ynab.NewClient(ynab.Config{
		Token:             ynabToken,
		BudgetID:          cfg.YNAB.BudgetID,
		BaseURL:           cfg.YNAB.BaseURL,
		Timeout:           cfg.Sync.HTTPTimeout,
		RequestsPerSecond: cfg.YNAB.RequestsPerSecond,
		MaxRetries:        cfg.Sync.TransportRetries,
	}, logger.With("system", "ynab"))
	if err != nil {
		return nil, err
	}

	return &Clients{
		Source:      source,
		Destination: destination,
	}, nil
}

// RuleProvider returns the merchant rule source for a profile, or nil
// when the profile has no rules file.
func RuleProvider(profile config.ProfileConfig) categorizer.RuleProvider {
	if profile.RulesFile == "" {
		return nil
	}
	return categorizer.NewFileRuleProvider(profile.RulesFile)
}
