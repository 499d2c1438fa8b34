// Package upbank is a read-only client for the Up Bank API, the source
// ledger of a sync run.
package upbank

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eshaffer321/upbank-ynab-sync/internal/adapters/clients/transport"
	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/model"
)

// DefaultBaseURL is the production API root
const DefaultBaseURL = "https://api.up.com.au/api/v1"

const (
	pageSize = 100

	// maxPages bounds pagination so a misbehaving next link cannot loop forever
	maxPages = 500
)

// Config configures the client
type Config struct {
	Token             string
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxRetries        int
	HTTPClient        *http.Client
}

// Client lists accounts and transactions
type Client struct {
	http   *transport.Client
	logger *slog.Logger
}

// NewClient creates a client. The token is required.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Token == "" {
		return nil, model.NewSyncError(model.ErrorConfiguration, "up bank token is not configured", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		http: transport.New(transport.Config{
			BaseURL:           baseURL,
			Token:             cfg.Token,
			Timeout:           cfg.Timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             1,
			MaxRetries:        cfg.MaxRetries,
			HTTPClient:        cfg.HTTPClient,
			Logger:            logger,
		}),
		logger: logger,
	}, nil
}

// Ping verifies the token
func (c *Client) Ping(ctx context.Context) error {
	var resp pingResponse
	return c.http.Get(ctx, "/util/ping", nil, &resp)
}

// GetAccounts lists every account, following pagination
func (c *Client) GetAccounts(ctx context.Context) ([]model.Account, error) {
	accounts := make([]model.Account, 0)
	next := "/accounts"
	query := url.Values{"page[size]": {strconv.Itoa(pageSize)}}

	for page := 0; next != "" && page < maxPages; page++ {
		var resp accountsResponse
		if err := c.http.Get(ctx, next, query, &resp); err != nil {
			return nil, err
		}
		for _, a := range resp.Data {
			accounts = append(accounts, model.Account{
				ID:      a.ID,
				Name:    a.Attributes.DisplayName,
				Type:    string(AccountType(a.Attributes.AccountType)),
				Balance: a.Attributes.Balance.ValueInBaseUnits,
			})
		}
		next, query = nextPage(resp.Links)
	}

	return accounts, nil
}

// ListTransactions returns the account's transactions created within
// [since, until], held and settled alike. Callers decide what to do with
// unsettled ones.
func (c *Client) ListTransactions(ctx context.Context, accountID string, since, until time.Time) ([]model.SourceTransaction, error) {
	if accountID == "" {
		return nil, model.NewSyncError(model.ErrorAccountMapping, "source account id is empty", nil)
	}

	next := "/accounts/" + url.PathEscape(accountID) + "/transactions"
	query := url.Values{"page[size]": {strconv.Itoa(pageSize)}}
	if !since.IsZero() {
		query.Set("filter[since]", since.Format(time.RFC3339))
	}
	if !until.IsZero() {
		query.Set("filter[until]", until.Format(time.RFC3339))
	}

	txs := make([]model.SourceTransaction, 0)
	pages := 0
	for ; next != "" && pages < maxPages; pages++ {
		var resp transactionsResponse
		if err := c.http.Get(ctx, next, query, &resp); err != nil {
			return nil, err
		}
		for _, r := range resp.Data {
			txs = append(txs, toSourceTransaction(accountID, r))
		}
		next, query = nextPage(resp.Links)
	}

	c.logger.Debug("Fetched source transactions",
		"account_id", accountID,
		"count", len(txs),
		"pages", pages)

	return txs, nil
}

// AccountType maps the API's account type onto the model
func AccountType(apiType string) model.AccountType {
	switch strings.ToUpper(apiType) {
	case "SAVER":
		return model.AccountTypeSaver
	default:
		return model.AccountTypeTransactional
	}
}

func toSourceTransaction(accountID string, r TransactionResource) model.SourceTransaction {
	tx := model.SourceTransaction{
		ID:          r.ID,
		AccountID:   accountID,
		Amount:      r.Attributes.Amount.ValueInBaseUnits,
		CreatedAt:   r.Attributes.CreatedAt,
		Description: r.Attributes.Description,
	}
	if rel := r.Relationships.Account.Data.ID; rel != "" {
		tx.AccountID = rel
	}
	if r.Attributes.Message != nil {
		tx.Message = *r.Attributes.Message
	}
	// a HELD transaction never counts as settled, even if a timestamp leaks through
	if r.Attributes.SettledAt != nil && !strings.EqualFold(r.Attributes.Status, "HELD") {
		settled := *r.Attributes.SettledAt
		tx.SettledAt = &settled
	}
	return tx
}

// nextPage returns the absolute next link; its query already carries the
// page cursor and filters.
func nextPage(links Links) (string, url.Values) {
	if links.Next == nil || *links.Next == "" {
		return "", nil
	}
	return *links.Next, nil
}

