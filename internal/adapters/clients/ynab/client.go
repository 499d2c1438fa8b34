// Package ynab is a client for the YNAB API, the destination ledger of a
// sync run.
package ynab

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/eshaffer321/upbank-ynab-sync/internal/adapters/clients/transport"
	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/model"
)

// DefaultBaseURL is the production API root
const DefaultBaseURL = "https://api.ynab.com/v1"

// Config configures the client
type Config struct {
	Token             string
	BudgetID          string
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxRetries        int
	HTTPClient        *http.Client
}

// Client creates and reads transactions in one budget
type Client struct {
	http     *transport.Client
	budgetID string
	logger   *slog.Logger
}

// NewClient creates a client. Token and budget ID are required.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Token == "" {
		return nil, model.NewSyncError(model.ErrorConfiguration, "ynab token is not configured", nil)
	}
	if cfg.BudgetID == "" {
		return nil, model.NewSyncError(model.ErrorConfiguration, "ynab budget id is not configured", nil)
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
		budgetID: cfg.BudgetID,
		logger:   logger,
	}, nil
}

func (c *Client) budgetPath(suffix string) string {
	return "/budgets/" + url.PathEscape(c.budgetID) + suffix
}

// Ping verifies the token
func (c *Client) Ping(ctx context.Context) error {
	var resp userResponse
	return c.http.Get(ctx, "/user", nil, &resp)
}

// CreateTransaction submits one transaction. When the budget already holds
// a transaction with the same import ID, the returned error wraps
// model.ErrDuplicateImport.
func (c *Client) CreateTransaction(ctx context.Context, req model.TransactionRequest) (*model.CreatedTransaction, error) {
	payload := saveTransactionsRequest{Transaction: toSaveTransaction(req)}

	var resp saveTransactionsResponse
	err := c.http.Post(ctx, c.budgetPath("/transactions"), payload, &resp)
	if err != nil {
		if isDuplicateImport(err) {
			return nil, duplicateError(req.ImportID, err)
		}
		return nil, err
	}

	for _, dup := range resp.Data.DuplicateImportIDs {
		if dup == req.ImportID.String() {
			return nil, duplicateError(req.ImportID, nil)
		}
	}

	if resp.Data.Transaction == nil {
		if len(resp.Data.TransactionIDs) == 0 {
			return nil, model.NewSyncError(model.ErrorAPI, "create response contained no transaction", nil)
		}
		// Amount unknown; the caller re-reads it
		return &model.CreatedTransaction{ID: resp.Data.TransactionIDs[0]}, nil
	}

	amount := resp.Data.Transaction.Amount
	return &model.CreatedTransaction{
		ID:     resp.Data.Transaction.ID,
		Amount: &amount,
	}, nil
}

func duplicateError(token model.ImportToken, cause error) error {
	if cause == nil {
		cause = model.ErrDuplicateImport
	} else {
		cause = fmt.Errorf("%w: %v", model.ErrDuplicateImport, cause)
	}
	return model.NewSyncError(model.ErrorDuplicateTransaction,
		fmt.Sprintf("import id %s already exists", token), cause)
}

// isDuplicateImport recognises the conflict response for a reused import id
func isDuplicateImport(err error) bool {
	if transport.StatusCode(err) != http.StatusConflict {
		return false
	}
	body := strings.ToLower(transport.ResponseBody(err))
	return body == "" || strings.Contains(body, "import_id") || strings.Contains(body, "duplicate")
}

// GetTransaction fetches one transaction by ID
func (c *Client) GetTransaction(ctx context.Context, id string) (*model.DestinationTransaction, error) {
	var resp transactionResponse
	if err := c.http.Get(ctx, c.budgetPath("/transactions/"+url.PathEscape(id)), nil, &resp); err != nil {
		return nil, err
	}
	tx := toDestinationTransaction(resp.Data.Transaction)
	return &tx, nil
}

// GetTransactions lists an account's transactions on or after since
func (c *Client) GetTransactions(ctx context.Context, accountID string, since time.Time) ([]model.DestinationTransaction, error) {
	query := url.Values{}
	if !since.IsZero() {
		query.Set("since_date", since.Format("2006-01-02"))
	}

	var resp transactionsResponse
	path := c.budgetPath("/accounts/" + url.PathEscape(accountID) + "/transactions")
	if err := c.http.Get(ctx, path, query, &resp); err != nil {
		return nil, err
	}

	txs := make([]model.DestinationTransaction, 0, len(resp.Data.Transactions))
	for _, t := range resp.Data.Transactions {
		if t.Deleted {
			continue
		}
		txs = append(txs, toDestinationTransaction(t))
	}
	return txs, nil
}

// GetAccounts lists the budget's open and closed accounts, skipping deleted ones
func (c *Client) GetAccounts(ctx context.Context) ([]model.Account, error) {
	var resp accountsResponse
	if err := c.http.Get(ctx, c.budgetPath("/accounts"), nil, &resp); err != nil {
		return nil, err
	}

	accounts := make([]model.Account, 0, len(resp.Data.Accounts))
	for _, a := range resp.Data.Accounts {
		if a.Deleted {
			continue
		}
		accounts = append(accounts, model.Account{
			ID:      a.ID,
			Name:    a.Name,
			Type:    a.Type,
			Balance: a.Balance,
			Closed:  a.Closed,
		})
	}
	return accounts, nil
}

func toSaveTransaction(req model.TransactionRequest) SaveTransaction {
	st := SaveTransaction{
		AccountID: req.AccountID,
		Date:      req.Date,
		Amount:    req.Amount,
		Cleared:   req.Cleared,
		ImportID:  req.ImportID.String(),
	}
	if req.PayeeName != "" {
		st.PayeeName = &req.PayeeName
	}
	if req.CategoryID != "" {
		st.CategoryID = &req.CategoryID
	}
	if req.Memo != "" {
		st.Memo = &req.Memo
	}
	return st
}

func toDestinationTransaction(t TransactionDetail) model.DestinationTransaction {
	return model.DestinationTransaction{
		ID:         t.ID,
		AccountID:  t.AccountID,
		Date:       t.Date,
		Amount:     t.Amount,
		PayeeName:  deref(t.PayeeName),
		CategoryID: deref(t.CategoryID),
		Memo:       deref(t.Memo),
		ImportID:   deref(t.ImportID),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
