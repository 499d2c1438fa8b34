package upbank

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/upbank-ynab-sync/internal/domain/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := NewClient(Config{Token: "up:yeah:token", BaseURL: server.URL}, nil)
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresToken(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	require.Error(t, err)
	assert.Equal(t, model.ErrorConfiguration, model.AsSyncError(err).Type)
}

func TestListTransactions_PaginatesAndMaps(t *testing.T) {
	var serverURL string
	handler := func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer up:yeah:token", r.Header.Get("Authorization"))
		assert.Equal(t, "/accounts/acc-1/transactions", r.URL.Path)

		if r.URL.Query().Get("page[after]") == "" {
			assert.Equal(t, "2024-03-01T00:00:00Z", r.URL.Query().Get("filter[since]"))
			assert.Equal(t, "100", r.URL.Query().Get("page[size]"))
			fmt.Fprintf(w, `{
				"data": [
					{"id": "ABC123", "attributes": {"status": "SETTLED", "description": "Blue Bottle",
					 "message": "flat white", "amount": {"currencyCode": "AUD", "value": "-42.50", "valueInBaseUnits": -4250},
					 "settledAt": "2024-03-01T09:00:00+10:00", "createdAt": "2024-03-01T08:55:00+10:00"},
					 "relationships": {"account": {"data": {"id": "acc-1"}}}}
				],
				"links": {"prev": null, "next": "%s/accounts/acc-1/transactions?page[after]=cursor1&page[size]=100"}
			}`, serverURL)
			return
		}

		assert.Equal(t, "cursor1", r.URL.Query().Get("page[after]"))
		fmt.Fprint(w, `{
			"data": [
				{"id": "HELD1", "attributes": {"status": "HELD", "description": "Pending thing",
				 "message": null, "amount": {"currencyCode": "AUD", "value": "-1.00", "valueInBaseUnits": -100},
				 "settledAt": null, "createdAt": "2024-03-02T10:00:00+10:00"}}
			],
			"links": {"prev": null, "next": null}
		}`)
	}
	server := httptest.NewServer(http.HandlerFunc(handler))
	defer server.Close()
	serverURL = server.URL

	c, err := NewClient(Config{Token: "up:yeah:token", BaseURL: server.URL}, nil)
	require.NoError(t, err)

	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	txs, err := c.ListTransactions(context.Background(), "acc-1", since, time.Time{})
	require.NoError(t, err)
	require.Len(t, txs, 2)

	assert.Equal(t, "ABC123", txs[0].ID)
	assert.Equal(t, int64(-4250), txs[0].Amount)
	assert.Equal(t, "Blue Bottle", txs[0].Description)
	assert.Equal(t, "flat white", txs[0].Message)
	require.NotNil(t, txs[0].SettledAt)
	assert.False(t, txs[0].IsPending())

	assert.Equal(t, "HELD1", txs[1].ID)
	assert.Equal(t, "acc-1", txs[1].AccountID)
	assert.True(t, txs[1].IsPending())
}

func TestListTransactions_HeldWithTimestampIsPending(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": [{"id": "X", "attributes": {"status": "HELD", "description": "x",
			"amount": {"valueInBaseUnits": -1}, "settledAt": "2024-03-01T00:00:00Z",
			"createdAt": "2024-03-01T00:00:00Z"}}], "links": {}}`)
	})

	txs, err := c.ListTransactions(context.Background(), "acc", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].IsPending())
}

func TestListTransactions_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   model.SyncErrorType
	}{
		{"unauthorized", http.StatusUnauthorized, model.ErrorAuthentication},
		{"rate limited", http.StatusTooManyRequests, model.ErrorRateLimited},
		{"not found", http.StatusNotFound, model.ErrorAPI},
		{"server error", http.StatusInternalServerError, model.ErrorNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			_, err := c.ListTransactions(context.Background(), "acc", time.Time{}, time.Time{})
			require.Error(t, err)
			assert.Equal(t, tt.want, model.AsSyncError(err).Type)
		})
	}
}

func TestListTransactions_EmptyAccountID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Fail(t, "no request expected")
	})
	_, err := c.ListTransactions(context.Background(), "", time.Time{}, time.Time{})
	assert.Equal(t, model.ErrorAccountMapping, model.AsSyncError(err).Type)
}

func TestGetAccounts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts", r.URL.Path)
		fmt.Fprint(w, `{"data": [
			{"id": "a1", "attributes": {"displayName": "Spending", "accountType": "TRANSACTIONAL",
			 "balance": {"valueInBaseUnits": 123456}}},
			{"id": "a2", "attributes": {"displayName": "Rainy Day", "accountType": "SAVER",
			 "balance": {"valueInBaseUnits": 500000}}}
		], "links": {"next": null}}`)
	})

	accounts, err := c.GetAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "Spending", accounts[0].Name)
	assert.Equal(t, string(model.AccountTypeTransactional), accounts[0].Type)
	assert.Equal(t, string(model.AccountTypeSaver), accounts[1].Type)
	assert.Equal(t, int64(500000), accounts[1].Balance)
}

func TestPing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/util/ping", r.URL.Path)
		fmt.Fprint(w, `{"meta": {"id": "x", "statusEmoji": "⚡️"}}`)
	})
	assert.NoError(t, c.Ping(context.Background()))
}

func TestAccountType(t *testing.T) {
	assert.Equal(t, model.AccountTypeSaver, AccountType("saver"))
	assert.Equal(t, model.AccountTypeTransactional, AccountType("TRANSACTIONAL"))
	assert.Equal(t, model.AccountTypeTransactional, AccountType("HOME_LOAN"))
}
