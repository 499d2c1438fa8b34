package upbank

import "time"

// Money is the API's amount representation
type Money struct {
	CurrencyCode     string `json:"currencyCode"`
	Value            string `json:"value"`
	ValueInBaseUnits int64  `json:"valueInBaseUnits"`
}

// Links carries pagination links
type Links struct {
	Prev *string `json:"prev"`
	Next *string `json:"next"`
}

// AccountResource is one account in the accounts listing
type AccountResource struct {
	ID         string `json:"id"`
	Attributes struct {
		DisplayName   string    `json:"displayName"`
		AccountType   string    `json:"accountType"` // SAVER, TRANSACTIONAL, HOME_LOAN
		OwnershipType string    `json:"ownershipType"`
		Balance       Money     `json:"balance"`
		CreatedAt     time.Time `json:"createdAt"`
	} `json:"attributes"`
}

// TransactionResource is one transaction in a transactions listing
type TransactionResource struct {
	ID         string `json:"id"`
	Attributes struct {
		Status      string     `json:"status"` // HELD, SETTLED
		RawText     *string    `json:"rawText"`
		Description string     `json:"description"`
		Message     *string    `json:"message"`
		Amount      Money      `json:"amount"`
		SettledAt   *time.Time `json:"settledAt"`
		CreatedAt   time.Time  `json:"createdAt"`
	} `json:"attributes"`
	Relationships struct {
		Account struct {
			Data struct {
				ID string `json:"id"`
			} `json:"data"`
		} `json:"account"`
	} `json:"relationships"`
}

type accountsResponse struct {
	Data  []AccountResource `json:"data"`
	Links Links             `json:"links"`
}

type transactionsResponse struct {
	Data  []TransactionResource `json:"data"`
	Links Links                 `json:"links"`
}

type pingResponse struct {
	Meta struct {
		ID          string `json:"id"`
		StatusEmoji string `json:"statusEmoji"`
	} `json:"meta"`
}
