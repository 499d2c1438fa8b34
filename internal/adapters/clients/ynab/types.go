package ynab

// TransactionDetail is a transaction as the API returns it
type TransactionDetail struct {
	ID         string  `json:"id"`
	Date       string  `json:"date"`
	Amount     int64   `json:"amount"`
	Memo       *string `json:"memo"`
	Cleared    string  `json:"cleared"`
	Approved   bool    `json:"approved"`
	AccountID  string  `json:"account_id"`
	PayeeName  *string `json:"payee_name"`
	CategoryID *string `json:"category_id"`
	ImportID   *string `json:"import_id"`
	Deleted    bool    `json:"deleted"`
}

// SaveTransaction is the create payload
type SaveTransaction struct {
	AccountID  string  `json:"account_id"`
	Date       string  `json:"date"`
	Amount     int64   `json:"amount"`
	PayeeName  *string `json:"payee_name,omitempty"`
	CategoryID *string `json:"category_id,omitempty"`
	Memo       *string `json:"memo,omitempty"`
	Cleared    string  `json:"cleared,omitempty"`
	Approved   bool    `json:"approved"`
	ImportID   string  `json:"import_id,omitempty"`
}

type saveTransactionsRequest struct {
	Transaction SaveTransaction `json:"transaction"`
}

type saveTransactionsResponse struct {
	Data struct {
		TransactionIDs     []string           `json:"transaction_ids"`
		Transaction        *TransactionDetail `json:"transaction"`
		DuplicateImportIDs []string           `json:"duplicate_import_ids"`
		ServerKnowledge    int64              `json:"server_knowledge"`
	} `json:"data"`
}

type transactionsResponse struct {
	Data struct {
		Transactions []TransactionDetail `json:"transactions"`
	} `json:"data"`
}

type transactionResponse struct {
	Data struct {
		Transaction TransactionDetail `json:"transaction"`
	} `json:"data"`
}

// AccountDetail is an account as the API returns it
type AccountDetail struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	OnBudget bool   `json:"on_budget"`
	Closed   bool   `json:"closed"`
	Balance  int64  `json:"balance"`
	Deleted  bool   `json:"deleted"`
}

type accountsResponse struct {
	Data struct {
		Accounts []AccountDetail `json:"accounts"`
	} `json:"data"`
}

type userResponse struct {
	Data struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	} `json:"data"`
}
