package gateway

import "github.com/shopspring/decimal"

// TokenResponse is the body returned by both auth grants.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// inquiryRequest is the bulk status-inquiry body.
type inquiryRequest struct {
	TransactionIDs []string `json:"transactions_ids_list"`
}

// inquiryResponse is the (single page) bulk status-inquiry result.
type inquiryResponse struct {
	Count   int            `json:"count"`
	Results []StatusResult `json:"results"`
}

// StatusResult is the provider's view of one disbursement.
type StatusResult struct {
	TransactionID     string `json:"transaction_id"`
	ClientReference   string `json:"client_reference_id"`
	Status            string `json:"disbursement_status"`
	StatusCode        string `json:"status_code"`
	StatusDescription string `json:"status_description"`
}

// DisburseRequest asks the provider to pay out to a bank account.
// ClientReference doubles as the provider-side idempotency key.
type DisburseRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	Issuer          string          `json:"issuer"`
	BankCardNumber  string          `json:"bank_card_number"`
	BankCode        string          `json:"bank_code"`
	TransactionType string          `json:"bank_transaction_type"`
	FullName        string          `json:"full_name"`
	ClientReference string          `json:"client_reference_id"`
}

// DisburseResponse is the provider acknowledgement for a disbursement.
type DisburseResponse struct {
	TransactionID     string `json:"transaction_id"`
	Status            string `json:"disbursement_status"`
	StatusCode        string `json:"status_code"`
	StatusDescription string `json:"status_description"`
	ClientReference   string `json:"client_reference_id"`
}

// providerError is the error body shape used by the provider on 4xx.
type providerError struct {
	StatusCode        string `json:"status_code"`
	StatusDescription string `json:"status_description"`
	Detail            string `json:"detail"`
}

func (e providerError) message() string {
	if e.StatusDescription != "" {
		return e.StatusDescription
	}
	return e.Detail
}
