package dto

import "github.com/shopspring/decimal"

type CreateContractRequest struct {
	FreelancerUsername string          `json:"freelancer_username"`
	Amount             decimal.Decimal `json:"amount"`
	Title              string          `json:"title"`
	Description        *string         `json:"description,omitempty"`
	ExpiryDays         int             `json:"expiry_days,omitempty"`
}

// ContractActionRequest is shared by fund, deliver, release, dispute and refund.
// Fields an action does not use are ignored.
type ContractActionRequest struct {
	ContractID   string `json:"contract_id"`
	DeliveryNote string `json:"delivery_note,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Pin          string `json:"pin,omitempty"`
}

type FXQuoteRequest struct {
	FromCurrency  string          `json:"from_currency"`
	ToCurrency    string          `json:"to_currency"`
	Amount        decimal.Decimal `json:"amount"`
	ExpirySeconds int             `json:"expiry_seconds,omitempty"`
}

type SendPaymentRequest struct {
	Recipient string          `json:"recipient"` // universal id or raw address
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency,omitempty"`
	Note      string          `json:"note,omitempty"`
	Purpose   string          `json:"purpose,omitempty"`
	Pin       string          `json:"pin,omitempty"`
}

type MerchantQuoteRequest struct {
	INRAmount     decimal.Decimal `json:"inr_amount"`
	ExpirySeconds int             `json:"expiry_seconds,omitempty"`
}

type MerchantPayRequest struct {
	QuoteID       string `json:"quote_id"`
	MerchantName  string `json:"merchant_name"`
	MerchantUPIID string `json:"merchant_upi_id"`
	Pin           string `json:"pin"`
}

type ParseQRRequest struct {
	QRData string `json:"qr_data"`
}

type SetPinRequest struct {
	CurrentPin string `json:"current_pin,omitempty"`
	NewPin     string `json:"new_pin"`
}
