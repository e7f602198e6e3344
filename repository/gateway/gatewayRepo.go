package gatewayrepo

import "github.com/shopspring/decimal"

type CreateInvoiceReq struct {
	ExternalID  string
	Amount      decimal.Decimal
	Description string
	ExpirySec   int
}

type CreateInvoiceResp struct {
	InvoiceID  string
	InvoiceURL string
	ExpiresAt  string
}

// Repo is the payment gateway used for wallet top-ups. The core creates
// invoices here and credits wallets when the gateway reports payment.
type Repo interface {
	CreateInvoice(req CreateInvoiceReq) (*CreateInvoiceResp, error)
}
