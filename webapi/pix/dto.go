package pix

import (
	"strings"
	"time"

	"github.com/amirasaad/pixflow/pkg/domain"
	"github.com/amirasaad/pixflow/pkg/domain/pix"
	provider "github.com/amirasaad/pixflow/pkg/provider/pix"
	repo "github.com/amirasaad/pixflow/pkg/repository/pix"
)

// PartyDTO identifies a payer or payee.
type PartyDTO struct {
	Name    string `json:"name,omitempty" validate:"omitempty,max=200"`
	TaxID   string `json:"taxId,omitempty" validate:"omitempty,max=18"`
	Email   string `json:"email,omitempty" validate:"omitempty,email"`
	Account string `json:"account,omitempty" validate:"omitempty,max=64"`
}

func (p *PartyDTO) toDomain() *pix.Party {
	if p == nil {
		return nil
	}
	return &pix.Party{Name: p.Name, TaxID: p.TaxID, Email: p.Email, Account: p.Account}
}

func partyDTO(p *pix.Party) *PartyDTO {
	if p == nil {
		return nil
	}
	return &PartyDTO{Name: p.Name, TaxID: p.TaxID, Email: p.Email, Account: p.Account}
}

// CreateChargeRequest asks for a new charge. Amount is in cents.
type CreateChargeRequest struct {
	Amount      int64     `json:"amount" validate:"required,gt=0"`
	Txid        string    `json:"txid,omitempty" validate:"omitempty,alphanum,min=26,max=35"`
	Key         string    `json:"key,omitempty" validate:"omitempty,max=77"`
	Description string    `json:"description,omitempty" validate:"omitempty,max=140"`
	Payer       *PartyDTO `json:"payer,omitempty"`
	SubjectID   string    `json:"subjectId,omitempty" validate:"omitempty,max=64"`
}

// ChargeResponse is returned on charge creation.
type ChargeResponse struct {
	ID         string     `json:"id"`
	Txid       string     `json:"txid"`
	Status     pix.Status `json:"status"`
	Amount     int64      `json:"amount"`
	QRPayload  string     `json:"qrPayload"`
	QRImageRef string     `json:"qrImageRef"`
	ExpiresAt  *time.Time `json:"expiresAt"`
	Simulated  bool       `json:"simulated,omitempty"`
}

func toChargeResponse(tx *pix.Transaction) ChargeResponse {
	return ChargeResponse{
		ID:         tx.ID.String(),
		Txid:       tx.Txid,
		Status:     tx.Status,
		Amount:     tx.Amount,
		QRPayload:  tx.QRPayload,
		QRImageRef: tx.QRImageRef,
		ExpiresAt:  tx.ExpiresAt,
		Simulated:  tx.Origin == pix.OriginSimulated,
	}
}

// TransactionDTO is the API view of a ledger record.
type TransactionDTO struct {
	ID              string     `json:"id"`
	Txid            string     `json:"txid"`
	Type            pix.Type   `json:"type"`
	Status          pix.Status `json:"status"`
	Amount          int64      `json:"amount"`
	CounterpartyKey string     `json:"counterpartyKey,omitempty"`
	Description     string     `json:"description,omitempty"`
	Payer           *PartyDTO  `json:"payer,omitempty"`
	Payee           *PartyDTO  `json:"payee,omitempty"`
	QRPayload       string     `json:"qrPayload,omitempty"`
	QRImageRef      string     `json:"qrImageRef,omitempty"`
	PaidAt          *time.Time `json:"paidAt,omitempty"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
	EndToEndID      string     `json:"endToEndId,omitempty"`
	RefundRef       string     `json:"refundRef,omitempty"`
	OwnerID         string     `json:"ownerId,omitempty"`
	SubjectID       string     `json:"subjectId,omitempty"`
	Origin          pix.Origin `json:"origin"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func toTransactionDTO(tx *pix.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:              tx.ID.String(),
		Txid:            tx.Txid,
		Type:            tx.Type,
		Status:          tx.Status,
		Amount:          tx.Amount,
		CounterpartyKey: tx.CounterpartyKey,
		Description:     tx.Description,
		Payer:           partyDTO(tx.Payer),
		Payee:           partyDTO(tx.Payee),
		QRPayload:       tx.QRPayload,
		QRImageRef:      tx.QRImageRef,
		PaidAt:          tx.PaidAt,
		ExpiresAt:       tx.ExpiresAt,
		EndToEndID:      tx.EndToEndID,
		RefundRef:       tx.RefundRef,
		OwnerID:         tx.OwnerID,
		SubjectID:       tx.SubjectID,
		Origin:          tx.Origin,
		CreatedAt:       tx.CreatedAt,
		UpdatedAt:       tx.UpdatedAt,
	}
}

// ListResponse is one page of transactions.
type ListResponse struct {
	Items []TransactionDTO `json:"items"`
	Total int64            `json:"total"`
}

// ListQuery holds the query string of the transactions listing.
type ListQuery struct {
	OwnerID   string `query:"ownerId" validate:"omitempty,max=64"`
	SubjectID string `query:"subjectId" validate:"omitempty,max=64"`
	Status    string `query:"status"`
	Type      string `query:"type"`
	StartDate string `query:"startDate"`
	EndDate   string `query:"endDate"`
	Search    string `query:"search" validate:"omitempty,max=100"`
	Limit     int    `query:"limit" validate:"gte=0,lte=100"`
	Offset    int    `query:"offset" validate:"gte=0"`
}

const defaultPageSize = 20

// toFilter converts the query; status and type accept comma separated lists.
func (q ListQuery) toFilter() (repo.Filter, error) {
	f := repo.Filter{
		OwnerID:   q.OwnerID,
		SubjectID: q.SubjectID,
		Search:    strings.TrimSpace(q.Search),
		Limit:     q.Limit,
		Offset:    q.Offset,
	}
	if f.Limit == 0 {
		f.Limit = defaultPageSize
	}
	for _, s := range splitList(q.Status) {
		st := pix.Status(strings.ToUpper(s))
		if !st.Valid() {
			return f, domain.NewValidationError("status", "unknown status "+s)
		}
		f.Statuses = append(f.Statuses, st)
	}
	for _, s := range splitList(q.Type) {
		t := pix.Type(strings.ToUpper(s))
		if !t.Valid() {
			return f, domain.NewValidationError("type", "unknown type "+s)
		}
		f.Types = append(f.Types, t)
	}
	var err error
	if f.StartDate, err = parseDate(q.StartDate, false); err != nil {
		return f, domain.NewValidationError("startDate", err.Error())
	}
	if f.EndDate, err = parseDate(q.EndDate, true); err != nil {
		return f, domain.NewValidationError("endDate", err.Error())
	}
	return f, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseDate accepts RFC 3339 or a plain date. A plain end date covers the
// whole day.
func parseDate(s string, endOfDay bool) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

// RefundRequest refunds a paid charge. Zero amount refunds everything.
type RefundRequest struct {
	Amount      int64  `json:"amount" validate:"gte=0"`
	Description string `json:"description,omitempty" validate:"omitempty,max=140"`
}

// RefundResponse confirms a refund.
type RefundResponse struct {
	ID        string     `json:"id"`
	RefundRef string     `json:"refundRef"`
	Status    pix.Status `json:"status"`
}

// TransferRequest sends money to a Pix key. Amount is in cents.
type TransferRequest struct {
	Amount      int64     `json:"amount" validate:"required,gt=0"`
	PayeeKey    string    `json:"payeeKey" validate:"required,max=77"`
	Description string    `json:"description,omitempty" validate:"omitempty,max=140"`
	Payee       *PartyDTO `json:"payee,omitempty"`
	SubjectID   string    `json:"subjectId,omitempty" validate:"omitempty,max=64"`
}

// QRCodeResponse carries the copy-and-paste payload and the image.
type QRCodeResponse struct {
	Payload  string `json:"qrPayload"`
	ImageRef string `json:"qrImageRef"`
}

// GatewayQuery holds the query string of the gateway listings.
type GatewayQuery struct {
	StartDate string `query:"startDate"`
	EndDate   string `query:"endDate"`
	Status    string `query:"status" validate:"omitempty,max=40"`
	Txid      string `query:"txid" validate:"omitempty,alphanum,max=35"`
}

// gatewayWindow is a parsed GatewayQuery; zero bounds are left to the service.
type gatewayWindow struct {
	GatewayQuery
	start, end time.Time
}

// GatewayChargeDTO is the gateway's view of one charge.
type GatewayChargeDTO struct {
	Txid       string     `json:"txid"`
	Status     string     `json:"status"`
	Local      pix.Status `json:"localStatus,omitempty"`
	Amount     int64      `json:"amount"`
	EndToEndID string     `json:"endToEndId,omitempty"`
	PaidAt     *time.Time `json:"paidAt,omitempty"`
}

func toGatewayChargeDTO(cs provider.ChargeStatus) GatewayChargeDTO {
	return GatewayChargeDTO{
		Txid:       cs.Txid,
		Status:     cs.Status,
		Local:      pix.MapExternalStatus(cs.Status).Status,
		Amount:     cs.Amount,
		EndToEndID: cs.EndToEndID,
		PaidAt:     cs.PaidAt,
	}
}

// ReceivedPixDTO is one payment credited to the account.
type ReceivedPixDTO struct {
	EndToEndID string    `json:"endToEndId"`
	Txid       string    `json:"txid,omitempty"`
	Amount     int64     `json:"amount"`
	Key        string    `json:"key,omitempty"`
	PayerInfo  string    `json:"payerInfo,omitempty"`
	PaidAt     time.Time `json:"paidAt"`
}

func toReceivedPixDTO(r provider.ReceivedPix) ReceivedPixDTO {
	return ReceivedPixDTO{
		EndToEndID: r.EndToEndID,
		Txid:       r.Txid,
		Amount:     r.Amount,
		Key:        r.Key,
		PayerInfo:  r.PayerInfo,
		PaidAt:     r.PaidAt,
	}
}
