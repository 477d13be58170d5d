package pixrepo

import (
	"encoding/json"
	"time"

	"github.com/amirasaad/pixflow/pkg/domain/pix"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Transaction is the persisted form of a Pix transaction.
type Transaction struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Txid            string         `gorm:"type:varchar(35);uniqueIndex:idx_pix_transactions_txid;not null"`
	Type            string         `gorm:"type:varchar(16);not null"`
	Status          string         `gorm:"type:varchar(16);not null;index:idx_pix_transactions_owner_status,priority:2;index:idx_pix_transactions_subject_status,priority:2"`
	Amount          int64          `gorm:"not null"`
	CounterpartyKey string         `gorm:"type:varchar(140);not null"`
	Description     string         `gorm:"type:text"`
	Payer           datatypes.JSON `gorm:"type:jsonb"`
	Payee           datatypes.JSON `gorm:"type:jsonb"`
	QRPayload       string         `gorm:"column:qr_payload;type:text"`
	QRImageRef      string         `gorm:"column:qr_image_ref;type:text"`
	PaidAt          *time.Time
	ExpiresAt       *time.Time `gorm:"index"`
	EndToEndID      string     `gorm:"column:end_to_end_id;type:varchar(64);index"`
	RefundRef       string     `gorm:"type:varchar(64)"`
	OwnerID         string     `gorm:"type:varchar(64);index:idx_pix_transactions_owner_status,priority:1"`
	SubjectID       string     `gorm:"type:varchar(64);index:idx_pix_transactions_subject_status,priority:1"`
	GatewayRaw      datatypes.JSON `gorm:"type:jsonb"`
	Origin          string         `gorm:"type:varchar(16);not null"`
	CreatedAt       time.Time      `gorm:"index"`
	UpdatedAt       time.Time
}

// TableName specifies the table name for the Transaction model.
func (Transaction) TableName() string {
	return "pix_transactions"
}

func toModel(tx *pix.Transaction) (*Transaction, error) {
	payer, err := marshalParty(tx.Payer)
	if err != nil {
		return nil, err
	}
	payee, err := marshalParty(tx.Payee)
	if err != nil {
		return nil, err
	}
	return &Transaction{
		ID:              tx.ID,
		Txid:            tx.Txid,
		Type:            string(tx.Type),
		Status:          string(tx.Status),
		Amount:          tx.Amount,
		CounterpartyKey: tx.CounterpartyKey,
		Description:     tx.Description,
		Payer:           payer,
		Payee:           payee,
		QRPayload:       tx.QRPayload,
		QRImageRef:      tx.QRImageRef,
		PaidAt:          tx.PaidAt,
		ExpiresAt:       tx.ExpiresAt,
		EndToEndID:      tx.EndToEndID,
		RefundRef:       tx.RefundRef,
		OwnerID:         tx.OwnerID,
		SubjectID:       tx.SubjectID,
		GatewayRaw:      datatypes.JSON(tx.GatewayRaw),
		Origin:          string(tx.Origin),
		CreatedAt:       tx.CreatedAt,
		UpdatedAt:       tx.UpdatedAt,
	}, nil
}

func toDomain(m *Transaction) *pix.Transaction {
	return &pix.Transaction{
		ID:              m.ID,
		Txid:            m.Txid,
		Type:            pix.Type(m.Type),
		Status:          pix.Status(m.Status),
		Amount:          m.Amount,
		CounterpartyKey: m.CounterpartyKey,
		Description:     m.Description,
		Payer:           unmarshalParty(m.Payer),
		Payee:           unmarshalParty(m.Payee),
		QRPayload:       m.QRPayload,
		QRImageRef:      m.QRImageRef,
		PaidAt:          m.PaidAt,
		ExpiresAt:       m.ExpiresAt,
		EndToEndID:      m.EndToEndID,
		RefundRef:       m.RefundRef,
		OwnerID:         m.OwnerID,
		SubjectID:       m.SubjectID,
		GatewayRaw:      json.RawMessage(m.GatewayRaw),
		Origin:          pix.Origin(m.Origin),
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func marshalParty(p *pix.Party) (datatypes.JSON, error) {
	if p == nil {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func unmarshalParty(raw datatypes.JSON) *pix.Party {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var p pix.Party
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	return &p
}
