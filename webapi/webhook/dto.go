package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/amirasaad/pixflow/infra/provider/efipix"
)

// Amount accepts the gateway's decimal amount as a JSON string or number.
type Amount string

func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*a = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = Amount(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("valor: %w", err)
	}
	*a = Amount(n.String())
	return nil
}

// Cents parses the amount; it must be positive.
func (a Amount) Cents() (int64, error) {
	cents, err := efipix.ParseAmount(string(a))
	if err != nil {
		return 0, err
	}
	if cents <= 0 {
		return 0, fmt.Errorf("invalid amount %q: must be positive", string(a))
	}
	return cents, nil
}

// NotificationRequest is the flat notification: one charge and its status.
type NotificationRequest struct {
	Txid       string `json:"txid" validate:"required,max=35"`
	Status     string `json:"status" validate:"required,max=64"`
	Valor      Amount `json:"valor" validate:"required"`
	Horario    string `json:"horario" validate:"required"`
	EndToEndID string `json:"endToEndId" validate:"omitempty,max=64"`
}

// PixEntry is one settled payment inside the gateway's {"pix": [...]} envelope.
type PixEntry struct {
	EndToEndID  string `json:"endToEndId" validate:"required,max=64"`
	Txid        string `json:"txid" validate:"omitempty,max=35"`
	Valor       Amount `json:"valor" validate:"required"`
	Horario     string `json:"horario" validate:"required"`
	Chave       string `json:"chave,omitempty"`
	InfoPagador string `json:"infoPagador,omitempty"`
}

type envelope struct {
	NotificationRequest
	Pix    []PixEntry `json:"pix"`
	Evento string     `json:"evento"`
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("horario must be RFC 3339: %w", err)
	}
	return t.UTC(), nil
}

// Result reports what happened to one notification.
type Result struct {
	Txid    string `json:"txid"`
	Outcome string `json:"outcome"`
}

// Response acknowledges a delivery.
type Response struct {
	Received int      `json:"received"`
	Results  []Result `json:"results"`
}
