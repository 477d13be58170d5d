package efipix

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"time"

	provider "github.com/amirasaad/pixflow/pkg/provider/pix"
)

const defaultExpiration = time.Hour

var nonDigits = regexp.MustCompile(`\D`)

type calendario struct {
	Criacao   string `json:"criacao,omitempty"`
	Expiracao int    `json:"expiracao"`
}

type devedor struct {
	CPF  string `json:"cpf,omitempty"`
	CNPJ string `json:"cnpj,omitempty"`
	Nome string `json:"nome"`
}

type valor struct {
	Original string `json:"original"`
}

type infoAdicional struct {
	Nome  string `json:"nome"`
	Valor string `json:"valor"`
}

type cobRequest struct {
	Calendario         calendario      `json:"calendario"`
	Devedor            *devedor        `json:"devedor,omitempty"`
	Valor              valor           `json:"valor"`
	Chave              string          `json:"chave"`
	SolicitacaoPagador string          `json:"solicitacaoPagador,omitempty"`
	InfoAdicionais     []infoAdicional `json:"infoAdicionais,omitempty"`
}

type cobPix struct {
	EndToEndID string `json:"endToEndId"`
	Txid       string `json:"txid"`
	Valor      string `json:"valor"`
	Horario    string `json:"horario"`
}

type cobResponse struct {
	Txid          string     `json:"txid"`
	Status        string     `json:"status"`
	Calendario    calendario `json:"calendario"`
	Valor         valor      `json:"valor"`
	PixCopiaECola string     `json:"pixCopiaECola"`
	Loc           struct {
		ID       int    `json:"id"`
		Location string `json:"location"`
	} `json:"loc"`
	Pix []cobPix `json:"pix"`
}

type cobListResponse struct {
	Cobs []cobResponse `json:"cobs"`
}

type qrcodeResponse struct {
	QRCode       string `json:"qrcode"`
	ImagemQRCode string `json:"imagemQrcode"`
}

type envioRequest struct {
	Valor   string `json:"valor"`
	Pagador struct {
		Chave       string `json:"chave"`
		InfoPagador string `json:"infoPagador,omitempty"`
	} `json:"pagador"`
	Favorecido struct {
		Chave string `json:"chave"`
	} `json:"favorecido"`
}

type envioResponse struct {
	IDEnvio    string `json:"idEnvio"`
	E2EID      string `json:"e2eId"`
	EndToEndID string `json:"endToEndId"`
	Status     string `json:"status"`
}

func (r *envioResponse) toTransfer(fallbackID string, raw json.RawMessage) *provider.Transfer {
	id := r.IDEnvio
	if id == "" {
		id = fallbackID
	}
	e2e := r.E2EID
	if e2e == "" {
		e2e = r.EndToEndID
	}
	return &provider.Transfer{ID: id, EndToEndID: e2e, Status: r.Status, Raw: raw}
}

type cobPatchRequest struct {
	Status string `json:"status"`
}

type pixRecebido struct {
	EndToEndID  string `json:"endToEndId"`
	Txid        string `json:"txid"`
	Valor       string `json:"valor"`
	Chave       string `json:"chave"`
	Horario     string `json:"horario"`
	InfoPagador string `json:"infoPagador"`
}

type pixListResponse struct {
	Pix []json.RawMessage `json:"pix"`
}

type devolucaoRequest struct {
	Valor     string `json:"valor"`
	Descricao string `json:"descricao,omitempty"`
}

type devolucaoResponse struct {
	ID     string `json:"id"`
	RtrID  string `json:"rtrId"`
	Status string `json:"status"`
}

func (r *cobResponse) toStatus(raw json.RawMessage) *provider.ChargeStatus {
	cs := &provider.ChargeStatus{Txid: r.Txid, Status: r.Status, Raw: raw}
	if amount, err := ParseAmount(r.Valor.Original); err == nil {
		cs.Amount = amount
	}
	if len(r.Pix) > 0 {
		p := r.Pix[0]
		cs.EndToEndID = p.EndToEndID
		if t, err := time.Parse(time.RFC3339, p.Horario); err == nil {
			cs.PaidAt = &t
		}
	}
	return cs
}

// CreateCharge implements pix.Gateway with PUT /v2/cob/{txid}.
func (c *Client) CreateCharge(ctx context.Context, req provider.ChargeRequest) (*provider.Charge, error) {
	exp := req.Expiration
	if exp <= 0 {
		exp = defaultExpiration
	}
	key := req.Key
	if key == "" {
		key = c.pixKey
	}
	body := cobRequest{
		Calendario:         calendario{Expiracao: int(exp.Seconds())},
		Valor:              valor{Original: FormatAmount(req.Amount)},
		Chave:              key,
		SolicitacaoPagador: req.Description,
	}
	if req.Description != "" {
		body.InfoAdicionais = []infoAdicional{{Nome: "Descricao", Valor: req.Description}}
	}
	if d := req.Debtor; d != nil {
		digits := nonDigits.ReplaceAllString(d.TaxID, "")
		switch len(digits) {
		case 11:
			body.Devedor = &devedor{CPF: digits, Nome: d.Name}
		case 14:
			body.Devedor = &devedor{CNPJ: digits, Nome: d.Name}
		}
	}

	var out cobResponse
	raw, err := c.do(ctx, "create_charge", http.MethodPut, "/v2/cob/"+url.PathEscape(req.Txid), nil, body, &out)
	if err != nil {
		return nil, err
	}

	charge := &provider.Charge{
		Txid:      out.Txid,
		Status:    out.Status,
		QRPayload: out.PixCopiaECola,
		Raw:       raw,
	}
	if out.Loc.ID != 0 {
		qr, err := c.locQRCode(ctx, out.Loc.ID)
		if err != nil {
			c.logger.Warn("qr code lookup failed", "txid", out.Txid, "error", err)
		} else {
			if charge.QRPayload == "" {
				charge.QRPayload = qr.Payload
			}
			charge.QRImageRef = qr.ImageRef
		}
	}
	return charge, nil
}

// GetCharge implements pix.Gateway with GET /v2/cob/{txid}.
func (c *Client) GetCharge(ctx context.Context, txid string) (*provider.ChargeStatus, error) {
	var out cobResponse
	raw, err := c.do(ctx, "get_charge", http.MethodGet, "/v2/cob/"+url.PathEscape(txid), nil, nil, &out)
	if err != nil {
		return nil, err
	}
	return out.toStatus(raw), nil
}

// window fills the inicio/fim query pair, defaulting to the last day.
func window(start, end time.Time) url.Values {
	if end.IsZero() {
		end = time.Now()
	}
	if start.IsZero() {
		start = end.Add(-24 * time.Hour)
	}
	q := url.Values{}
	q.Set("inicio", start.UTC().Format(time.RFC3339))
	q.Set("fim", end.UTC().Format(time.RFC3339))
	return q
}

// ListCharges implements pix.Gateway with GET /v2/cob.
func (c *Client) ListCharges(ctx context.Context, params provider.ListChargesParams) ([]provider.ChargeStatus, error) {
	q := window(params.Start, params.End)
	if params.Status != "" {
		q.Set("status", params.Status)
	}

	var out cobListResponse
	if _, err := c.do(ctx, "list_charges", http.MethodGet, "/v2/cob", q, nil, &out); err != nil {
		return nil, err
	}
	result := make([]provider.ChargeStatus, 0, len(out.Cobs))
	for i := range out.Cobs {
		result = append(result, *out.Cobs[i].toStatus(nil))
	}
	return result, nil
}

// SendTransfer implements pix.Gateway with PUT /v2/gn/pix/{idEnvio}.
func (c *Client) SendTransfer(ctx context.Context, req provider.TransferRequest) (*provider.Transfer, error) {
	var body envioRequest
	body.Valor = FormatAmount(req.Amount)
	body.Pagador.Chave = req.PayerKey
	if body.Pagador.Chave == "" {
		body.Pagador.Chave = c.pixKey
	}
	body.Pagador.InfoPagador = req.Description
	body.Favorecido.Chave = req.PayeeKey

	var out envioResponse
	raw, err := c.do(ctx, "send_transfer", http.MethodPut, "/v2/gn/pix/"+url.PathEscape(req.ID), nil, body, &out)
	if err != nil {
		return nil, err
	}
	return out.toTransfer(req.ID, raw), nil
}

// GetTransfer implements pix.Gateway with GET /v2/gn/pix/enviados/id-envio/{idEnvio}.
func (c *Client) GetTransfer(ctx context.Context, id string) (*provider.Transfer, error) {
	var out envioResponse
	raw, err := c.do(ctx, "get_transfer", http.MethodGet, "/v2/gn/pix/enviados/id-envio/"+url.PathEscape(id), nil, nil, &out)
	if err != nil {
		return nil, err
	}
	return out.toTransfer(id, raw), nil
}

// CancelCharge implements pix.Gateway with PATCH /v2/cob/{txid}.
func (c *Client) CancelCharge(ctx context.Context, txid string) (*provider.ChargeStatus, error) {
	body := cobPatchRequest{Status: "REMOVIDA_PELO_USUARIO_RECEBEDOR"}
	var out cobResponse
	raw, err := c.do(ctx, "cancel_charge", http.MethodPatch, "/v2/cob/"+url.PathEscape(txid), nil, body, &out)
	if err != nil {
		return nil, err
	}
	return out.toStatus(raw), nil
}

// ListReceived implements pix.Gateway with GET /v2/pix.
func (c *Client) ListReceived(ctx context.Context, params provider.ListReceivedParams) ([]provider.ReceivedPix, error) {
	q := window(params.Start, params.End)
	if params.Txid != "" {
		q.Set("txid", params.Txid)
	}

	var out pixListResponse
	if _, err := c.do(ctx, "list_received", http.MethodGet, "/v2/pix", q, nil, &out); err != nil {
		return nil, err
	}
	result := make([]provider.ReceivedPix, 0, len(out.Pix))
	for _, raw := range out.Pix {
		var p pixRecebido
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, &provider.GatewayError{Op: "list_received", Message: "decode pix", Err: err}
		}
		rp := provider.ReceivedPix{
			EndToEndID: p.EndToEndID,
			Txid:       p.Txid,
			Key:        p.Chave,
			PayerInfo:  p.InfoPagador,
			Raw:        raw,
		}
		if amount, err := ParseAmount(p.Valor); err == nil {
			rp.Amount = amount
		}
		if t, err := time.Parse(time.RFC3339, p.Horario); err == nil {
			rp.PaidAt = t
		}
		result = append(result, rp)
	}
	return result, nil
}

// RefundTransaction implements pix.Gateway with PUT /v2/pix/{e2eId}/devolucao/{id}.
func (c *Client) RefundTransaction(ctx context.Context, req provider.RefundRequest) (*provider.Refund, error) {
	body := devolucaoRequest{Valor: FormatAmount(req.Amount), Descricao: req.Description}
	path := fmt.Sprintf("/v2/pix/%s/devolucao/%s", url.PathEscape(req.EndToEndID), url.PathEscape(req.RefundID))

	var out devolucaoResponse
	raw, err := c.do(ctx, "refund", http.MethodPut, path, nil, body, &out)
	if err != nil {
		return nil, err
	}
	return &provider.Refund{ID: out.ID, RtrID: out.RtrID, Status: out.Status, Raw: raw}, nil
}

// GenerateQRCode implements pix.Gateway by resolving the charge location.
func (c *Client) GenerateQRCode(ctx context.Context, txid string) (*provider.QRCode, error) {
	var out cobResponse
	if _, err := c.do(ctx, "get_charge", http.MethodGet, "/v2/cob/"+url.PathEscape(txid), nil, nil, &out); err != nil {
		return nil, err
	}
	if out.Loc.ID == 0 {
		return &provider.QRCode{Payload: out.PixCopiaECola}, nil
	}
	return c.locQRCode(ctx, out.Loc.ID)
}

func (c *Client) locQRCode(ctx context.Context, locID int) (*provider.QRCode, error) {
	var out qrcodeResponse
	if _, err := c.do(ctx, "qrcode", http.MethodGet, fmt.Sprintf("/v2/loc/%d/qrcode", locID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &provider.QRCode{Payload: out.QRCode, ImageRef: out.ImagemQRCode}, nil
}

// HealthCheck lists the last hour of charges; any answer means online.
func (c *Client) HealthCheck(ctx context.Context) error {
	now := time.Now()
	_, err := c.ListCharges(ctx, provider.ListChargesParams{Start: now.Add(-time.Hour), End: now})
	return err
}
