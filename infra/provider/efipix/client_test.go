package efipix

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/amirasaad/pixflow/pkg/domain"
	provider "github.com/amirasaad/pixflow/pkg/provider/pix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTxid = "abcdefghijklmnopqrstuvwxyz012345"

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL, "key@example.com", srv.Client(), nil)
}

func TestCreateCharge_SendsCobAndFetchesQRCode(t *testing.T) {
	var got cobRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/v2/cob/"+testTxid:
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, &got))
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"txid":"` + testTxid + `","status":"ATIVA","loc":{"id":42},"pixCopiaECola":"000201..."}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v2/loc/42/qrcode":
			_, _ = w.Write([]byte(`{"qrcode":"000201...","imagemQrcode":"data:image/png;base64,AAAA"}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	charge, err := c.CreateCharge(context.Background(), provider.ChargeRequest{
		Txid:        testTxid,
		Amount:      1050,
		Description: "order 7",
		Debtor:      &provider.Debtor{Name: "Maria", TaxID: "123.456.789-09"},
	})
	require.NoError(t, err)

	assert.Equal(t, "10.50", got.Valor.Original)
	assert.Equal(t, 3600, got.Calendario.Expiracao)
	assert.Equal(t, "key@example.com", got.Chave)
	require.NotNil(t, got.Devedor)
	assert.Equal(t, "12345678909", got.Devedor.CPF)

	assert.Equal(t, "ATIVA", charge.Status)
	assert.Equal(t, "000201...", charge.QRPayload)
	assert.Equal(t, "data:image/png;base64,AAAA", charge.QRImageRef)
	assert.NotEmpty(t, charge.Raw)
}

func TestCreateCharge_OmitsDebtorWithoutValidTaxID(t *testing.T) {
	var raw map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &raw)
		_, _ = w.Write([]byte(`{"txid":"` + testTxid + `","status":"ATIVA"}`))
	})

	_, err := c.CreateCharge(context.Background(), provider.ChargeRequest{
		Txid:       testTxid,
		Amount:     100,
		Debtor:     &provider.Debtor{Name: "x", TaxID: "123"},
		Expiration: 10 * time.Minute,
	})
	require.NoError(t, err)
	_, hasDebtor := raw["devedor"]
	assert.False(t, hasDebtor)
	assert.EqualValues(t, 600, raw["calendario"].(map[string]any)["expiracao"])
}

func TestGetCharge_ParsesSettlement(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"txid":"` + testTxid + `","status":"CONCLUIDA","valor":{"original":"25.00"},
			"pix":[{"endToEndId":"E123","txid":"` + testTxid + `","valor":"25.00","horario":"2024-05-01T12:00:00Z"}]
		}`))
	})

	st, err := c.GetCharge(context.Background(), testTxid)
	require.NoError(t, err)
	assert.Equal(t, "CONCLUIDA", st.Status)
	assert.Equal(t, int64(2500), st.Amount)
	assert.Equal(t, "E123", st.EndToEndID)
	require.NotNil(t, st.PaidAt)
	assert.True(t, st.PaidAt.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))
}

func TestDo_MapsErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
		notFound  bool
	}{
		{"not found", http.StatusNotFound, false, true},
		{"bad request", http.StatusBadRequest, false, false},
		{"rate limited", http.StatusTooManyRequests, true, false},
		{"server error", http.StatusBadGateway, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"nome":"erro","mensagem":"falhou"}`))
			})
			_, err := c.GetCharge(context.Background(), testTxid)
			require.Error(t, err)

			var gerr *provider.GatewayError
			require.ErrorAs(t, err, &gerr)
			assert.Equal(t, tt.status, gerr.StatusCode)
			assert.Equal(t, "falhou", gerr.Message)
			assert.Equal(t, tt.transient, provider.IsTransient(err))
			assert.Equal(t, tt.notFound, errors.Is(err, domain.ErrNotFound))
		})
	}
}

func TestDo_TransportFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(url, "", nil, nil)
	err := c.HealthCheck(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
}

func TestListCharges_SendsWindow(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/cob", r.URL.Path)
		assert.Equal(t, "2024-01-01T00:00:00Z", r.URL.Query().Get("inicio"))
		assert.Equal(t, "2024-01-01T01:00:00Z", r.URL.Query().Get("fim"))
		assert.Equal(t, "ATIVA", r.URL.Query().Get("status"))
		_, _ = w.Write([]byte(`{"cobs":[{"txid":"a","status":"ATIVA","valor":{"original":"1.00"}},{"txid":"b","status":"ATIVA"}]}`))
	})

	list, err := c.ListCharges(context.Background(), provider.ListChargesParams{Start: start, End: end, Status: "ATIVA"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(100), list[0].Amount)
}

func TestSendTransferAndRefund(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		switch r.URL.Path {
		case "/v2/gn/pix/env1":
			var req envioRequest
			require.NoError(t, json.Unmarshal(body, &req))
			assert.Equal(t, "key@example.com", req.Pagador.Chave)
			assert.Equal(t, "dest@example.com", req.Favorecido.Chave)
			assert.Equal(t, "3.00", req.Valor)
			_, _ = w.Write([]byte(`{"idEnvio":"env1","e2eId":"E999","status":"EM_PROCESSAMENTO"}`))
		case "/v2/pix/E123/devolucao/dev1":
			var req devolucaoRequest
			require.NoError(t, json.Unmarshal(body, &req))
			assert.Equal(t, "25.00", req.Valor)
			_, _ = w.Write([]byte(`{"id":"dev1","rtrId":"D1","status":"EM_PROCESSAMENTO"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	tr, err := c.SendTransfer(context.Background(), provider.TransferRequest{ID: "env1", Amount: 300, PayeeKey: "dest@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "E999", tr.EndToEndID)

	rf, err := c.RefundTransaction(context.Background(), provider.RefundRequest{EndToEndID: "E123", RefundID: "dev1", Amount: 2500})
	require.NoError(t, err)
	assert.Equal(t, "D1", rf.RtrID)
}

func TestGetTransfer_ReadsEnvio(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v2/gn/pix/enviados/id-envio/env1", r.URL.Path)
		_, _ = w.Write([]byte(`{"endToEndId":"E777","idEnvio":"env1","valor":"3.00","status":"REALIZADO"}`))
	})

	tr, err := c.GetTransfer(context.Background(), "env1")
	require.NoError(t, err)
	assert.Equal(t, "env1", tr.ID)
	assert.Equal(t, "E777", tr.EndToEndID)
	assert.Equal(t, "REALIZADO", tr.Status)
	assert.NotEmpty(t, tr.Raw)
}

func TestCancelCharge_PatchesStatus(t *testing.T) {
	var got cobPatchRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/v2/cob/"+testTxid, r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte(`{"txid":"` + testTxid + `","status":"REMOVIDA_PELO_USUARIO_RECEBEDOR","valor":{"original":"5.00"}}`))
	})

	cs, err := c.CancelCharge(context.Background(), testTxid)
	require.NoError(t, err)
	assert.Equal(t, "REMOVIDA_PELO_USUARIO_RECEBEDOR", got.Status)
	assert.Equal(t, "REMOVIDA_PELO_USUARIO_RECEBEDOR", cs.Status)
	assert.Equal(t, int64(500), cs.Amount)
}

func TestListReceived_ParsesPix(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/pix", r.URL.Path)
		assert.Equal(t, "2024-01-01T00:00:00Z", r.URL.Query().Get("inicio"))
		assert.Equal(t, "2024-01-02T00:00:00Z", r.URL.Query().Get("fim"))
		assert.Equal(t, testTxid, r.URL.Query().Get("txid"))
		_, _ = w.Write([]byte(`{"pix":[{"endToEndId":"E1","txid":"` + testTxid + `","valor":"12.34","chave":"key@example.com","horario":"2024-01-01T10:00:00Z","infoPagador":"thanks"}]}`))
	})

	list, err := c.ListReceived(context.Background(), provider.ListReceivedParams{
		Start: start,
		End:   start.Add(24 * time.Hour),
		Txid:  testTxid,
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "E1", list[0].EndToEndID)
	assert.Equal(t, int64(1234), list[0].Amount)
	assert.Equal(t, "thanks", list[0].PayerInfo)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), list[0].PaidAt.UTC())
	assert.JSONEq(t, `{"endToEndId":"E1","txid":"`+testTxid+`","valor":"12.34","chave":"key@example.com","horario":"2024-01-01T10:00:00Z","infoPagador":"thanks"}`, string(list[0].Raw))
}
