// Package efipix implements the Pix gateway against the Efí (Gerencianet) Pix API.
package efipix

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/amirasaad/pixflow/pkg/domain"
	provider "github.com/amirasaad/pixflow/pkg/provider/pix"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	SandboxURL    = "https://pix-h.api.efipay.com.br"
	ProductionURL = "https://pix.api.efipay.com.br"

	maxBodyBytes = 1 << 20
)

// Config configures the Efí client.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	CertFile     string
	KeyFile      string
	PixKey       string
	Timeout      time.Duration
}

// Client talks to the Efí Pix API. Authentication is carried by the injected
// *http.Client.
type Client struct {
	baseURL string
	pixKey  string
	http    *http.Client
	logger  *slog.Logger
}

var _ provider.Gateway = (*Client)(nil)

// New creates a Client that uses httpClient for every request.
func New(baseURL, pixKey string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		pixKey:  pixKey,
		http:    httpClient,
		logger:  logger.With("component", "efipix"),
	}
}

// NewHTTPClient builds an *http.Client presenting the client certificate and
// fetching bearer tokens with the OAuth2 client credentials grant.
func NewHTTPClient(ctx context.Context, cfg Config) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("efipix: load client certificate: %w", err)
		}
		transport.TLSClientConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}
	base := &http.Client{Transport: transport, Timeout: cfg.Timeout}

	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     strings.TrimRight(cfg.BaseURL, "/") + "/oauth/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	client := cc.Client(ctx)
	client.Timeout = cfg.Timeout
	return client, nil
}

type apiError struct {
	Name     string `json:"nome"`
	Message  string `json:"mensagem"`
	Title    string `json:"title"`
	Detail   string `json:"detail"`
	Error    string `json:"error"`
	ErrorMsg string `json:"error_description"`
}

func (e apiError) text() string {
	for _, s := range []string{e.Message, e.Detail, e.Title, e.ErrorMsg, e.Error, e.Name} {
		if s != "" {
			return s
		}
	}
	return ""
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, &provider.GatewayError{Op: op, Message: "encode request", Err: err}
		}
		reader = bytes.NewReader(b)
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, &provider.GatewayError{Op: op, Message: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("gateway request failed", "operation", op, "error", err)
		return nil, &provider.GatewayError{Op: op, Message: "request failed", Transient: true, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &provider.GatewayError{Op: op, StatusCode: resp.StatusCode, Message: "read response", Transient: true, Err: err}
	}

	if resp.StatusCode >= 300 {
		var ae apiError
		_ = json.Unmarshal(raw, &ae)
		gerr := &provider.GatewayError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    ae.text(),
			Transient:  resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
		}
		if resp.StatusCode == http.StatusNotFound {
			gerr.Err = domain.ErrNotFound
		}
		c.logger.Warn("gateway returned error", "operation", op, "status", resp.StatusCode, "message", gerr.Message)
		return raw, gerr
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return raw, &provider.GatewayError{Op: op, StatusCode: resp.StatusCode, Message: "decode response", Err: err}
		}
	}
	return raw, nil
}
