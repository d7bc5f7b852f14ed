package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/example/venuepay/internal/metrics"
)

const (
	DefaultQRManagerURL = "https://app.wapiserv.qrm.ooo/operations/qr-code/"
	DefaultQRSize       = 600
	apiKeyHeader        = "X-Api-Key"
	maxErrorBody        = 1024
)

// Field aliases seen across gateway versions, in lookup order.
var (
	qrURLFields    = []string{"qr_url", "url", "qr_image_url", "image", "qr_code"}
	qrIDFields     = []string{"qr_id", "id", "payment_id"}
	qrStatusFields = []string{"status", "payment_status", "state"}
)

// GatewayErrorKind distinguishes why a gateway call failed.
type GatewayErrorKind string

const (
	GatewayUnreachable     GatewayErrorKind = "unreachable"
	GatewayRejected        GatewayErrorKind = "rejected"
	GatewayInvalidResponse GatewayErrorKind = "invalid_response"
)

// GatewayError is returned by every failed QR gateway call.
// Body keeps the provider's raw message for diagnostics.
type GatewayError struct {
	Kind       GatewayErrorKind
	Op         string
	StatusCode int
	Body       string
	Err        error
}

var (
	ErrGatewayUnreachable     = &GatewayError{Kind: GatewayUnreachable}
	ErrGatewayRejected        = &GatewayError{Kind: GatewayRejected}
	ErrGatewayInvalidResponse = &GatewayError{Kind: GatewayInvalidResponse}
)

func (e *GatewayError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "qr gateway %s %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Body != "" {
		b.WriteString(": " + e.Body)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

func (e *GatewayError) Is(target error) bool {
	var other *GatewayError
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// QRRequest carries the inputs of a QR creation call. Amount is in minor units.
type QRRequest struct {
	Credential      string
	Amount          int64
	Purpose         string
	NotificationURL string
	RedirectURL     string
	Size            int
}

// QRResult is a successfully issued QR reference.
type QRResult struct {
	QRID  string
	QRURL string
	Raw   map[string]any
}

// PaymentGateway is the contract of the external instant-payment provider.
type PaymentGateway interface {
	CreateQR(ctx context.Context, req QRRequest) (*QRResult, error)
	CheckStatus(ctx context.Context, credential, qrID string) (string, error)
	Cancel(ctx context.Context, credential, qrID string) (bool, error)
}

// QRManagerClient talks to the QR Manager instant-payment API.
type QRManagerClient struct {
	baseURL    string
	httpClient *http.Client
	metrics    *metrics.Metrics
}

// NewQRManagerClient builds a client whose every call is bounded by timeout.
func NewQRManagerClient(baseURL string, timeout time.Duration, m *metrics.Metrics) *QRManagerClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultQRManagerURL
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &QRManagerClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		metrics:    m,
	}
}

type createQRPayload struct {
	Sum             int64  `json:"sum"`
	QRSize          int    `json:"qr_size"`
	PaymentPurpose  string `json:"payment_purpose"`
	NotificationURL string `json:"notification_url"`
	RedirectURL     string `json:"redirect_url"`
}

// CreateQR issues a QR code for req.Amount. A response without a recognizable QR URL is an error.
func (c *QRManagerClient) CreateQR(ctx context.Context, req QRRequest) (result *QRResult, err error) {
	const op = "create_qr"
	started := time.Now()
	defer func() { c.metrics.ObserveGateway(op, started, err) }()

	if strings.TrimSpace(req.Credential) == "" {
		return nil, &GatewayError{Kind: GatewayRejected, Op: op, Body: "terminal api key is not configured"}
	}
	size := req.Size
	if size <= 0 {
		size = DefaultQRSize
	}

	body, err := json.Marshal(createQRPayload{
		Sum:             req.Amount,
		QRSize:          size,
		PaymentPurpose:  req.Purpose,
		NotificationURL: req.NotificationURL,
		RedirectURL:     req.RedirectURL,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal qr payload: %w", err)
	}

	log.Printf("[QRManager] creating QR: sum=%d purpose=%.60q", req.Amount, req.Purpose)

	fields, err := c.do(ctx, op, http.MethodPost, c.baseURL, req.Credential, body)
	if err != nil {
		return nil, err
	}

	qrURL := firstString(fields, qrURLFields)
	if qrURL == "" {
		log.Printf("[QRManager] no QR URL in response, keys=%v", keys(fields))
		return nil, &GatewayError{Kind: GatewayInvalidResponse, Op: op, Body: "response has no QR URL"}
	}

	return &QRResult{
		QRID:  firstString(fields, qrIDFields),
		QRURL: qrURL,
		Raw:   fields,
	}, nil
}

// CheckStatus returns the provider's raw status string for qrID.
func (c *QRManagerClient) CheckStatus(ctx context.Context, credential, qrID string) (status string, err error) {
	const op = "check_status"
	started := time.Now()
	defer func() { c.metrics.ObserveGateway(op, started, err) }()

	fields, err := c.do(ctx, op, http.MethodGet, c.qrURL(qrID, "status"), credential, nil)
	if err != nil {
		return "", err
	}
	status = firstString(fields, qrStatusFields)
	if status == "" {
		return "", &GatewayError{Kind: GatewayInvalidResponse, Op: op, Body: "response has no status"}
	}
	return status, nil
}

// Cancel revokes qrID at the provider.
func (c *QRManagerClient) Cancel(ctx context.Context, credential, qrID string) (ok bool, err error) {
	const op = "cancel"
	started := time.Now()
	defer func() { c.metrics.ObserveGateway(op, started, err) }()

	if _, err := c.do(ctx, op, http.MethodPost, c.qrURL(qrID, "cancel"), credential, nil); err != nil {
		return false, err
	}
	log.Printf("[QRManager] QR %s cancelled", qrID)
	return true, nil
}

func (c *QRManagerClient) qrURL(qrID, action string) string {
	return strings.TrimRight(c.baseURL, "/") + "/" + url.PathEscape(qrID) + "/" + action
}

func (c *QRManagerClient) do(ctx context.Context, op, method, target, credential string, body []byte) (map[string]any, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if credential != "" {
		req.Header.Set(apiKeyHeader, credential)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[QRManager] %s: cannot reach gateway: %v", op, err)
		return nil, &GatewayError{Kind: GatewayUnreachable, Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &GatewayError{Kind: GatewayUnreachable, Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("[QRManager] %s rejected: status %d", op, resp.StatusCode)
		return nil, &GatewayError{Kind: GatewayRejected, Op: op, StatusCode: resp.StatusCode, Body: truncate(string(respBody), maxErrorBody)}
	}

	fields := map[string]any{}
	if len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, &fields); err != nil {
			return nil, &GatewayError{Kind: GatewayInvalidResponse, Op: op, StatusCode: resp.StatusCode, Body: truncate(string(respBody), maxErrorBody), Err: err}
		}
	}
	if results, ok := fields["results"].(map[string]any); ok {
		return results, nil
	}
	return fields, nil
}

func firstString(fields map[string]any, names []string) string {
	for _, name := range names {
		switch v := fields[name].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func keys(fields map[string]any) []string {
	out := make([]string, 0, len(fields))
	for k := range fields {
		out = append(out, k)
	}
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
