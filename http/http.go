// Package http provides the HTTP side of splitpay: the server-side payment
// gate that turns coordinator results into responses, validation of wire
// documents, a client for the build-tx API and the caller-side PaymentClient.
package http

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/x402-foundation/splitpay"
)

// Header names used by the payment protocol.
const (
	HeaderProofSignature  = "proof-signature"
	HeaderPayerIdentity   = "payer-identity"
	HeaderPaymentResponse = "payment-response"
	HeaderSplitterID      = "splitter-id"
)

// maxBodyPeek bounds how much of a request body is read to find the splitter.
const maxBodyPeek = 1 << 20

// ============================================================================
// Request adapter
// ============================================================================

// HTTPAdapter abstracts the framework request the gate is looking at.
type HTTPAdapter interface {
	GetHeader(name string) string
	GetMethod() string
	GetPath() string
	GetURL() string
}

// HTTPRequestContext is one protected request as seen by the gate.
// Resource defaults to Path when empty.
type HTTPRequestContext struct {
	Adapter    HTTPAdapter
	Path       string
	Method     string
	SplitterID string
	Resource   string
}

// RequestAdapter adapts a net/http request.
type RequestAdapter struct {
	req *http.Request
}

// NewRequestAdapter creates an adapter for req.
func NewRequestAdapter(req *http.Request) *RequestAdapter {
	return &RequestAdapter{req: req}
}

func (a *RequestAdapter) GetHeader(name string) string {
	return a.req.Header.Get(name)
}

func (a *RequestAdapter) GetMethod() string {
	return a.req.Method
}

func (a *RequestAdapter) GetPath() string {
	return a.req.URL.Path
}

func (a *RequestAdapter) GetURL() string {
	scheme := "http"
	if a.req.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s", scheme, a.req.Host, a.req.URL.RequestURI())
}

// SplitterFromRequest finds the splitter a request wants to pay through: the
// splitter-id header, the "splitter" query parameter, or a splitterPDA or
// splitterId field in a JSON body. The body is restored for the handler.
func SplitterFromRequest(req *http.Request) (string, error) {
	if id := strings.TrimSpace(req.Header.Get(HeaderSplitterID)); id != "" {
		return id, nil
	}
	if id := strings.TrimSpace(req.URL.Query().Get("splitter")); id != "" {
		return id, nil
	}
	if req.Body == nil || req.Body == http.NoBody {
		return "", nil
	}

	data, err := io.ReadAll(io.LimitReader(req.Body, maxBodyPeek))
	req.Body.Close()
	if err != nil {
		return "", fmt.Errorf("failed to read request body: %w", err)
	}
	req.Body = io.NopCloser(bytes.NewReader(data))

	var fields struct {
		SplitterPDA string `json:"splitterPDA"`
		SplitterID  string `json:"splitterId"`
	}
	if len(bytes.TrimSpace(data)) == 0 || json.Unmarshal(data, &fields) != nil {
		return "", nil
	}
	if fields.SplitterPDA != "" {
		return fields.SplitterPDA, nil
	}
	return fields.SplitterID, nil
}

// ============================================================================
// Errors
// ============================================================================

// ErrorBody is the JSON body of an error response.
type ErrorBody struct {
	Error     string                 `json:"error"`
	Code      string                 `json:"code"`
	Retryable bool                   `json:"retryable"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// NewErrorBody renders err for a response. Errors that are not payment errors
// are reported as internal without their message.
func NewErrorBody(err error) ErrorBody {
	var pe *splitpay.PaymentError
	if errors.As(err, &pe) {
		return ErrorBody{
			Error:     pe.Message,
			Code:      pe.Code,
			Retryable: pe.Retryable,
			Details:   pe.Details,
		}
	}
	return ErrorBody{Error: "internal error", Code: "internal_error"}
}

// StatusForError maps an error to its HTTP status code.
func StatusForError(err error) int {
	switch splitpay.ErrorCode(err) {
	case splitpay.ErrCodeInvalidShares,
		splitpay.ErrCodeInvalidAddress,
		splitpay.ErrCodeInvalidRequest,
		splitpay.ErrCodeSplitterNotReady:
		return http.StatusBadRequest
	case splitpay.ErrCodeSplitterNotFound:
		return http.StatusNotFound
	case splitpay.ErrCodeProofNotFound,
		splitpay.ErrCodePaymentFailed,
		splitpay.ErrCodeChallengeLoop:
		return http.StatusPaymentRequired
	case splitpay.ErrCodeLedgerUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// ============================================================================
// Payment response header
// ============================================================================

// PaymentReceipt is sent with a granted response in the payment-response header.
type PaymentReceipt struct {
	ProofID    string                     `json:"proofId"`
	SplitterID string                     `json:"splitterId"`
	Payer      string                     `json:"payer,omitempty"`
	Amount     uint64                     `json:"amount"`
	Splits     []splitpay.RecipientAmount `json:"splits"`
	Replayed   bool                       `json:"replayed"`
}

// EncodePaymentReceipt encodes a receipt as base64 JSON.
func EncodePaymentReceipt(receipt PaymentReceipt) string {
	data, err := json.Marshal(receipt)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal payment receipt: %v", err))
	}
	return base64.StdEncoding.EncodeToString(data)
}

// DecodePaymentReceipt decodes the payment-response header.
func DecodePaymentReceipt(header string) (*PaymentReceipt, error) {
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}
	var receipt PaymentReceipt
	if err := json.Unmarshal(data, &receipt); err != nil {
		return nil, fmt.Errorf("invalid payment receipt JSON: %w", err)
	}
	return &receipt, nil
}
