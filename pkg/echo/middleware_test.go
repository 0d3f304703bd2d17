package echo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402-foundation/splitpay"
	splitpayhttp "github.com/x402-foundation/splitpay/http"
)

type processorFunc func(ctx context.Context, req splitpay.Request) splitpay.Result

func (f processorFunc) Process(ctx context.Context, req splitpay.Request) splitpay.Result {
	return f(ctx, req)
}

func TestPaymentMiddleware(t *testing.T) {
	var got splitpay.Request
	gate := splitpayhttp.NewPaymentGate(processorFunc(func(ctx context.Context, req splitpay.Request) splitpay.Result {
		got = req
		if req.ProofID == "" {
			return splitpay.Result{Kind: splitpay.ResultChallenge, Challenge: &splitpay.PaymentChallenge{ProtocolVersion: 1}}
		}
		return splitpay.Result{Kind: splitpay.ResultGranted, Record: &splitpay.PaymentRecord{ProofID: req.ProofID, TotalAmount: 5}}
	}))

	e := echo.New()
	e.GET("/data", func(c echo.Context) error {
		res, ok := PaymentFromContext(c)
		if !ok {
			return c.NoContent(http.StatusInternalServerError)
		}
		return c.String(http.StatusOK, res.Record.ProofID)
	}, PaymentMiddleware(gate, WithSplitterID("s1")))

	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/data", nil))
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Contains(t, w.Body.String(), `"protocolVersion":1`)
	assert.Equal(t, "/data", got.Resource)

	req := httptest.NewRequest(http.MethodGet, "/data", nil)
	req.Header.Set(splitpayhttp.HeaderProofSignature, "sig-9")
	req.Header.Set(splitpayhttp.HeaderPayerIdentity, "payer")
	w = httptest.NewRecorder()
	e.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sig-9", w.Body.String())
	assert.Equal(t, "payer", got.Payer)
	assert.Equal(t, "s1", got.SplitterID)
}

func TestPaymentMiddlewareLedgerUnavailable(t *testing.T) {
	gate := splitpayhttp.NewPaymentGate(processorFunc(func(ctx context.Context, req splitpay.Request) splitpay.Result {
		return splitpay.Result{Kind: splitpay.ResultError, Err: splitpay.NewPaymentError(splitpay.ErrCodeLedgerUnavailable, "down", nil)}
	}))
	e := echo.New()
	e.GET("/data", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, PaymentMiddleware(gate, WithSplitterID("s1")))

	req := httptest.NewRequest(http.MethodGet, "/data", nil)
	req.Header.Set(splitpayhttp.HeaderProofSignature, "sig")
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"retryable":true`)
}
