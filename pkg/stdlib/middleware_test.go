package stdlib

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402-foundation/splitpay"
	splitpayhttp "github.com/x402-foundation/splitpay/http"
)

type processorFunc func(ctx context.Context, req splitpay.Request) splitpay.Result

func (f processorFunc) Process(ctx context.Context, req splitpay.Request) splitpay.Result {
	return f(ctx, req)
}

func grantOrChallenge(ctx context.Context, req splitpay.Request) splitpay.Result {
	if req.ProofID == "" {
		return splitpay.Result{Kind: splitpay.ResultChallenge, Challenge: &splitpay.PaymentChallenge{
			ProtocolVersion: 1,
			Accepts:         []splitpay.PaymentAccept{{PayTo: req.SplitterID, Resource: req.Resource, MaxAmountRequired: "100"}},
		}}
	}
	return splitpay.Result{Kind: splitpay.ResultGranted, Record: &splitpay.PaymentRecord{
		ProofID: req.ProofID, SplitterID: req.SplitterID, TotalAmount: 100,
	}}
}

func TestPaymentMiddleware(t *testing.T) {
	var seen splitpay.Result
	handler := PaymentMiddleware(
		splitpayhttp.NewPaymentGate(processorFunc(grantOrChallenge)),
		WithResource("premium"),
	)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PaymentFromContext(r.Context())
		w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodPost, "/premium", strings.NewReader(`{"splitterPDA":"s1"}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusPaymentRequired, w.Code)
	var challenge splitpay.PaymentChallenge
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &challenge))
	assert.Equal(t, "s1", challenge.Accepts[0].PayTo)
	assert.Equal(t, "premium", challenge.Accepts[0].Resource)

	req = httptest.NewRequest(http.MethodGet, "/premium?splitter=s1", nil)
	req.Header.Set(splitpayhttp.HeaderProofSignature, "sig")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	assert.Equal(t, "sig", seen.Record.ProofID)
	assert.NotEmpty(t, w.Header().Get(splitpayhttp.HeaderPaymentResponse))
}

func TestPaymentMiddlewareFixedSplitter(t *testing.T) {
	var got splitpay.Request
	gate := splitpayhttp.NewPaymentGate(processorFunc(func(ctx context.Context, req splitpay.Request) splitpay.Result {
		got = req
		return splitpay.Result{Kind: splitpay.ResultError, Err: splitpay.NewPaymentError(splitpay.ErrCodeSplitterNotFound, "missing", nil)}
	}))
	handler := PaymentMiddleware(gate, WithSplitterID("fixed"))(http.NotFoundHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/r?splitter=other", nil))

	assert.Equal(t, "fixed", got.SplitterID)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), splitpay.ErrCodeSplitterNotFound)
}
