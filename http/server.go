package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/x402-foundation/splitpay"
)

// Result types for ProcessHTTPRequest.
const (
	// ResultPaymentVerified: serve the resource.
	ResultPaymentVerified = "payment-verified"
	// ResultPaymentError: write Response instead of the resource.
	ResultPaymentError = "payment-error"
)

// Processor runs the payment state machine for one request.
// *splitpay.Coordinator implements it.
type Processor interface {
	Process(ctx context.Context, req splitpay.Request) splitpay.Result
}

// HTTPResponseInstructions tell the framework adapter what to write.
type HTTPResponseInstructions struct {
	Status  int
	Headers map[string]string
	Body    interface{}
}

// HTTPProcessResult is the outcome of ProcessHTTPRequest.
type HTTPProcessResult struct {
	Type     string
	Response *HTTPResponseInstructions
	Result   splitpay.Result
	// Headers to add to the resource response when the payment is verified.
	Headers map[string]string
}

// PaymentGate decides for each request whether to answer with a challenge,
// an error, or to let the resource handler run.
type PaymentGate struct {
	processor Processor
}

// NewPaymentGate creates a gate around processor.
func NewPaymentGate(processor Processor) *PaymentGate {
	return &PaymentGate{processor: processor}
}

// ProcessHTTPRequest extracts the proof headers and runs the coordinator.
func (g *PaymentGate) ProcessHTTPRequest(ctx context.Context, reqCtx HTTPRequestContext) HTTPProcessResult {
	resource := reqCtx.Resource
	if resource == "" {
		resource = reqCtx.Path
	}
	if resource == "" && reqCtx.Adapter != nil {
		resource = reqCtx.Adapter.GetPath()
	}

	var proof, payer string
	if reqCtx.Adapter != nil {
		proof = strings.TrimSpace(reqCtx.Adapter.GetHeader(HeaderProofSignature))
		payer = strings.TrimSpace(reqCtx.Adapter.GetHeader(HeaderPayerIdentity))
	}

	if reqCtx.SplitterID == "" {
		err := splitpay.NewPaymentError(splitpay.ErrCodeInvalidRequest, "splitter is required", nil)
		return errorResult(splitpay.Result{Kind: splitpay.ResultError, Err: err})
	}

	res := g.processor.Process(ctx, splitpay.Request{
		Resource:   resource,
		SplitterID: reqCtx.SplitterID,
		ProofID:    proof,
		Payer:      payer,
	})

	switch res.Kind {
	case splitpay.ResultChallenge, splitpay.ResultDenied:
		return HTTPProcessResult{
			Type:   ResultPaymentError,
			Result: res,
			Response: &HTTPResponseInstructions{
				Status:  http.StatusPaymentRequired,
				Headers: map[string]string{"Content-Type": "application/json"},
				Body:    res.Challenge,
			},
		}
	case splitpay.ResultGranted:
		receipt := PaymentReceipt{
			ProofID:    res.Record.ProofID,
			SplitterID: res.Record.SplitterID,
			Payer:      res.Record.Payer,
			Amount:     res.Record.TotalAmount,
			Splits:     res.Splits,
			Replayed:   res.Replayed,
		}
		return HTTPProcessResult{
			Type:    ResultPaymentVerified,
			Result:  res,
			Headers: map[string]string{HeaderPaymentResponse: EncodePaymentReceipt(receipt)},
		}
	}
	return errorResult(res)
}

func errorResult(res splitpay.Result) HTTPProcessResult {
	return HTTPProcessResult{
		Type:   ResultPaymentError,
		Result: res,
		Response: &HTTPResponseInstructions{
			Status:  StatusForError(res.Err),
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    NewErrorBody(res.Err),
		},
	}
}
