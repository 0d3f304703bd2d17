package stdlib

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/x402-foundation/splitpay"
	splitpayhttp "github.com/x402-foundation/splitpay/http"
	"github.com/x402-foundation/splitpay/internal/logging"
)

type contextKey struct{}

// PaymentMiddlewareOptions is the options for the PaymentMiddleware.
type PaymentMiddlewareOptions struct {
	Resource   string
	SplitterID string
	Logger     *slog.Logger
}

// Options is the type for the options for the PaymentMiddleware.
type Options func(*PaymentMiddlewareOptions)

// WithResource is an option for the PaymentMiddleware to set the resource name
// used for pricing. Defaults to the request path.
func WithResource(resource string) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.Resource = resource
	}
}

// WithSplitterID is an option for the PaymentMiddleware to pay every request
// through one splitter. Without it the splitter is read from the request.
func WithSplitterID(id string) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.SplitterID = id
	}
}

// WithLogger is an option for the PaymentMiddleware to set the logger.
func WithLogger(logger *slog.Logger) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.Logger = logger
	}
}

// PaymentMiddleware gates next behind a split payment.
func PaymentMiddleware(gate *splitpayhttp.PaymentGate, opts ...Options) func(http.Handler) http.Handler {
	options := &PaymentMiddlewareOptions{
		Logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			splitterID := options.SplitterID
			if splitterID == "" {
				var err error
				if splitterID, err = splitpayhttp.SplitterFromRequest(r); err != nil {
					writeJSON(w, http.StatusBadRequest, splitpayhttp.NewErrorBody(
						splitpay.WrapPaymentError(splitpay.ErrCodeInvalidRequest, "failed to read request", err)))
					return
				}
			}

			result := gate.ProcessHTTPRequest(r.Context(), splitpayhttp.HTTPRequestContext{
				Adapter:    splitpayhttp.NewRequestAdapter(r),
				Path:       r.URL.Path,
				Method:     r.Method,
				SplitterID: splitterID,
				Resource:   options.Resource,
			})

			if result.Type != splitpayhttp.ResultPaymentVerified {
				options.Logger.Debug("payment required", logging.Splitter(splitterID),
					slog.String("result", result.Result.Kind.String()))
				for k, v := range result.Response.Headers {
					w.Header().Set(k, v)
				}
				writeJSON(w, result.Response.Status, result.Response.Body)
				return
			}

			for k, v := range result.Headers {
				w.Header().Set(k, v)
			}
			ctx := context.WithValue(r.Context(), contextKey{}, result.Result)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PaymentFromContext returns the grant stored by PaymentMiddleware.
func PaymentFromContext(ctx context.Context) (splitpay.Result, bool) {
	res, ok := ctx.Value(contextKey{}).(splitpay.Result)
	return res, ok
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
