package gin

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/x402-foundation/splitpay"
	splitpayhttp "github.com/x402-foundation/splitpay/http"
	"github.com/x402-foundation/splitpay/internal/logging"
)

// ContextKeyPayment is the gin context key holding the granted splitpay.Result.
const ContextKeyPayment = "splitpay.payment"

// PaymentMiddlewareOptions is the options for the PaymentMiddleware.
type PaymentMiddlewareOptions struct {
	Resource       string
	SplitterID     string
	SplitterLookup func(c *gin.Context) (string, error)
	Logger         *slog.Logger
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
// through one splitter.
func WithSplitterID(id string) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.SplitterID = id
	}
}

// WithSplitterLookup is an option for the PaymentMiddleware to choose the
// splitter per request. Defaults to splitpayhttp.SplitterFromRequest.
func WithSplitterLookup(lookup func(c *gin.Context) (string, error)) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.SplitterLookup = lookup
	}
}

// WithLogger is an option for the PaymentMiddleware to set the logger.
func WithLogger(logger *slog.Logger) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.Logger = logger
	}
}

// GinAdapter exposes a gin request to the payment gate.
type GinAdapter struct {
	ctx *gin.Context
}

// NewGinAdapter creates an adapter for c.
func NewGinAdapter(c *gin.Context) *GinAdapter {
	return &GinAdapter{ctx: c}
}

func (a *GinAdapter) GetHeader(name string) string {
	return a.ctx.GetHeader(name)
}

func (a *GinAdapter) GetMethod() string {
	return a.ctx.Request.Method
}

func (a *GinAdapter) GetPath() string {
	return a.ctx.Request.URL.Path
}

func (a *GinAdapter) GetURL() string {
	return splitpayhttp.NewRequestAdapter(a.ctx.Request).GetURL()
}

// PaymentMiddleware is the Gin middleware gating a route behind a split payment.
// Requests without a proof get a 402 challenge; requests with an accepted
// proof reach the handler with the grant stored under ContextKeyPayment.
func PaymentMiddleware(gate *splitpayhttp.PaymentGate, opts ...Options) gin.HandlerFunc {
	options := &PaymentMiddlewareOptions{
		Logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return func(c *gin.Context) {
		splitterID := options.SplitterID
		if splitterID == "" {
			var err error
			if options.SplitterLookup != nil {
				splitterID, err = options.SplitterLookup(c)
			} else {
				splitterID, err = splitpayhttp.SplitterFromRequest(c.Request)
			}
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, splitpayhttp.NewErrorBody(
					splitpay.WrapPaymentError(splitpay.ErrCodeInvalidRequest, "failed to read request", err)))
				return
			}
		}

		result := gate.ProcessHTTPRequest(c.Request.Context(), splitpayhttp.HTTPRequestContext{
			Adapter:    NewGinAdapter(c),
			Path:       c.Request.URL.Path,
			Method:     c.Request.Method,
			SplitterID: splitterID,
			Resource:   options.Resource,
		})

		if result.Type != splitpayhttp.ResultPaymentVerified {
			options.Logger.Debug("payment required",
				logging.Splitter(splitterID),
				slog.String("path", c.Request.URL.Path),
				slog.String("result", result.Result.Kind.String()),
				logging.Error(result.Result.Err))
			for k, v := range result.Response.Headers {
				c.Header(k, v)
			}
			c.AbortWithStatusJSON(result.Response.Status, result.Response.Body)
			return
		}

		for k, v := range result.Headers {
			c.Header(k, v)
		}
		c.Set(ContextKeyPayment, result.Result)
		c.Next()
	}
}

// PaymentFromContext returns the grant stored by PaymentMiddleware.
func PaymentFromContext(c *gin.Context) (splitpay.Result, bool) {
	v, ok := c.Get(ContextKeyPayment)
	if !ok {
		return splitpay.Result{}, false
	}
	res, ok := v.(splitpay.Result)
	return res, ok
}
