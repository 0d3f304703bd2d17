// Package echo adapts the splitpay payment gate to the Echo framework.
package echo

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/x402-foundation/splitpay"
	splitpayhttp "github.com/x402-foundation/splitpay/http"
	"github.com/x402-foundation/splitpay/internal/logging"
)

// ContextKeyPayment is the echo context key holding the granted splitpay.Result.
const ContextKeyPayment = "splitpay.payment"

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
// through one splitter.
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

// EchoAdapter exposes an echo request to the payment gate.
type EchoAdapter struct {
	ctx echo.Context
}

func (a *EchoAdapter) GetHeader(name string) string {
	return a.ctx.Request().Header.Get(name)
}

func (a *EchoAdapter) GetMethod() string {
	return a.ctx.Request().Method
}

func (a *EchoAdapter) GetPath() string {
	return a.ctx.Request().URL.Path
}

func (a *EchoAdapter) GetURL() string {
	return a.ctx.Scheme() + "://" + a.ctx.Request().Host + a.ctx.Request().URL.RequestURI()
}

// PaymentMiddleware is the Echo middleware gating a route behind a split payment.
func PaymentMiddleware(gate *splitpayhttp.PaymentGate, opts ...Options) echo.MiddlewareFunc {
	options := &PaymentMiddlewareOptions{
		Logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			splitterID := options.SplitterID
			if splitterID == "" {
				var err error
				if splitterID, err = splitpayhttp.SplitterFromRequest(c.Request()); err != nil {
					return c.JSON(http.StatusBadRequest, splitpayhttp.NewErrorBody(
						splitpay.WrapPaymentError(splitpay.ErrCodeInvalidRequest, "failed to read request", err)))
				}
			}

			result := gate.ProcessHTTPRequest(c.Request().Context(), splitpayhttp.HTTPRequestContext{
				Adapter:    &EchoAdapter{ctx: c},
				Path:       c.Request().URL.Path,
				Method:     c.Request().Method,
				SplitterID: splitterID,
				Resource:   options.Resource,
			})

			if result.Type != splitpayhttp.ResultPaymentVerified {
				options.Logger.Debug("payment required", logging.Splitter(splitterID),
					slog.String("result", result.Result.Kind.String()))
				for k, v := range result.Response.Headers {
					c.Response().Header().Set(k, v)
				}
				return c.JSON(result.Response.Status, result.Response.Body)
			}

			for k, v := range result.Headers {
				c.Response().Header().Set(k, v)
			}
			c.Set(ContextKeyPayment, result.Result)
			return next(c)
		}
	}
}

// PaymentFromContext returns the grant stored by PaymentMiddleware.
func PaymentFromContext(c echo.Context) (splitpay.Result, bool) {
	res, ok := c.Get(ContextKeyPayment).(splitpay.Result)
	return res, ok
}
