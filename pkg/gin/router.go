package gin

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/x402-foundation/splitpay"
	splitpayhttp "github.com/x402-foundation/splitpay/http"
	"github.com/x402-foundation/splitpay/internal/logging"
	"github.com/x402-foundation/splitpay/mechanisms/svm"
)

// DemoResource is the resource name of the demo protected route.
const DemoResource = "/api/demo/get-data"

// Builder builds settlement transactions. *svm.TransactionBuilder implements it.
type Builder interface {
	BuildSettlementTransaction(ctx context.Context, cfg *splitpay.SplitterConfig, payer string, amount uint64) (*svm.BuildResult, error)
	Mode() svm.SettlementMode
}

// Dependencies are the components served by the API router.
type Dependencies struct {
	Gateway *splitpay.ConfigGateway
	Records splitpay.RecordStore
	Builder Builder
	Gate    *splitpayhttp.PaymentGate

	Network   splitpay.Network
	ProgramID string

	// BuildRateLimit caps build-split-tx requests per second; zero disables it.
	BuildRateLimit rate.Limit
	BuildBurst     int

	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

type api struct {
	deps    Dependencies
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewRouter creates the gin engine with the management API, the build
// endpoint, the demo protected resource and the metrics endpoint.
func NewRouter(deps Dependencies) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	a := &api{deps: deps, logger: logger}
	if deps.BuildRateLimit > 0 {
		burst := deps.BuildBurst
		if burst <= 0 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(deps.BuildRateLimit, burst)
	}

	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(logger))

	r.GET("/api/health", a.health)
	r.GET("/api/stats", a.stats)

	r.POST("/api/splitter/create", a.createSplitter)
	r.GET("/api/splitter/:id", a.getSplitter)
	r.POST("/api/splitter/:id/update", a.updateShares)
	r.POST("/api/splitter/:id/initialize", a.initialize)
	r.GET("/api/splitter/:id/payments", a.payments)
	r.GET("/api/splitters", a.listSplitters)
	r.GET("/api/splitters/:authority", a.listByAuthority)

	r.POST("/api/payment/build-split-tx", a.buildSplitTx)

	r.POST(DemoResource,
		PaymentMiddleware(deps.Gate, WithResource(DemoResource), WithLogger(logger)),
		a.demoData)

	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

// RequestLogger logs one line per request.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)))
	}
}

func writeError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(splitpayhttp.StatusForError(err), splitpayhttp.NewErrorBody(err))
}

func badRequest(c *gin.Context, err error) {
	writeError(c, splitpay.WrapPaymentError(splitpay.ErrCodeInvalidRequest, "invalid request body", err))
}

func (a *api) health(c *gin.Context) {
	mode := ""
	if a.deps.Builder != nil {
		mode = string(a.deps.Builder.Mode())
	}
	c.JSON(http.StatusOK, splitpayhttp.HealthResponse{
		Status:    "ok",
		Network:   string(a.deps.Network),
		ProgramID: a.deps.ProgramID,
		Mode:      mode,
	})
}

func (a *api) stats(c *gin.Context) {
	stats, err := a.deps.Records.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (a *api) createSplitter(c *gin.Context) {
	var req splitpay.CreateSplitterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cfg, err := a.deps.Gateway.Create(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cfg)
}

func (a *api) getSplitter(c *gin.Context) {
	cfg, err := a.deps.Gateway.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// UpdateSharesRequest is the body of the update route.
type UpdateSharesRequest struct {
	Authority string          `json:"authority"`
	Shares    splitpay.Shares `json:"shares"`
	Signature string          `json:"signature"`
}

func (a *api) updateShares(c *gin.Context) {
	var req UpdateSharesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cfg, err := a.deps.Gateway.UpdateShares(c.Request.Context(), c.Param("id"), req.Authority, req.Shares, req.Signature)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// InitializeRequest is the body of the initialize route.
type InitializeRequest struct {
	Signature string `json:"signature" binding:"required"`
}

func (a *api) initialize(c *gin.Context) {
	var req InitializeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cfg, err := a.deps.Gateway.MarkReady(c.Request.Context(), c.Param("id"), req.Signature)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (a *api) payments(c *gin.Context) {
	id := c.Param("id")
	if _, err := a.deps.Gateway.Get(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	records, err := a.deps.Records.ListBySplitter(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if records == nil {
		records = []*splitpay.PaymentRecord{}
	}
	c.JSON(http.StatusOK, records)
}

func (a *api) listSplitters(c *gin.Context) {
	cfgs, err := a.deps.Gateway.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if cfgs == nil {
		cfgs = []*splitpay.SplitterConfig{}
	}
	c.JSON(http.StatusOK, cfgs)
}

func (a *api) listByAuthority(c *gin.Context) {
	cfgs, err := a.deps.Gateway.ListByAuthority(c.Request.Context(), c.Param("authority"))
	if err != nil {
		writeError(c, err)
		return
	}
	if cfgs == nil {
		cfgs = []*splitpay.SplitterConfig{}
	}
	c.JSON(http.StatusOK, cfgs)
}

func (a *api) buildSplitTx(c *gin.Context) {
	if a.limiter != nil && !a.limiter.Allow() {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, splitpayhttp.ErrorBody{
			Error:     "too many build requests",
			Code:      "rate_limited",
			Retryable: true,
		})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		badRequest(c, err)
		return
	}
	req, err := splitpayhttp.ValidateBuildRequest(body)
	if err != nil {
		writeError(c, err)
		return
	}

	ctx := c.Request.Context()
	cfg, err := a.deps.Gateway.Resolve(ctx, req.SplitterID)
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := a.deps.Builder.BuildSettlementTransaction(ctx, cfg, req.PayerIdentity, req.Amount)
	if err != nil {
		a.logger.Warn("build failed", logging.Splitter(req.SplitterID), logging.Payer(req.PayerIdentity), logging.Error(err))
		writeError(c, err)
		return
	}
	resp, err := splitpayhttp.NewBuildSplitTxResponse(res)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// DemoResponse is the body served by the demo protected route.
type DemoResponse struct {
	Data      string                      `json:"data"`
	Timestamp time.Time                   `json:"timestamp"`
	Payment   splitpayhttp.PaymentReceipt `json:"payment"`
}

func (a *api) demoData(c *gin.Context) {
	res, ok := PaymentFromContext(c)
	if !ok {
		writeError(c, splitpay.NewPaymentError(splitpay.ErrCodePaymentFailed, "no payment on request", nil))
		return
	}
	c.JSON(http.StatusOK, DemoResponse{
		Data:      "Premium data unlocked by split payment",
		Timestamp: time.Now().UTC(),
		Payment: splitpayhttp.PaymentReceipt{
			ProofID:    res.Record.ProofID,
			SplitterID: res.Record.SplitterID,
			Payer:      res.Record.Payer,
			Amount:     res.Record.TotalAmount,
			Splits:     res.Splits,
			Replayed:   res.Replayed,
		},
	})
}
