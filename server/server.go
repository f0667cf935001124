// Package server exposes the payment gate and the mesh orchestrator over
// HTTP: a challenge-gated resource, a payment-info endpoint, a streaming
// run endpoint, and an outcome-submission endpoint for the external signer.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	x402 "github.com/meshpay/x402-mesh-go"
	x402http "github.com/meshpay/x402-mesh-go/http"
	ginx402 "github.com/meshpay/x402-mesh-go/http/gin"
	"github.com/meshpay/x402-mesh-go/mesh"
)

// RunIDHeader carries the run identifier on the stream response so the
// signer can correlate outcome submissions. The event wire format itself
// stays unchanged.
const RunIDHeader = "X-Mesh-Run-ID"

// Config holds the server's externally supplied configuration.
type Config struct {
	// WalletAddress receives gate payments and originates mesh transfers.
	WalletAddress string

	// Price is the gate price per request, e.g. "$0.10".
	Price string

	// Network is the target ledger identifier.
	Network string

	// FacilitatorURL is the verification/settlement service endpoint.
	FacilitatorURL string

	// StepDelay is the synthetic pause between mesh steps.
	StepDelay time.Duration

	// Timeouts overrides the default facilitator timeouts.
	Timeouts x402.TimeoutConfig

	// Logger receives structured server logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// Server wires the gate, orchestrator, and run registry behind a gin engine.
type Server struct {
	config Config
	logger *slog.Logger
	orch   *mesh.Orchestrator
	runs   *mesh.Registry
	engine *gin.Engine
}

// New builds a Server. Configuration errors (unknown network, bad price)
// are returned immediately rather than surfacing on the first request.
func New(config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeouts := config.Timeouts.OrDefault()

	if _, err := x402.GetNetworkConfig(config.Network); err != nil {
		return nil, err
	}

	facilitatorClient := &x402http.FacilitatorClient{
		BaseURL:  config.FacilitatorURL,
		Client:   &http.Client{Timeout: timeouts.RequestTimeout},
		Timeouts: timeouts,
	}

	s := &Server{
		config: config,
		logger: logger,
		orch: &mesh.Orchestrator{
			Facilitator: facilitatorClient,
			Network:     config.Network,
			Timeouts:    timeouts,
			StepDelay:   config.StepDelay,
			Logger:      logger,
		},
		runs: mesh.NewRegistry(),
	}

	gate, err := ginx402.NewPaymentMiddleware(ginx402.Config{
		FacilitatorURL: config.FacilitatorURL,
		WalletAddress:  config.WalletAddress,
		Price:          config.Price,
		Network:        config.Network,
		Resource:       "/api/premium",
		Timeouts:       timeouts,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/api/payment-info", s.handlePaymentInfo)
	engine.POST("/api/mesh/runs", s.handleMeshRun)
	engine.POST("/api/mesh/runs/:id/outcome", s.handleOutcome)

	protected := engine.Group("/api", gate)
	protected.GET("/premium", s.handlePremium)

	s.engine = engine
	return s, nil
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// handlePaymentInfo returns the configuration a client needs to construct
// and sign an authorization.
func (s *Server) handlePaymentInfo(c *gin.Context) {
	networkConfig, err := x402.GetNetworkConfig(s.config.Network)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":             err.Error(),
			"availableNetworks": x402.SupportedNetworks(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"walletAddress":  s.config.WalletAddress,
		"paymentAmount":  s.config.Price,
		"network":        s.config.Network,
		"networkConfig":  networkConfig,
		"facilitatorUrl": s.config.FacilitatorURL,
	})
}

// handlePremium is the protected resource behind the payment gate.
func (s *Server) handlePremium(c *gin.Context) {
	payment := ginx402.GetPaymentFromContext(c)
	response := gin.H{"content": "premium content unlocked"}
	if payment != nil {
		response["payer"] = payment.Payer
	}
	c.JSON(http.StatusOK, response)
}

// handleMeshRun starts a run and streams its events as newline-delimited
// JSON. Invalid parameters produce a single error event and the stream
// closes immediately.
func (s *Server) handleMeshRun(c *gin.Context) {
	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache")

	var req mesh.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeEvent(c, mesh.Event{Error: "invalid request body"})
		return
	}

	run, err := s.orch.Start(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, x402.ErrInvalidRunParameters) || errors.Is(err, x402.ErrUnsupportedNetwork) {
			writeEvent(c, mesh.Event{Error: err.Error()})
			return
		}
		writeEvent(c, mesh.Event{Error: "failed to start run"})
		return
	}

	s.runs.Add(run)
	defer s.runs.Remove(run.ID())

	c.Header(RunIDHeader, run.ID())
	c.Status(http.StatusOK)

	for event := range run.Events() {
		writeEvent(c, event)
	}
}

// handleOutcome accepts the external signer's result for the transaction a
// run is currently awaiting.
func (s *Server) handleOutcome(c *gin.Context) {
	run, ok := s.runs.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown run"})
		return
	}

	var outcome mesh.SigningOutcome
	if err := c.ShouldBindJSON(&outcome); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid outcome body"})
		return
	}

	if err := run.ReportOutcome(c.Request.Context(), outcome); err != nil {
		if errors.Is(err, mesh.ErrNoPendingSignature) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// writeEvent writes one NDJSON line and flushes so the consumer sees each
// transition as it happens.
func writeEvent(c *gin.Context, event mesh.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	_, _ = c.Writer.Write(append(data, '\n'))
	c.Writer.Flush()
}
