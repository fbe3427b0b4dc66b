// Package api exposes the hardware orchestrator over HTTP and WebSocket
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/thereceipt/pos-hardware/internal/command"
	"github.com/thereceipt/pos-hardware/internal/hardware"
	"github.com/thereceipt/pos-hardware/internal/printer"
	"github.com/thereceipt/pos-hardware/pkg/receiptformat"
)

// Server is the API server
type Server struct {
	router   *gin.Engine
	hw       *hardware.Orchestrator
	executor *command.Executor
	upgrader websocket.Upgrader
	clients  *clientSet
	http     *http.Server
}

// NewServer creates a new API server
func NewServer(hw *hardware.Orchestrator) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(), corsMiddleware())

	server := &Server{
		router:   router,
		hw:       hw,
		executor: command.NewExecutor(hw),
		upgrader: websocket.Upgrader{
			// the bridge only listens locally; browsers on any origin may connect
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: newClientSet(),
	}

	server.setupRoutes()

	return server
}

func (s *Server) setupRoutes() {
	r := s.router

	r.POST("/initialize", s.handleInitialize)

	r.POST("/devices/scan", s.handleScanDevices)
	r.GET("/devices", s.handleGetDevices)
	r.GET("/devices/type/:type", s.handleGetDevicesByType)
	r.PUT("/devices/:id/type", s.handleSetDeviceType)
	r.PUT("/devices/:id/protocol", s.handleSetProtocolMode)

	r.GET("/printers/scan", s.handlePrinterScan)
	r.POST("/printer/connect", s.handlePrinterConnect)
	r.POST("/printer/disconnect", s.handlePrinterDisconnect)
	r.POST("/printer/test", s.handleTestPrinter)
	r.GET("/printer/status", s.handlePrinterStatus)
	r.GET("/printer/active", s.handleActivePrinter)

	r.POST("/print", s.handlePrint)
	r.POST("/print/template", s.handlePrintTemplate)
	r.GET("/jobs", s.handleGetJobs)
	r.GET("/jobs/:id", s.handleGetJob)
	r.DELETE("/jobs", s.handleClearJobs)
	r.GET("/journal", s.handleJournal)

	r.GET("/scanners/scan", s.handleScannerScan)
	r.POST("/scanner/connect", s.handleScannerConnect)
	r.POST("/scanner/disconnect", s.handleScannerDisconnect)
	r.GET("/scanner/test", s.handleTestScanner)
	r.GET("/scanner/active", s.handleActiveScanner)

	r.GET("/network/status", s.handleNetworkStatus)
	r.POST("/preview", s.handlePreview)

	r.POST("/command", s.handleCommand)
	r.GET("/ws", s.handleWebSocket)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": s.clients.len()})
	})
}

// Handler returns the HTTP handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until Shutdown
func (s *Server) Run(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info().Str("addr", addr).Msg("API server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown closes every WebSocket client and stops the listener
func (s *Server) Shutdown(ctx context.Context) error {
	s.clients.closeAll()
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// respond writes an orchestrator result with a status matching its error kind
func respond(c *gin.Context, res hardware.Result) {
	c.JSON(statusFor(res), res)
}

func statusFor(res hardware.Result) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.ErrorKind {
	case "validation_failure":
		return http.StatusBadRequest
	case "device_not_found":
		return http.StatusNotFound
	case "not_connected":
		return http.StatusConflict
	case "unsupported_operation":
		return http.StatusNotImplemented
	case "connection_failure":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, hardware.Result{Error: msg, ErrorKind: "validation_failure"})
}

func (s *Server) handleInitialize(c *gin.Context) {
	respond(c, s.hw.Initialize(c.Request.Context()))
}

func (s *Server) handleScanDevices(c *gin.Context) {
	respond(c, s.hw.ScanAllDevices(c.Request.Context()))
}

func (s *Server) handleGetDevices(c *gin.Context) {
	respond(c, s.hw.GetDevices())
}

func (s *Server) handleGetDevicesByType(c *gin.Context) {
	respond(c, s.hw.GetDevicesByType(c.Param("type")))
}

func (s *Server) handleSetDeviceType(c *gin.Context) {
	var req struct {
		Type string `json:"type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "type is required")
		return
	}
	respond(c, s.hw.SetDeviceType(c.Param("id"), req.Type))
}

func (s *Server) handleSetProtocolMode(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "enabled is required")
		return
	}
	respond(c, s.hw.SetProtocolMode(c.Param("id"), *req.Enabled))
}

func (s *Server) handlePrinterScan(c *gin.Context) {
	respond(c, s.hw.PrinterScan(c.Request.Context()))
}

func (s *Server) handlePrinterConnect(c *gin.Context) {
	var cfg printer.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		badRequest(c, "invalid printer config: "+err.Error())
		return
	}
	respond(c, s.hw.PrinterConnect(c.Request.Context(), cfg))
}

func (s *Server) handlePrinterDisconnect(c *gin.Context) {
	respond(c, s.hw.PrinterDisconnect(c.Request.Context()))
}

func (s *Server) handleTestPrinter(c *gin.Context) {
	var req struct {
		DeviceID        string `json:"deviceId"`
		UseProtocolMode *bool  `json:"useProtocolMode"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid test request: "+err.Error())
			return
		}
	}
	respond(c, s.hw.TestPrinter(c.Request.Context(), req.DeviceID, req.UseProtocolMode))
}

func (s *Server) handlePrinterStatus(c *gin.Context) {
	respond(c, s.hw.PrinterStatus())
}

func (s *Server) handleActivePrinter(c *gin.Context) {
	respond(c, s.hw.GetActivePrinter())
}

// handlePrint queues raw bytes, sent base64 encoded in data, or plain text
func (s *Server) handlePrint(c *gin.Context) {
	var req struct {
		Data []byte `json:"data"`
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid print request: "+err.Error())
		return
	}
	payload := req.Data
	if len(payload) == 0 && req.Text != "" {
		payload = []byte(req.Text)
	}
	respond(c, s.hw.Print(payload))
}

type templateRequest struct {
	Template     json.RawMessage            `json:"template"`
	Data         receiptformat.Data         `json:"data"`
	BusinessInfo receiptformat.BusinessInfo `json:"businessInfo"`
}

func (r templateRequest) parse() (*receiptformat.Template, error) {
	return receiptformat.Parse(r.Template)
}

func (s *Server) handlePrintTemplate(c *gin.Context) {
	var req templateRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Template) == 0 {
		badRequest(c, "template is required")
		return
	}
	tmpl, err := req.parse()
	if err != nil {
		badRequest(c, "invalid template: "+err.Error())
		return
	}
	respond(c, s.hw.PrintTemplate(tmpl, req.Data, req.BusinessInfo))
}

func (s *Server) handleGetJobs(c *gin.Context) {
	respond(c, s.hw.Jobs())
}

func (s *Server) handleGetJob(c *gin.Context) {
	res := s.hw.Job(c.Param("id"))
	if !res.Success {
		c.JSON(http.StatusNotFound, res)
		return
	}
	respond(c, res)
}

func (s *Server) handleClearJobs(c *gin.Context) {
	respond(c, s.hw.ClearCompletedJobs())
}

func (s *Server) handleJournal(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		badRequest(c, "limit must be a positive integer")
		return
	}
	respond(c, s.hw.JobHistory(c.Request.Context(), limit))
}

func (s *Server) handleScannerScan(c *gin.Context) {
	respond(c, s.hw.ScannerScan(c.Request.Context()))
}

func (s *Server) handleScannerConnect(c *gin.Context) {
	var cfg hardware.ScannerConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		badRequest(c, "invalid scanner config: "+err.Error())
		return
	}
	respond(c, s.hw.ScannerConnect(c.Request.Context(), cfg))
}

func (s *Server) handleScannerDisconnect(c *gin.Context) {
	respond(c, s.hw.ScannerDisconnect())
}

func (s *Server) handleTestScanner(c *gin.Context) {
	respond(c, s.hw.TestScanner())
}

func (s *Server) handleActiveScanner(c *gin.Context) {
	respond(c, s.hw.GetActiveScanner())
}

func (s *Server) handleNetworkStatus(c *gin.Context) {
	respond(c, s.hw.NetworkStatus(c.Request.Context()))
}

// handlePreview answers with a PNG of raw bytes (data, base64) or of a
// rendered template
func (s *Server) handlePreview(c *gin.Context) {
	var req struct {
		templateRequest
		Raw       []byte                  `json:"raw"`
		PaperSize receiptformat.PaperSize `json:"paperSize"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid preview request: "+err.Error())
		return
	}

	var res hardware.Result
	switch {
	case len(req.Template) > 0:
		tmpl, err := req.parse()
		if err != nil {
			badRequest(c, "invalid template: "+err.Error())
			return
		}
		res = s.hw.PreviewTemplate(tmpl, req.Data, req.BusinessInfo)
	case len(req.Raw) > 0:
		res = s.hw.Preview(req.Raw, req.PaperSize)
	default:
		badRequest(c, "template or raw is required")
		return
	}

	img, ok := res.Data.(hardware.PreviewImage)
	if !res.Success || !ok {
		respond(c, res)
		return
	}
	c.Header("X-Preview-Lines", strconv.Itoa(img.Summary.Lines))
	c.Data(http.StatusOK, "image/png", img.PNG)
}

// handleCommand handles command execution requests
func (s *Server) handleCommand(c *gin.Context) {
	var req struct {
		Command string `json:"command" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, command.Result{Error: "command is required"})
		return
	}

	result := s.executor.Execute(c.Request.Context(), req.Command)
	if result.Success {
		c.JSON(http.StatusOK, result)
	} else {
		c.JSON(http.StatusBadRequest, result)
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("api request")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
