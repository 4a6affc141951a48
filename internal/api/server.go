// Package api exposes the gateway over HTTP: REST providers, the two
// server-sent-event streams, and a WebSocket mirror of the order events.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/yanun0323/logs"

	"github.com/mdeadwiler/pf-blotter-fix/internal/bus"
	"github.com/mdeadwiler/pf-blotter-fix/internal/gateway"
	"github.com/mdeadwiler/pf-blotter-fix/internal/model"
)

const (
	maxRequestBody = 64 << 10

	eventsPingTimeout     = 5 * time.Second
	marketDataPingTimeout = 1 * time.Second

	defaultBookSymbol = "AAPL"
	bookDepth         = 5
)

// Server is the HTTP boundary over the gateway core.
type Server struct {
	core       *gateway.Core
	events     *bus.Hub
	marketData *bus.Hub
	upgrader   websocket.Upgrader

	srv *http.Server
}

// NewServer builds the router over the core and the two hubs.
func NewServer(core *gateway.Core, events, marketData *bus.Hub, port int, corsOrigins []string) *Server {
	s := &Server{
		core:       core,
		events:     events,
		marketData: marketData,
		upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowOrigins: corsOrigins,
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       24 * time.Hour,
	}))

	engine.GET("/health", s.handleHealth)
	engine.GET("/snapshot", s.handleSnapshot)
	engine.GET("/stats", s.handleStats)
	engine.GET("/orderbook", s.handleOrderBook)
	engine.GET("/market-hours", s.handleMarketHours)
	engine.POST("/order", s.handleOrder)
	engine.POST("/cancel", s.handleCancel)
	engine.POST("/amend", s.handleAmend)
	engine.GET("/events", s.handleEvents)
	engine.GET("/marketdata", s.handleMarketData)
	engine.GET("/ws", s.handleWebSocket)

	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: engine,
	}
	return s
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logs.Errorf("http server failed: %v", err)
		}
	}()
}

// Stop gracefully drains connections.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleSnapshot(c *gin.Context) {
	c.Data(http.StatusOK, "application/json", s.core.Store.SnapshotJSON())
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.core.Store.Stats())
}

func (s *Server) handleOrderBook(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		symbol = defaultBookSymbol
	}
	c.JSON(http.StatusOK, s.core.Market.OrderBook(symbol, bookDepth))
}

func (s *Server) handleMarketHours(c *gin.Context) {
	now := time.Now().UTC()
	// Simplified to UTC-5, ignoring daylight saving.
	etHour := (now.Hour() + 19) % 24
	weekday := now.Weekday() >= time.Monday && now.Weekday() <= time.Friday
	etMinutes := etHour*60 + now.Minute()
	open := weekday && etMinutes >= 9*60+30 && etMinutes < 16*60

	message := "Market is closed"
	if open {
		message = "Market is open"
	}
	c.JSON(http.StatusOK, gin.H{
		"isOpen":        open,
		"currentTimeET": fmt.Sprintf("%d:%02d", etHour, now.Minute()),
		"marketOpen":    "09:30",
		"marketClose":   "16:00",
		"message":       message,
	})
}

type orderBody struct {
	ClOrdID   string  `json:"clOrdId"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	OrderType string  `json:"orderType"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

func (s *Server) handleOrder(c *gin.Context) {
	var body orderBody
	if !bindJSON(c, &body) {
		return
	}

	if !validClOrdID(body.ClOrdID) {
		badRequest(c, "Invalid clOrdId: must be 1-64 letters, digits, '_' or '-'")
		return
	}
	if !validSymbol(body.Symbol) {
		badRequest(c, "Invalid symbol: must be 1-16 uppercase alphanumeric characters")
		return
	}

	req := gateway.OrderRequest{
		ClOrdID:  body.ClOrdID,
		Symbol:   body.Symbol,
		Side:     parseSide(body.Side),
		OrdType:  parseOrdType(body.OrderType),
		Quantity: body.Quantity,
		Price:    body.Price,
	}
	if ok, reason := s.core.SubmitOrder(req); !ok {
		badRequest(c, reason)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type cancelBody struct {
	OrigClOrdID string `json:"origClOrdId"`
	ClOrdID     string `json:"clOrdId"`
}

func (s *Server) handleCancel(c *gin.Context) {
	var body cancelBody
	if !bindJSON(c, &body) {
		return
	}
	if body.ClOrdID == "" {
		body.ClOrdID = body.OrigClOrdID + "_CXL"
	}
	if !validClOrdID(body.OrigClOrdID) || !validClOrdID(body.ClOrdID) {
		badRequest(c, "Invalid clOrdId format")
		return
	}

	req := gateway.CancelRequest{OrigClOrdID: body.OrigClOrdID, ClOrdID: body.ClOrdID}
	if ok, reason := s.core.CancelOrder(req); !ok {
		badRequest(c, reason)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type amendBody struct {
	OrigClOrdID string  `json:"origClOrdId"`
	ClOrdID     string  `json:"clOrdId"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
}

func (s *Server) handleAmend(c *gin.Context) {
	var body amendBody
	if !bindJSON(c, &body) {
		return
	}
	if body.ClOrdID == "" {
		body.ClOrdID = body.OrigClOrdID + "_AMD"
	}
	if !validClOrdID(body.OrigClOrdID) || !validClOrdID(body.ClOrdID) {
		badRequest(c, "Invalid clOrdId format")
		return
	}
	if body.Quantity < 0 {
		badRequest(c, "Invalid quantity")
		return
	}
	if body.Price < 0 {
		badRequest(c, "Invalid price")
		return
	}

	req := gateway.AmendRequest{
		OrigClOrdID: body.OrigClOrdID,
		ClOrdID:     body.ClOrdID,
		NewQuantity: body.Quantity,
		NewPrice:    body.Price,
	}
	if ok, reason := s.core.AmendOrder(req); !ok {
		badRequest(c, reason)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleEvents(c *gin.Context) {
	s.streamSSE(c, s.events, "update", eventsPingTimeout)
}

func (s *Server) handleMarketData(c *gin.Context) {
	s.streamSSE(c, s.marketData, "marketdata", marketDataPingTimeout)
}

func (s *Server) streamSSE(c *gin.Context, hub *bus.Hub, event string, pingTimeout time.Duration) {
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		payload, ok, timedOut := sub.Next(pingTimeout)
		if !ok {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		if timedOut {
			fmt.Fprint(c.Writer, ": ping\n\n")
		} else {
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, payload)
		}
		c.Writer.Flush()
	}
}

// wsMessage wraps a payload for WebSocket clients.
type wsMessage struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logs.Warnf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sub := s.events.Subscribe()
	defer s.events.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		default:
		}

		payload, ok, timedOut := sub.Next(eventsPingTimeout)
		if !ok {
			return
		}
		if timedOut {
			deadline := time.Now().Add(time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
			continue
		}
		if err := conn.WriteJSON(wsMessage{Type: "update", Data: payload}); err != nil {
			return
		}
	}
}

func bindJSON(c *gin.Context, out any) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBody)
	if err := c.ShouldBindJSON(out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return false
	}
	return true
}

func badRequest(c *gin.Context, reason string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": reason})
}

func parseSide(raw string) model.Side {
	switch raw {
	case "Buy", "1":
		return model.SideBuy
	case "Sell", "2":
		return model.SideSell
	default:
		return model.SideUnknown
	}
}

func parseOrdType(raw string) model.OrdType {
	if raw == "Market" || raw == "1" {
		return model.OrdTypeMarket
	}
	return model.OrdTypeLimit
}

func validClOrdID(id string) bool {
	if len(id) == 0 || len(id) > 64 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

func validSymbol(symbol string) bool {
	if len(symbol) == 0 || len(symbol) > 16 {
		return false
	}
	for _, r := range symbol {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
