package web

import (
	"context"
	"fmt"
	"net/http"

	"github.com/vitos/crypto_paper_trade/internal/domain"
	"github.com/vitos/crypto_paper_trade/internal/usecase"
	"go.uber.org/zap"
)

type Server struct {
	router  *http.ServeMux
	server  *http.Server
	feed    *usecase.MarketFeed
	cache   *usecase.MarketCache
	engine  *usecase.PaperEngine
	journal domain.TradeJournal
	logger  *zap.Logger
}

func NewServer(
	port int,
	feed *usecase.MarketFeed,
	cache *usecase.MarketCache,
	engine *usecase.PaperEngine,
	journal domain.TradeJournal,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		router:  http.NewServeMux(),
		feed:    feed,
		cache:   cache,
		engine:  engine,
		journal: journal,
		logger:  logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Status
	s.router.HandleFunc("GET /api/status", s.handleStatus)
	s.router.HandleFunc("POST /api/exchange", s.handleSwitchExchange)
	s.router.HandleFunc("PUT /api/mode", s.handleSetMode)
	s.router.HandleFunc("GET /api/metrics", s.handleMetrics)

	// Market data
	s.router.HandleFunc("GET /api/tickers", s.handleTickers)
	s.router.HandleFunc("GET /api/tickers/{symbol}", s.handleTicker)
	s.router.HandleFunc("GET /api/orderbook/{symbol}", s.handleOrderBook)
	s.router.HandleFunc("GET /api/trades/{symbol}", s.handleTrades)
	s.router.HandleFunc("GET /api/candles", s.handleCandles)
	s.router.HandleFunc("GET /api/instruments", s.handleInstruments)
	s.router.HandleFunc("POST /api/subscriptions", s.handleSubscribe)
	s.router.HandleFunc("DELETE /api/subscriptions", s.handleUnsubscribe)

	// Orders
	s.router.HandleFunc("GET /api/orders", s.handleListOrders)
	s.router.HandleFunc("POST /api/orders", s.handlePlaceOrder)
	s.router.HandleFunc("DELETE /api/orders/{id}", s.handleCancelOrder)

	// Positions
	s.router.HandleFunc("GET /api/positions", s.handleListPositions)
	s.router.HandleFunc("POST /api/positions/{id}/close", s.handleClosePosition)
	s.router.HandleFunc("POST /api/positions/{id}/reduce", s.handleReducePosition)
	s.router.HandleFunc("GET /api/closed-positions", s.handleClosedPositions)

	// Journal
	s.router.HandleFunc("GET /api/history/orders", s.handleOrderHistory)
	s.router.HandleFunc("GET /api/history/closed-positions", s.handleClosedHistory)
	s.router.HandleFunc("GET /api/history/reductions", s.handleReductionHistory)
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
