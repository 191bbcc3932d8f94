package web

import (
	"fmt"
	"net/http"

	"github.com/vitos/crypto_paper_trade/internal/domain"
)

type statusResponse struct {
	Exchange           string   `json:"exchange"`
	Connected          bool     `json:"connected"`
	PaperMode          bool     `json:"paper_mode"`
	LiveTradingEnabled bool     `json:"live_trading_enabled"`
	Symbols            []string `json:"symbols"`
}

func (s *Server) status() statusResponse {
	return statusResponse{
		Exchange:           s.feed.Exchange(),
		Connected:          s.feed.Connected(),
		PaperMode:          s.engine.PaperMode(),
		LiveTradingEnabled: s.engine.LiveTradingEnabled(),
		Symbols:            s.cache.SelectedSymbols(),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleSwitchExchange(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Exchange string `json:"exchange"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Exchange == "" {
		s.writeError(w, fmt.Errorf("%w: exchange is required", domain.ErrInvalidArgument))
		return
	}
	if err := s.feed.SwitchExchange(r.Context(), req.Exchange); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PaperMode          *bool `json:"paper_mode"`
		LiveTradingEnabled *bool `json:"live_trading_enabled"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.PaperMode != nil {
		s.engine.SetPaperMode(*req.PaperMode)
	}
	if req.LiveTradingEnabled != nil {
		s.engine.SetLiveTradingEnabled(*req.LiveTradingEnabled)
	}
	s.writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.feed.Metrics())
}

func (s *Server) handleTickers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cache.Tickers())
}

func (s *Server) handleTicker(w http.ResponseWriter, r *http.Request) {
	ticker, err := s.feed.Ticker(r.Context(), r.PathValue("symbol"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ticker)
}

func (s *Server) handleOrderBook(w http.ResponseWriter, r *http.Request) {
	book, ok := s.cache.OrderBook(r.PathValue("symbol"))
	if !ok {
		s.notFound(w, "order book")
		return
	}
	s.writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.cache.RecentTrades(r.PathValue("symbol"), limit))
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol := q.Get("symbol")
	if symbol == "" {
		s.writeError(w, fmt.Errorf("%w: symbol is required", domain.ErrInvalidArgument))
		return
	}
	interval := q.Get("interval")
	if interval == "" {
		interval = "1h"
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		s.writeError(w, err)
		return
	}

	candles, err := s.feed.Candles(r.Context(), symbol, interval, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, candles)
}

// handleInstruments serves the cached list; refresh=true reloads it first.
func (s *Server) handleInstruments(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") == "true" || len(s.cache.Instruments()) == 0 {
		if _, err := s.feed.LoadInstruments(r.Context()); err != nil {
			s.writeError(w, err)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, s.cache.Instruments())
}

type symbolsRequest struct {
	Symbols []string `json:"symbols"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req symbolsRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if len(req.Symbols) == 0 {
		s.writeError(w, fmt.Errorf("%w: symbols are required", domain.ErrInvalidArgument))
		return
	}
	if err := s.feed.Subscribe(req.Symbols...); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req symbolsRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.feed.Unsubscribe(req.Symbols...); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.status())
}
