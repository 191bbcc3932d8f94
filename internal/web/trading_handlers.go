package web

import (
	"fmt"
	"net/http"

	"github.com/vitos/crypto_paper_trade/internal/domain"
	"github.com/vitos/crypto_paper_trade/internal/usecase"
)

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("status") == string(domain.StatusPending) {
		s.writeJSON(w, http.StatusOK, s.engine.PendingOrders())
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.Orders())
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req usecase.OrderRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	order, err := s.engine.PlaceOrder(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, order)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.engine.Order(id); !ok {
		s.notFound(w, "order")
		return
	}
	if !s.engine.CancelOrder(id) {
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: "order is not pending"})
		return
	}
	order, _ := s.engine.Order(id)
	s.writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Positions())
}

type exitRequest struct {
	Quantity float64  `json:"quantity,omitempty"`
	Price    *float64 `json:"price,omitempty"`
}

// exitPrice resolves the requested price, defaulting to the last tick.
func (s *Server) exitPrice(pos domain.Position, req exitRequest) (float64, error) {
	if req.Price != nil {
		return *req.Price, nil
	}
	if price, ok := s.engine.LastPrice(pos.Symbol); ok {
		return price, nil
	}
	return 0, fmt.Errorf("%w: no price known for %s", domain.ErrInvalidArgument, pos.Symbol)
}

func (s *Server) positionRequest(w http.ResponseWriter, r *http.Request) (domain.Position, exitRequest, bool) {
	var req exitRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, err)
			return domain.Position{}, req, false
		}
	}
	pos, ok := s.engine.Position(r.PathValue("id"))
	if !ok {
		s.notFound(w, "position")
		return domain.Position{}, req, false
	}
	return pos, req, true
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	pos, req, ok := s.positionRequest(w, r)
	if !ok {
		return
	}
	price, err := s.exitPrice(pos, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	closed, err := s.engine.ClosePosition(pos.ID, price, domain.CloseManual)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if closed == nil {
		s.notFound(w, "position")
		return
	}
	s.writeJSON(w, http.StatusOK, closed)
}

func (s *Server) handleReducePosition(w http.ResponseWriter, r *http.Request) {
	pos, req, ok := s.positionRequest(w, r)
	if !ok {
		return
	}
	price, err := s.exitPrice(pos, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	closed, err := s.engine.ReducePosition(pos.ID, req.Quantity, price)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if closed != nil {
		s.writeJSON(w, http.StatusOK, closed)
		return
	}
	updated, ok := s.engine.Position(pos.ID)
	if !ok {
		s.notFound(w, "position")
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleClosedPositions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.ClosedPositions())
}

func (s *Server) handleOrderHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	orders, err := s.journal.ListOrders(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleClosedHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	closed, err := s.journal.ListClosedPositions(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, closed)
}

func (s *Server) handleReductionHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	reductions, err := s.journal.ListReductions(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, reductions)
}
