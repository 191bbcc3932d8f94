package usecase

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/vitos/crypto_paper_trade/internal/domain"
	"go.uber.org/zap"
)

var ErrLiveTradingDisabled = errors.New("live trading disabled")

// OrderRequest is the caller's half of an order. Validation tags cover
// shape; finiteness and positivity of numbers are checked separately.
type OrderRequest struct {
	Symbol     string           `json:"symbol" validate:"required"`
	Side       domain.OrderSide `json:"side" validate:"required,oneof=buy sell"`
	Type       domain.OrderType `json:"type" validate:"required,oneof=market limit"`
	Quantity   float64          `json:"quantity" validate:"gt=0"`
	Price      *float64         `json:"price,omitempty" validate:"required_if=Type limit"`
	StopLoss   *float64         `json:"stop_loss,omitempty"`
	TakeProfit *float64         `json:"take_profit,omitempty"`
	Leverage   *int             `json:"leverage,omitempty" validate:"omitempty,max=125"`
}

// PaperEngine matches ticks against pending orders and open positions.
// Every reaction to a tick runs under one lock; observers are called
// after it is released, in registration order.
type PaperEngine struct {
	mu         sync.Mutex
	orders     []*domain.Order
	orderIdx   map[string]*domain.Order
	positions  map[string]*domain.Position
	posOrder   []string
	closed     []domain.ClosedPosition
	lastPrices map[string]float64

	paperMode   bool
	liveEnabled bool

	orderObservers  []func(domain.Order)
	closeObservers  []func(domain.ClosedPosition)
	reduceObservers []func(domain.PositionReduction)

	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

type EngineOption func(*PaperEngine)

func WithClock(now func() time.Time) EngineOption {
	return func(e *PaperEngine) { e.now = now }
}

func WithIDGenerator(newID func() string) EngineOption {
	return func(e *PaperEngine) { e.newID = newID }
}

func NewPaperEngine(logger *zap.Logger, opts ...EngineOption) *PaperEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &PaperEngine{
		orderIdx:   make(map[string]*domain.Order),
		positions:  make(map[string]*domain.Position),
		lastPrices: make(map[string]float64),
		paperMode:  true,
		validate:   validator.New(),
		logger:     logger,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnOrderUpdate registers cb for every order placement, fill and cancel.
func (e *PaperEngine) OnOrderUpdate(cb func(domain.Order)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.orderObservers = append(e.orderObservers, cb)
}

// OnPositionClosed registers cb for every closed position record.
func (e *PaperEngine) OnPositionClosed(cb func(domain.ClosedPosition)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeObservers = append(e.closeObservers, cb)
}

// OnPositionReduced registers cb for every partial close.
func (e *PaperEngine) OnPositionReduced(cb func(domain.PositionReduction)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reduceObservers = append(e.reduceObservers, cb)
}

// notifications collects observer calls made while the lock is held.
type notifications struct {
	orders  []domain.Order
	closed  []domain.ClosedPosition
	reduced []domain.PositionReduction
}

func (e *PaperEngine) unlockAndNotify(n *notifications) {
	orderObs := e.orderObservers
	closeObs := e.closeObservers
	reduceObs := e.reduceObservers
	e.mu.Unlock()

	for _, r := range n.reduced {
		for _, cb := range reduceObs {
			cb(r)
		}
	}

	for _, o := range n.orders {
		for _, cb := range orderObs {
			cb(o)
		}
	}
	for _, c := range n.closed {
		for _, cb := range closeObs {
			cb(c)
		}
	}
}

func (e *PaperEngine) SetPaperMode(paper bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paperMode = paper
}

func (e *PaperEngine) PaperMode() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paperMode
}

func (e *PaperEngine) SetLiveTradingEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.liveEnabled = enabled
}

func (e *PaperEngine) LiveTradingEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.liveEnabled
}

func validPrice(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0) && p > 0
}

func (e *PaperEngine) checkRequest(req OrderRequest) error {
	if err := e.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	if !validPrice(req.Quantity) {
		return fmt.Errorf("%w: quantity %v", domain.ErrInvalidArgument, req.Quantity)
	}
	for name, p := range map[string]*float64{"price": req.Price, "stop_loss": req.StopLoss, "take_profit": req.TakeProfit} {
		if p != nil && !validPrice(*p) {
			return fmt.Errorf("%w: %s %v", domain.ErrInvalidArgument, name, *p)
		}
	}
	if req.Leverage != nil && *req.Leverage < 1 {
		return fmt.Errorf("%w: leverage %d", domain.ErrInvalidArgument, *req.Leverage)
	}
	return nil
}

// PlaceOrder validates req and adds a pending order in the current mode.
// When a price for the symbol is already known the order is matched
// against it right away. The returned order reflects that first match.
func (e *PaperEngine) PlaceOrder(req OrderRequest) (*domain.Order, error) {
	if err := e.checkRequest(req); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if !e.paperMode && !e.liveEnabled {
		e.mu.Unlock()
		return nil, ErrLiveTradingDisabled
	}

	order := &domain.Order{
		ID:         e.newID(),
		Symbol:     req.Symbol,
		Side:       req.Side,
		Type:       req.Type,
		Quantity:   req.Quantity,
		StopLoss:   copyFloat(req.StopLoss),
		TakeProfit: copyFloat(req.TakeProfit),
		Status:     domain.StatusPending,
		IsPaper:    e.paperMode,
		CreatedAt:  e.now(),
	}
	if req.Type == domain.OrderLimit {
		order.Price = copyFloat(req.Price)
	}
	if req.Leverage != nil {
		lev := *req.Leverage
		order.Leverage = &lev
	}
	e.orders = append(e.orders, order)
	e.orderIdx[order.ID] = order

	n := &notifications{orders: []domain.Order{copyOrder(order)}}
	e.logger.Debug("Order placed",
		zap.String("id", order.ID),
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.String("type", string(order.Type)),
		zap.Float64("quantity", order.Quantity))

	if price, ok := e.lastPrices[order.Symbol]; ok {
		e.processLocked(order.Symbol, price, n)
	}
	result := copyOrder(order)
	e.unlockAndNotify(n)
	return &result, nil
}

// CancelOrder cancels a pending order. Unknown or terminal orders are left
// alone and reported as false.
func (e *PaperEngine) CancelOrder(id string) bool {
	e.mu.Lock()
	order, ok := e.orderIdx[id]
	if !ok || order.Status.Terminal() {
		e.mu.Unlock()
		return false
	}
	order.Status = domain.StatusCancelled
	n := &notifications{orders: []domain.Order{copyOrder(order)}}
	e.logger.Info("Order cancelled", zap.String("id", id), zap.String("symbol", order.Symbol))
	e.unlockAndNotify(n)
	return true
}

// ProcessTick runs order matching, mark-to-market and auto-close for symbol
// at price. A non-finite or non-positive price is rejected untouched.
func (e *PaperEngine) ProcessTick(symbol string, price float64) error {
	if !validPrice(price) {
		return fmt.Errorf("%w: tick price %v for %s", domain.ErrInvalidArgument, price, symbol)
	}

	e.mu.Lock()
	e.lastPrices[symbol] = price
	n := &notifications{}
	e.processLocked(symbol, price, n)
	e.unlockAndNotify(n)
	return nil
}

func (e *PaperEngine) processLocked(symbol string, price float64, n *notifications) {
	// Phase 1: order matching.
	for _, o := range e.orders {
		if o.Status != domain.StatusPending || o.Symbol != symbol {
			continue
		}
		fillPrice, ok := crossPrice(o, price)
		if !ok {
			continue
		}
		now := e.now()
		o.Status = domain.StatusFilled
		o.FilledQuantity = o.Quantity
		o.AverageFillPrice = fillPrice
		o.FilledAt = &now
		e.applyFillLocked(o, fillPrice, now)
		n.orders = append(n.orders, copyOrder(o))

		e.logger.Info("Order filled",
			zap.String("id", o.ID),
			zap.String("symbol", symbol),
			zap.String("side", string(o.Side)),
			zap.Float64("price", fillPrice),
			zap.Float64("quantity", o.Quantity))
	}

	// Phase 2: mark-to-market.
	var marked []*domain.Position
	for _, key := range e.posOrder {
		pos := e.positions[key]
		if pos.Symbol != symbol {
			continue
		}
		mark(pos, price)
		marked = append(marked, pos)
	}

	// Phase 3: auto-close, stop before take-profit.
	for _, pos := range marked {
		reason, hit := exitTrigger(pos, price)
		if !hit {
			continue
		}
		closed := e.closeLocked(pos, price, reason)
		n.closed = append(n.closed, closed)
		e.logger.Info("Position auto-closed",
			zap.String("id", pos.ID),
			zap.String("reason", string(reason)),
			zap.Float64("price", price),
			zap.Float64("realized_pnl", closed.RealizedPnL))
	}
}

// crossPrice reports whether o fills at tick price and at what price.
func crossPrice(o *domain.Order, price float64) (float64, bool) {
	if o.Type == domain.OrderMarket {
		return price, true
	}
	if o.Price == nil {
		return 0, false
	}
	limit := *o.Price
	switch o.Side {
	case domain.OrderBuy:
		return limit, price <= limit
	case domain.OrderSell:
		return limit, price >= limit
	}
	return 0, false
}

func (e *PaperEngine) applyFillLocked(o *domain.Order, fillPrice float64, now time.Time) {
	side := o.Side.PositionSide()
	key := domain.PositionKey(o.Symbol, side, o.IsPaper)

	pos, ok := e.positions[key]
	if !ok {
		leverage := 1
		if o.Leverage != nil {
			leverage = *o.Leverage
		}
		pos = &domain.Position{
			ID:           key,
			Symbol:       o.Symbol,
			Side:         side,
			Quantity:     o.Quantity,
			EntryPrice:   fillPrice,
			CurrentPrice: fillPrice,
			Leverage:     leverage,
			StopLoss:     copyFloat(o.StopLoss),
			TakeProfit:   copyFloat(o.TakeProfit),
			IsPaper:      o.IsPaper,
			OpenedAt:     now,
		}
		e.positions[key] = pos
		e.posOrder = append(e.posOrder, key)
		return
	}

	total := pos.Quantity + o.Quantity
	pos.EntryPrice = (pos.EntryPrice*pos.Quantity + fillPrice*o.Quantity) / total
	pos.Quantity = total
	if o.StopLoss != nil {
		pos.StopLoss = copyFloat(o.StopLoss)
	}
	if o.TakeProfit != nil {
		pos.TakeProfit = copyFloat(o.TakeProfit)
	}
	if o.Leverage != nil {
		pos.Leverage = *o.Leverage
	}
	if now.Before(pos.OpenedAt) {
		pos.OpenedAt = now
	}
}

func mark(pos *domain.Position, price float64) {
	pos.CurrentPrice = price
	pos.UnrealizedPnL = domain.PnL(pos.Side, pos.EntryPrice, price, pos.Quantity)
	notional := pos.EntryPrice * pos.Quantity
	if notional == 0 {
		pos.UnrealizedPnLPercent = 0
		return
	}
	pos.UnrealizedPnLPercent = pos.UnrealizedPnL / notional * 100
}

func exitTrigger(pos *domain.Position, price float64) (domain.CloseReason, bool) {
	long := pos.Side == domain.SideLong
	if sl := pos.StopLoss; sl != nil {
		if (long && price <= *sl) || (!long && price >= *sl) {
			return domain.CloseStop, true
		}
	}
	if tp := pos.TakeProfit; tp != nil {
		if (long && price >= *tp) || (!long && price <= *tp) {
			return domain.CloseTakeProfit, true
		}
	}
	return "", false
}

func (e *PaperEngine) closeLocked(pos *domain.Position, exitPrice float64, reason domain.CloseReason) domain.ClosedPosition {
	closed := domain.ClosedPosition{
		ID:          e.newID(),
		PositionID:  pos.ID,
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		Quantity:    pos.Quantity,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exitPrice,
		RealizedPnL: pos.RealizedPnL + domain.PnL(pos.Side, pos.EntryPrice, exitPrice, pos.Quantity),
		Leverage:    pos.Leverage,
		StopLoss:    copyFloat(pos.StopLoss),
		TakeProfit:  copyFloat(pos.TakeProfit),
		IsPaper:     pos.IsPaper,
		OpenedAt:    pos.OpenedAt,
		ClosedAt:    e.now(),
		CloseReason: reason,
	}
	e.closed = append(e.closed, closed)

	delete(e.positions, pos.ID)
	for i, key := range e.posOrder {
		if key == pos.ID {
			e.posOrder = append(e.posOrder[:i], e.posOrder[i+1:]...)
			break
		}
	}
	return closed
}

// ClosePosition closes the position at exitPrice. An unknown id is a no-op
// and returns nil. An empty reason means manual.
func (e *PaperEngine) ClosePosition(id string, exitPrice float64, reason domain.CloseReason) (*domain.ClosedPosition, error) {
	if !validPrice(exitPrice) {
		return nil, fmt.Errorf("%w: exit price %v", domain.ErrInvalidArgument, exitPrice)
	}
	if reason == "" {
		reason = domain.CloseManual
	}

	e.mu.Lock()
	pos, ok := e.positions[id]
	if !ok {
		e.mu.Unlock()
		return nil, nil
	}
	closed := e.manualCloseLocked(pos, exitPrice, reason)
	e.unlockAndNotify(&notifications{closed: []domain.ClosedPosition{closed}})
	return &closed, nil
}

func (e *PaperEngine) manualCloseLocked(pos *domain.Position, exitPrice float64, reason domain.CloseReason) domain.ClosedPosition {
	closed := e.closeLocked(pos, exitPrice, reason)
	e.logger.Info("Position closed",
		zap.String("id", closed.PositionID),
		zap.String("reason", string(reason)),
		zap.Float64("price", exitPrice),
		zap.Float64("realized_pnl", closed.RealizedPnL))
	return closed
}

// ReducePosition closes qty of the position at exitPrice and carries the
// realized profit on the remainder. Reducing by the whole quantity or more
// closes it manually and returns the record.
func (e *PaperEngine) ReducePosition(id string, qty, exitPrice float64) (*domain.ClosedPosition, error) {
	if !validPrice(qty) {
		return nil, fmt.Errorf("%w: quantity %v", domain.ErrInvalidArgument, qty)
	}
	if !validPrice(exitPrice) {
		return nil, fmt.Errorf("%w: exit price %v", domain.ErrInvalidArgument, exitPrice)
	}

	e.mu.Lock()
	pos, ok := e.positions[id]
	if !ok {
		e.mu.Unlock()
		return nil, nil
	}
	if qty >= pos.Quantity {
		closed := e.manualCloseLocked(pos, exitPrice, domain.CloseManual)
		e.unlockAndNotify(&notifications{closed: []domain.ClosedPosition{closed}})
		return &closed, nil
	}

	pnl := domain.PnL(pos.Side, pos.EntryPrice, exitPrice, qty)
	pos.RealizedPnL += pnl
	pos.Quantity -= qty
	mark(pos, pos.CurrentPrice)
	reduction := domain.PositionReduction{
		ID:          e.newID(),
		PositionID:  pos.ID,
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		Quantity:    qty,
		Remaining:   pos.Quantity,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exitPrice,
		RealizedPnL: pnl,
		IsPaper:     pos.IsPaper,
		ReducedAt:   e.now(),
	}
	e.logger.Info("Position reduced",
		zap.String("id", id),
		zap.Float64("quantity", qty),
		zap.Float64("remaining", pos.Quantity),
		zap.Float64("realized_pnl", pos.RealizedPnL))
	e.unlockAndNotify(&notifications{reduced: []domain.PositionReduction{reduction}})
	return nil, nil
}

// ResetPrices forgets every last ticked price. Pending market orders then
// wait for the next tick instead of filling at a stale price.
func (e *PaperEngine) ResetPrices() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastPrices = make(map[string]float64)
}

// LastPrice returns the last ticked price of symbol.
func (e *PaperEngine) LastPrice(symbol string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.lastPrices[symbol]
	return p, ok
}

// Orders returns all orders in placement order.
func (e *PaperEngine) Orders() []domain.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Order, 0, len(e.orders))
	for _, o := range e.orders {
		out = append(out, copyOrder(o))
	}
	return out
}

func (e *PaperEngine) PendingOrders() []domain.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []domain.Order
	for _, o := range e.orders {
		if o.Status == domain.StatusPending {
			out = append(out, copyOrder(o))
		}
	}
	return out
}

func (e *PaperEngine) Order(id string) (domain.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orderIdx[id]
	if !ok {
		return domain.Order{}, false
	}
	return copyOrder(o), true
}

// Positions returns open positions in the order they were opened.
func (e *PaperEngine) Positions() []domain.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Position, 0, len(e.posOrder))
	for _, key := range e.posOrder {
		out = append(out, copyPosition(e.positions[key]))
	}
	return out
}

func (e *PaperEngine) Position(id string) (domain.Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, ok := e.positions[id]
	if !ok {
		return domain.Position{}, false
	}
	return copyPosition(pos), true
}

// ClosedPositions returns closed records oldest first.
func (e *PaperEngine) ClosedPositions() []domain.ClosedPosition {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.ClosedPosition(nil), e.closed...)
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyOrder(o *domain.Order) domain.Order {
	c := *o
	c.Price = copyFloat(o.Price)
	c.StopLoss = copyFloat(o.StopLoss)
	c.TakeProfit = copyFloat(o.TakeProfit)
	if o.Leverage != nil {
		lev := *o.Leverage
		c.Leverage = &lev
	}
	if o.FilledAt != nil {
		t := *o.FilledAt
		c.FilledAt = &t
	}
	return c
}

func copyPosition(p *domain.Position) domain.Position {
	c := *p
	c.StopLoss = copyFloat(p.StopLoss)
	c.TakeProfit = copyFloat(p.TakeProfit)
	return c
}
