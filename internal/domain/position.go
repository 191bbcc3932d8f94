package domain

import (
	"fmt"
	"time"
)

type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

type OrderSide string

const (
	OrderBuy  OrderSide = "buy"
	OrderSell OrderSide = "sell"
)

// PositionSide is the side of the position a fill of this order builds.
func (s OrderSide) PositionSide() Side {
	if s == OrderSell {
		return SideShort
	}
	return SideLong
}

type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusFilled    OrderStatus = "filled"
	StatusCancelled OrderStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled
}

type CloseReason string

const (
	CloseManual     CloseReason = "manual"
	CloseStop       CloseReason = "stop"
	CloseTakeProfit CloseReason = "take-profit"
)

// Order is a paper or live order. Optional fields are nil when unset.
type Order struct {
	ID               string      `json:"id"`
	Symbol           string      `json:"symbol"`
	Side             OrderSide   `json:"side"`
	Type             OrderType   `json:"type"`
	Quantity         float64     `json:"quantity"`
	Price            *float64    `json:"price,omitempty"`
	StopLoss         *float64    `json:"stop_loss,omitempty"`
	TakeProfit       *float64    `json:"take_profit,omitempty"`
	Leverage         *int        `json:"leverage,omitempty"`
	Status           OrderStatus `json:"status"`
	FilledQuantity   float64     `json:"filled_quantity"`
	AverageFillPrice float64     `json:"average_fill_price"`
	IsPaper          bool        `json:"is_paper"`
	CreatedAt        time.Time   `json:"created_at"`
	FilledAt         *time.Time  `json:"filled_at,omitempty"`
}

// Position is an aggregated open position for one symbol/side/mode triple.
type Position struct {
	ID                   string    `json:"id"`
	Symbol               string    `json:"symbol"`
	Side                 Side      `json:"side"`
	Quantity             float64   `json:"quantity"`
	EntryPrice           float64   `json:"entry_price"`
	CurrentPrice         float64   `json:"current_price"`
	UnrealizedPnL        float64   `json:"unrealized_pnl"`
	UnrealizedPnLPercent float64   `json:"unrealized_pnl_percent"`
	RealizedPnL          float64   `json:"realized_pnl"`
	Leverage             int       `json:"leverage"`
	StopLoss             *float64  `json:"stop_loss,omitempty"`
	TakeProfit           *float64  `json:"take_profit,omitempty"`
	IsPaper              bool      `json:"is_paper"`
	OpenedAt             time.Time `json:"opened_at"`
}

// PositionKey is the deterministic identity of an aggregated position.
func PositionKey(symbol string, side Side, paper bool) string {
	mode := "live"
	if paper {
		mode = "paper"
	}
	return fmt.Sprintf("%s:%s:%s", symbol, side, mode)
}

// PnL returns the profit of qty units moved from entry to exit.
func PnL(side Side, entry, exit, qty float64) float64 {
	if side == SideShort {
		return (entry - exit) * qty
	}
	return (exit - entry) * qty
}

// ClosedPosition is the immutable record written when a position closes.
type ClosedPosition struct {
	ID          string      `json:"id"`
	PositionID  string      `json:"position_id"`
	Symbol      string      `json:"symbol"`
	Side        Side        `json:"side"`
	Quantity    float64     `json:"quantity"`
	EntryPrice  float64     `json:"entry_price"`
	ExitPrice   float64     `json:"exit_price"`
	RealizedPnL float64     `json:"realized_pnl"`
	Leverage    int         `json:"leverage"`
	StopLoss    *float64    `json:"stop_loss,omitempty"`
	TakeProfit  *float64    `json:"take_profit,omitempty"`
	IsPaper     bool        `json:"is_paper"`
	OpenedAt    time.Time   `json:"opened_at"`
	ClosedAt    time.Time   `json:"closed_at"`
	CloseReason CloseReason `json:"close_reason"`
}

// PositionReduction records a partial close. Its profit stays on the
// position and is included in the eventual ClosedPosition.
type PositionReduction struct {
	ID          string    `json:"id"`
	PositionID  string    `json:"position_id"`
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	Quantity    float64   `json:"quantity"`
	Remaining   float64   `json:"remaining"`
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"`
	RealizedPnL float64   `json:"realized_pnl"`
	IsPaper     bool      `json:"is_paper"`
	ReducedAt   time.Time `json:"reduced_at"`
}
