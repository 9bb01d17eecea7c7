package router

import (
	"database/sql"

	"github.com/shopspring/decimal"

	"github.com/davidting0918/vegaexchange/pkg/clob"
	"github.com/davidting0918/vegaexchange/pkg/storage"
)

func orderFromRow(row storage.OrderRow) *clob.Order {
	o := &clob.Order{
		ID: row.ID, SymbolID: row.SymbolID, UserID: row.UserID,
		Side: clob.Side(row.Side), Type: clob.Type(row.OrderType),
		Quantity: row.Quantity, Filled: row.Filled, Status: clob.Status(row.Status),
		CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt,
	}
	if row.LimitPrice.Valid {
		if p, err := decimal.NewFromString(row.LimitPrice.String); err == nil {
			o.LimitPrice = p
		}
	}
	if row.FilledAt.Valid {
		o.FilledAt = row.FilledAt.Int64
	}
	if row.CancelledAt.Valid {
		o.CancelledAt = row.CancelledAt.Int64
	}
	return o
}

func orderToRow(o *clob.Order) storage.OrderRow {
	row := storage.OrderRow{
		ID: o.ID, SymbolID: o.SymbolID, UserID: o.UserID,
		Side: int(o.Side), OrderType: int(o.Type),
		Quantity: o.Quantity, Filled: o.Filled, Status: int(o.Status),
		CreatedAt: o.CreatedAt, UpdatedAt: o.UpdatedAt,
	}
	if o.Type == clob.Limit {
		row.LimitPrice = sql.NullString{String: o.LimitPrice.String(), Valid: true}
	}
	if o.FilledAt != 0 {
		row.FilledAt = sql.NullInt64{Int64: o.FilledAt, Valid: true}
	}
	if o.CancelledAt != 0 {
		row.CancelledAt = sql.NullInt64{Int64: o.CancelledAt, Valid: true}
	}
	return row
}
