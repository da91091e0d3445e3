package cascoin

import "github.com/shopspring/decimal"

// Unspent is one confirmed unspent output paid to a watched deposit address.
// Typed here so malformed node responses surface at the client boundary, not
// in the watcher.
type Unspent struct {
	TxID          string
	Vout          uint32
	Address       string
	Amount        decimal.Decimal
	Confirmations int64
}
