package polygon

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TransferEvent is one decoded wCAS Transfer log.
type TransferEvent struct {
	TxHash      string
	LogIndex    uint
	BlockNumber uint64
	From        common.Address
	To          common.Address
	Value       *big.Int
}
