package polygon

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
)

// Minimal wCAS ABI: the bridge only mints, transfers and reads balances.
const wcasABIJson = `[
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"mint","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"value","type":"uint256"}],"name":"Transfer","type":"event"}
]`

// WcasContract is a thin bound-contract wrapper around the wrapped token.
type WcasContract struct {
	address  common.Address
	abi      abi.ABI
	contract *bind.BoundContract
}

func NewWcasContract(address common.Address, backend bind.ContractBackend) (*WcasContract, error) {
	parsed, err := abi.JSON(strings.NewReader(wcasABIJson))
	if err != nil {
		return nil, fmt.Errorf("failed to parse wcas abi: %w", err)
	}
	return &WcasContract{
		address:  address,
		abi:      parsed,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
	}, nil
}

func (w *WcasContract) Address() common.Address {
	return w.address
}

func (w *WcasContract) TransferTopic() common.Hash {
	return w.abi.Events["Transfer"].ID
}

func (w *WcasContract) Decimals(opts *bind.CallOpts) (uint8, error) {
	var out []interface{}
	err := w.contract.Call(opts, &out, "decimals")
	if err != nil {
		return 0, err
	}
	return *abi.ConvertType(out[0], new(uint8)).(*uint8), nil
}

func (w *WcasContract) BalanceOf(opts *bind.CallOpts, account common.Address) (*big.Int, error) {
	var out []interface{}
	err := w.contract.Call(opts, &out, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (w *WcasContract) Mint(opts *bind.TransactOpts, to common.Address, amount *big.Int) (*ethTypes.Transaction, error) {
	return w.contract.Transact(opts, "mint", to, amount)
}

func (w *WcasContract) Transfer(opts *bind.TransactOpts, to common.Address, amount *big.Int) (*ethTypes.Transaction, error) {
	return w.contract.Transact(opts, "transfer", to, amount)
}

// ParseTransfer decodes one Transfer log into a typed event.
func (w *WcasContract) ParseTransfer(receiptLog ethTypes.Log) (*TransferEvent, error) {
	if len(receiptLog.Topics) != 3 {
		return nil, fmt.Errorf("unexpected topic count %d in transfer log", len(receiptLog.Topics))
	}
	values, err := w.abi.Events["Transfer"].Inputs.NonIndexed().Unpack(receiptLog.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack transfer log data: %w", err)
	}
	value, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("transfer value has unexpected type %T", values[0])
	}
	return &TransferEvent{
		TxHash:      receiptLog.TxHash.Hex(),
		LogIndex:    receiptLog.Index,
		BlockNumber: receiptLog.BlockNumber,
		From:        common.BytesToAddress(receiptLog.Topics[1].Bytes()),
		To:          common.BytesToAddress(receiptLog.Topics[2].Bytes()),
		Value:       value,
	}, nil
}
