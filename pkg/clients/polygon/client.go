package polygon

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/cascoin-org/wcas-bridge/config"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const COMPONENT_NAME = "PolygonClient"

// Client wraps the EVM side: log scanning for the watcher and transaction
// submission for the executor.
type Client struct {
	polygonConfig     *config.PolygonConfig
	Client            *ethclient.Client
	Wcas              *WcasContract
	CollectionAddress common.Address
	chainID           *big.Int
	minterKey         *ecdsa.PrivateKey
	decimals          uint8
}

func NewClient(ctx context.Context, polygonConfig *config.PolygonConfig) (*Client, error) {
	if polygonConfig == nil || polygonConfig.RPCUrl == "" {
		return nil, fmt.Errorf("polygon rpc url is not set")
	}
	rpcClient, err := rpc.DialContext(ctx, polygonConfig.RPCUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to polygon network: %w", err)
	}
	ethClient := ethclient.NewClient(rpcClient)

	if polygonConfig.WcasContract == "" {
		return nil, fmt.Errorf("wcas contract address is not set")
	}
	if polygonConfig.CollectionAddress == "" {
		return nil, fmt.Errorf("wcas collection address is not set")
	}
	wcas, err := NewWcasContract(common.HexToAddress(polygonConfig.WcasContract), ethClient)
	if err != nil {
		return nil, fmt.Errorf("failed to bind wcas contract: %w", err)
	}

	var minterKey *ecdsa.PrivateKey
	if polygonConfig.MinterPrivateKey != "" {
		minterKey, err = crypto.HexToECDSA(polygonConfig.MinterPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("invalid minter private key: %w", err)
		}
	}

	client := &Client{
		polygonConfig:     polygonConfig,
		Client:            ethClient,
		Wcas:              wcas,
		CollectionAddress: common.HexToAddress(polygonConfig.CollectionAddress),
		chainID:           new(big.Int).SetUint64(polygonConfig.ChainID),
		minterKey:         minterKey,
	}
	client.decimals = client.resolveDecimals(ctx)
	return client, nil
}

func (c *Client) resolveDecimals(ctx context.Context) uint8 {
	decimals, err := c.Wcas.Decimals(&bind.CallOpts{Context: ctx})
	if err != nil {
		log.Warn().Err(err).
			Msg("[PolygonClient] [resolveDecimals] cannot read decimals from contract, assuming 18")
		return 18
	}
	return decimals
}

func (c *Client) Decimals() uint8 {
	return c.decimals
}

// rpcContext bounds a single read call with the configured rpc timeout so a
// stalled node cannot wedge a watcher cycle. Transaction submission keeps its
// own, longer TxTimeout in WaitMined.
func (c *Client) rpcContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := c.polygonConfig.RPCTimeout
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

func (c *Client) MinterAddress() (common.Address, error) {
	if c.minterKey == nil {
		return common.Address{}, fmt.Errorf("minter private key is not set")
	}
	return crypto.PubkeyToAddress(c.minterKey.PublicKey), nil
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	callCtx, cancel := c.rpcContext(ctx)
	defer cancel()
	head, err := c.Client.BlockNumber(callCtx)
	if err != nil {
		return 0, fmt.Errorf("failed to get polygon block number: %w", err)
	}
	return head, nil
}

// FilterTransfers scans Transfer logs on the wCAS contract whose recipient
// is the bridge collection address, within [fromBlock, toBlock].
func (c *Client) FilterTransfers(ctx context.Context, fromBlock, toBlock uint64) ([]TransferEvent, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.Wcas.Address()},
		Topics: [][]common.Hash{
			{c.Wcas.TransferTopic()},
			{},
			{common.BytesToHash(c.CollectionAddress.Bytes())},
		},
	}
	callCtx, cancel := c.rpcContext(ctx)
	defer cancel()
	logs, err := c.Client.FilterLogs(callCtx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transfer logs: %w", err)
	}
	events := make([]TransferEvent, 0, len(logs))
	for _, receiptLog := range logs {
		event, err := c.Wcas.ParseTransfer(receiptLog)
		if err != nil {
			log.Warn().Err(err).
				Str("txHash", receiptLog.TxHash.Hex()).
				Msg("[PolygonClient] [FilterTransfers] skipping unparseable log")
			continue
		}
		events = append(events, *event)
	}
	return events, nil
}

// TransactionBlock returns the inclusion block of a transaction, or
// (0, false, nil) when it is not mined yet.
func (c *Client) TransactionBlock(ctx context.Context, txHash string) (uint64, bool, error) {
	callCtx, cancel := c.rpcContext(ctx)
	defer cancel()
	receipt, err := c.Client.TransactionReceipt(callCtx, common.HexToHash(txHash))
	if err != nil {
		if err == ethereum.NotFound {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get receipt for %s: %w", txHash, err)
	}
	return receipt.BlockNumber.Uint64(), true, nil
}

// NativeBalance reads the native coin balance used for gas sponsorship
// funding detection, in whole-coin units.
func (c *Client) NativeBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	callCtx, cancel := c.rpcContext(ctx)
	defer cancel()
	balance, err := c.Client.BalanceAt(callCtx, common.HexToAddress(address), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get balance of %s: %w", address, err)
	}
	return decimal.NewFromBigInt(balance, -18), nil
}

// PrepareTransactOpts builds signing options for the given key with the
// dynamic-fee model; when base fee data is unavailable it falls back to the
// legacy gas price.
func (c *Client) PrepareTransactOpts(ctx context.Context, key *ecdsa.PrivateKey) (*bind.TransactOpts, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(key, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	auth.Context = ctx
	auth.GasLimit = c.polygonConfig.GasLimit

	head, err := c.Client.HeaderByNumber(ctx, nil)
	if err == nil && head.BaseFee != nil {
		tip, tipErr := c.Client.SuggestGasTipCap(ctx)
		if tipErr != nil {
			tip = new(big.Int).Mul(big.NewInt(c.polygonConfig.PriorityFeeGwei), big.NewInt(1e9))
		}
		// 1.5x base fee buffer absorbs spikes between estimation and inclusion.
		feeCap := new(big.Int).Div(new(big.Int).Mul(head.BaseFee, big.NewInt(3)), big.NewInt(2))
		feeCap.Add(feeCap, tip)
		auth.GasTipCap = tip
		auth.GasFeeCap = feeCap
		return auth, nil
	}

	gasPrice, err := c.Client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest gas price: %w", err)
	}
	auth.GasPrice = gasPrice
	return auth, nil
}

// MinterTransactOpts is PrepareTransactOpts for the bridge's standing
// signing key.
func (c *Client) MinterTransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	if c.minterKey == nil {
		return nil, fmt.Errorf("minter private key is not set")
	}
	return c.PrepareTransactOpts(ctx, c.minterKey)
}

// WaitMined waits for inclusion under the configured timeout and reports a
// reverted receipt as an error, not as success.
func (c *Client) WaitMined(ctx context.Context, tx *ethTypes.Transaction) (*ethTypes.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.polygonConfig.TxTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, c.Client, tx)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for inclusion of %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != ethTypes.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("transaction %s reverted on-chain", tx.Hash().Hex())
	}
	return receipt, nil
}

// SubmitMint builds, signs and submits a mint of the wrapped token and
// waits for inclusion. When a sponsor key is supplied it pays the gas while
// the recipient stays the end user.
func (c *Client) SubmitMint(ctx context.Context, destination string, amount decimal.Decimal, sponsorKey *ecdsa.PrivateKey) (string, error) {
	var (
		auth *bind.TransactOpts
		err  error
	)
	if sponsorKey != nil {
		auth, err = c.PrepareTransactOpts(ctx, sponsorKey)
	} else {
		auth, err = c.MinterTransactOpts(ctx)
	}
	if err != nil {
		return "", err
	}
	tx, err := c.Wcas.Mint(auth, common.HexToAddress(destination), c.ToWei(amount))
	if err != nil {
		return "", fmt.Errorf("failed to submit mint transaction: %w", err)
	}
	log.Info().Str("txHash", tx.Hash().Hex()).
		Str("destination", destination).
		Str("amount", amount.String()).
		Bool("sponsored", sponsorKey != nil).
		Msg("[PolygonClient] [SubmitMint] mint transaction submitted, waiting for inclusion")
	if _, err := c.WaitMined(ctx, tx); err != nil {
		return "", err
	}
	return tx.Hash().Hex(), nil
}

// SweepSponsorResidue moves wrapped tokens off the sponsor account when a
// mint credited the gas payer instead of the intended recipient. Corrective
// safety net, not the primary path.
func (c *Client) SweepSponsorResidue(ctx context.Context, sponsorKey *ecdsa.PrivateKey, destination string) (bool, error) {
	sponsorAddress := crypto.PubkeyToAddress(sponsorKey.PublicKey)
	balance, err := c.Wcas.BalanceOf(&bind.CallOpts{Context: ctx}, sponsorAddress)
	if err != nil {
		return false, fmt.Errorf("failed to check sponsor balance: %w", err)
	}
	if balance.Sign() <= 0 {
		return false, nil
	}
	auth, err := c.PrepareTransactOpts(ctx, sponsorKey)
	if err != nil {
		return false, err
	}
	tx, err := c.Wcas.Transfer(auth, common.HexToAddress(destination), balance)
	if err != nil {
		return false, fmt.Errorf("failed to submit sponsor sweep: %w", err)
	}
	log.Warn().Str("txHash", tx.Hash().Hex()).
		Str("sponsor", sponsorAddress.Hex()).
		Str("destination", destination).
		Msg("[PolygonClient] [SweepSponsorResidue] tokens landed on sponsor, forwarding")
	if _, err := c.WaitMined(ctx, tx); err != nil {
		return false, err
	}
	return true, nil
}

// ToWei converts a whole-token amount to the contract's smallest unit.
func (c *Client) ToWei(amount decimal.Decimal) *big.Int {
	return amount.Shift(int32(c.decimals)).BigInt()
}

// FromWei converts the contract's smallest unit to a whole-token amount.
func (c *Client) FromWei(value *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(value, -int32(c.decimals))
}
