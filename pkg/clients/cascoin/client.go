package cascoin

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/cascoin-org/wcas-bridge/config"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const COMPONENT_NAME = "CascoinClient"

// Client wraps the Cascoin node's Bitcoin-Core-style JSON-RPC interface.
// Cascoin shares Bitcoin's wire-level RPC so the btcd client maps directly.
type Client struct {
	cascoinConfig *config.CascoinConfig
	client        *rpcclient.Client
	chainParams   *chaincfg.Params
}

func NewClient(cascoinConfig *config.CascoinConfig) (*Client, error) {
	if cascoinConfig == nil || cascoinConfig.Host == "" {
		return nil, fmt.Errorf("cascoin rpc host is not set")
	}
	connCfg := &rpcclient.ConnConfig{
		Host:         fmt.Sprintf("%s:%d", cascoinConfig.Host, cascoinConfig.Port),
		User:         cascoinConfig.User,
		Pass:         cascoinConfig.Password,
		HTTPPostMode: true,
		DisableTLS:   true,
	}
	client, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cascoin rpc client: %w", err)
	}
	params, err := chainParamsByName(cascoinConfig.Network)
	if err != nil {
		return nil, err
	}
	return &Client{
		cascoinConfig: cascoinConfig,
		client:        client,
		chainParams:   params,
	}, nil
}

func chainParamsByName(network string) (*chaincfg.Params, error) {
	switch network {
	case "", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown cascoin network %s", network)
	}
}

func (c *Client) ChainParams() *chaincfg.Params {
	return c.chainParams
}

// boundedCall enforces the configured rpc timeout on a node call. The btcd
// connection config has no timeout knob of its own, so the call runs in a
// goroutine and the deadline is applied here. A timed-out call keeps running
// in the background until the node answers, but the caller gets unblocked.
func (c *Client) boundedCall(operation string, call func() error) error {
	timeout := c.cascoinConfig.RPCTimeout
	if timeout <= 0 {
		return call()
	}
	done := make(chan error, 1)
	go func() {
		done <- call()
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("cascoin rpc %s timed out after %s", operation, timeout)
	}
}

// ProbeConnection logs node identity at startup. Failure is not fatal; the
// watcher keeps polling and the node may come up later.
func (c *Client) ProbeConnection() {
	var info *btcjson.GetBlockChainInfoResult
	err := c.boundedCall("getblockchaininfo", func() error {
		var callErr error
		info, callErr = c.client.GetBlockChainInfo()
		return callErr
	})
	if err != nil {
		log.Warn().Err(err).Msg("[CascoinClient] [ProbeConnection] cannot reach cascoin node")
		return
	}
	log.Info().Str("chain", info.Chain).
		Int32("blocks", info.Blocks).
		Msg("[CascoinClient] [ProbeConnection] connected to cascoin node")
}

// GetNewAddress asks the node wallet for a fresh deposit address. The label
// ties the address to the requesting user on the node side.
func (c *Client) GetNewAddress(label string) (string, error) {
	var address btcutil.Address
	err := c.boundedCall("getnewaddress", func() error {
		var callErr error
		address, callErr = c.client.GetNewAddress(label)
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("failed to get new cascoin address: %w", err)
	}
	return address.EncodeAddress(), nil
}

// ListUnspent returns the confirmed unspent outputs paid to the address,
// filtered by the minimum confirmation count, as typed records.
func (c *Client) ListUnspent(address string, minConfirmations int64) ([]Unspent, error) {
	decoded, err := btcutil.DecodeAddress(address, c.chainParams)
	if err != nil {
		return nil, fmt.Errorf("invalid cascoin address %s: %w", address, err)
	}
	var results []btcjson.ListUnspentResult
	err = c.boundedCall("listunspent", func() error {
		var callErr error
		results, callErr = c.client.ListUnspentMinMaxAddresses(int(minConfirmations), 9999999, []btcutil.Address{decoded})
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list unspent for %s: %w", address, err)
	}
	unspents := make([]Unspent, 0, len(results))
	for _, result := range results {
		amount := decimal.NewFromFloat(result.Amount)
		unspents = append(unspents, Unspent{
			TxID:          result.TxID,
			Vout:          result.Vout,
			Address:       result.Address,
			Amount:        amount,
			Confirmations: result.Confirmations,
		})
	}
	return unspents, nil
}

// SendToAddress releases native coin from the bridge wallet. The node does
// coin selection, signing and broadcasting; the returned txid is the only
// handle the ledger needs.
func (c *Client) SendToAddress(address string, amount decimal.Decimal) (string, error) {
	if !amount.IsPositive() {
		return "", fmt.Errorf("invalid release amount %s, must be positive", amount)
	}
	decoded, err := btcutil.DecodeAddress(address, c.chainParams)
	if err != nil {
		return "", fmt.Errorf("invalid cascoin address %s: %w", address, err)
	}
	btcAmount, err := btcutil.NewAmount(amount.InexactFloat64())
	if err != nil {
		return "", fmt.Errorf("invalid release amount %s: %w", amount, err)
	}
	var txHash *chainhash.Hash
	err = c.boundedCall("sendtoaddress", func() error {
		var callErr error
		txHash, callErr = c.client.SendToAddress(decoded, btcAmount)
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("failed to send %s cas to %s: %w", amount, address, err)
	}
	log.Info().Str("txid", txHash.String()).
		Str("address", address).
		Str("amount", amount.String()).
		Msg("[CascoinClient] [SendToAddress] release transaction submitted")
	return txHash.String(), nil
}

// ValidateAddress checks the address against the configured chain params.
func (c *Client) ValidateAddress(address string) error {
	_, err := btcutil.DecodeAddress(address, c.chainParams)
	if err != nil {
		return fmt.Errorf("invalid cascoin address %s: %w", address, err)
	}
	return nil
}
