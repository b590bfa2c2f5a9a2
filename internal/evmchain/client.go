// Package evmchain implements the EVM observer (C4) and the EVM leg of the
// withdrawal executor (C8) on top of go-ethereum's ethclient, decoding logs
// against a hand-specified ABI since no abigen bindings exist for this
// HTLC contract in the retrieved pack.
package evmchain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/klingon-tech/htlc-relayer/internal/canon"
	"github.com/klingon-tech/htlc-relayer/pkg/logging"
)

// Config configures the EVM chain client.
type Config struct {
	RPCURL        string
	HTLCAddress   string
	ChainID       int64
	Confirmations uint64
}

// Client wraps an ethclient.Client with the HTLC ABI, used for both
// observing logs and submitting withdraw/refund transactions.
type Client struct {
	eth         *ethclient.Client
	contract    common.Address
	chainID     *big.Int
	htlcABI     abi.ABI
	log         *logging.Logger

	topicCreated   common.Hash
	topicWithdrawn common.Hash
	topicRefunded  common.Hash
}

// NewClient dials the configured RPC endpoint and resolves the chain id.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial evm rpc: %w", err)
	}

	htlcABI, err := parseHTLCABI()
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("parse htlc abi: %w", err)
	}

	chainID := big.NewInt(cfg.ChainID)
	if chainID.Sign() == 0 {
		chainID, err = eth.ChainID(ctx)
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("resolve chain id: %w", err)
		}
	}

	return &Client{
		eth:            eth,
		contract:       common.HexToAddress(cfg.HTLCAddress),
		chainID:        chainID,
		htlcABI:        htlcABI,
		log:            logging.GetDefault().Component("evmchain"),
		topicCreated:   htlcABI.Events["HTLCCreated"].ID,
		topicWithdrawn: htlcABI.Events["HTLCWithdrawn"].ID,
		topicRefunded:  htlcABI.Events["HTLCRefunded"].ID,
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// LatestBlock returns the chain's current block number.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

// FilterLogs returns raw HTLC logs in [from, to], inclusive.
func (c *Client) FilterLogs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.contract},
		Topics: [][]common.Hash{{
			c.topicCreated, c.topicWithdrawn, c.topicRefunded,
		}},
	}
	return c.eth.FilterLogs(ctx, query)
}

// SubscribeLogs opens a live log subscription, for RPC endpoints that
// support eth_subscribe. Callers fall back to polling if this errors.
func (c *Client) SubscribeLogs(ctx context.Context) (<-chan types.Log, ethereum.Subscription, error) {
	logs := make(chan types.Log, 256)
	query := ethereum.FilterQuery{
		Addresses: []common.Address{c.contract},
		Topics: [][]common.Hash{{
			c.topicCreated, c.topicWithdrawn, c.topicRefunded,
		}},
	}
	sub, err := c.eth.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return nil, nil, err
	}
	return logs, sub, nil
}

// WaitMined polls for a transaction receipt until it is mined or ctx is
// done.
func (c *Client) WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		receipt, err := c.eth.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// DecodeLog translates a raw HTLC log into a canonical event. Indexed
// fields are read directly off the topics; non-indexed fields are unpacked
// from the data payload via the parsed ABI.
func (c *Client) DecodeLog(l types.Log) (*canon.Event, error) {
	ev := &canon.Event{
		Chain:             canon.ChainEVM,
		TxHash:            l.TxHash.Hex(),
		LogIndex:          uint32(l.Index),
		BlockOrCheckpoint: l.BlockNumber,
	}

	switch l.Topics[0] {
	case c.topicCreated:
		ev.Type = canon.HTLCCreated
		if len(l.Topics) < 3 {
			return nil, fmt.Errorf("HTLCCreated log missing indexed topics")
		}
		ev.ContractID = l.Topics[1].Hex()
		ev.Sender = common.HexToAddress(l.Topics[2].Hex()).Hex()

		values, err := c.htlcABI.Events["HTLCCreated"].Inputs.NonIndexed().UnpackValues(l.Data)
		if err != nil {
			return nil, fmt.Errorf("unpack HTLCCreated: %w", err)
		}
		// receiver is indexed (topics[3]) but placed here for readability
		// alongside its non-indexed siblings.
		if len(l.Topics) > 3 {
			ev.Receiver = common.HexToAddress(l.Topics[3].Hex()).Hex()
		}
		if len(values) >= 4 {
			token, _ := values[0].(common.Address)
			amount, _ := values[1].(*big.Int)
			hashlock, _ := values[2].([32]byte)
			timelock, _ := values[3].(*big.Int)
			ev.Token = token.Hex()
			if amount != nil {
				ev.Amount = amount.String()
			}
			ev.Hashlock = common.BytesToHash(hashlock[:]).Hex()
			if timelock != nil {
				ev.Timelock = timelock.Int64()
			}
		}

	case c.topicWithdrawn:
		ev.Type = canon.HTLCWithdrawn
		if len(l.Topics) < 2 {
			return nil, fmt.Errorf("HTLCWithdrawn log missing indexed contractId")
		}
		ev.ContractID = l.Topics[1].Hex()

		values, err := c.htlcABI.Events["HTLCWithdrawn"].Inputs.NonIndexed().UnpackValues(l.Data)
		if err != nil {
			return nil, fmt.Errorf("unpack HTLCWithdrawn: %w", err)
		}
		if len(values) >= 1 {
			preimage, _ := values[0].([32]byte)
			ev.Preimage = common.BytesToHash(preimage[:]).Hex()
		}

	case c.topicRefunded:
		ev.Type = canon.HTLCRefunded
		if len(l.Topics) < 2 {
			return nil, fmt.Errorf("HTLCRefunded log missing indexed contractId")
		}
		ev.ContractID = l.Topics[1].Hex()

	default:
		return nil, fmt.Errorf("unrecognized HTLC log topic %s", l.Topics[0].Hex())
	}

	return ev, nil
}

// Withdraw submits withdraw(contractId, preimage) signed by priv.
func (c *Client) Withdraw(ctx context.Context, priv *ecdsa.PrivateKey, contractID, preimage [32]byte) (string, error) {
	data, err := c.htlcABI.Pack("withdraw", contractID, preimage)
	if err != nil {
		return "", fmt.Errorf("pack withdraw: %w", err)
	}
	return c.sendSigned(ctx, priv, data)
}

// Refund submits refund(contractId) signed by priv.
func (c *Client) Refund(ctx context.Context, priv *ecdsa.PrivateKey, contractID [32]byte) (string, error) {
	data, err := c.htlcABI.Pack("refund", contractID)
	if err != nil {
		return "", fmt.Errorf("pack refund: %w", err)
	}
	return c.sendSigned(ctx, priv, data)
}

func (c *Client) sendSigned(ctx context.Context, priv *ecdsa.PrivateKey, data []byte) (string, error) {
	from := crypto.PubkeyToAddress(priv.PublicKey)

	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("gas price: %w", err)
	}

	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From: from,
		To:   &c.contract,
		Data: data,
	})
	if err != nil {
		gasLimit = 200000 // fall back to a generous fixed limit for a simple HTLC call
	}

	tx := types.NewTransaction(nonce, c.contract, big.NewInt(0), gasLimit, gasPrice, data)

	signer := types.NewEIP155Signer(c.chainID)
	signedTx, err := types.SignTx(tx, signer, priv)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("send tx: %w", err)
	}

	return signedTx.Hash().Hex(), nil
}
