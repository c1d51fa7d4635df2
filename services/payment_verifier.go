// services/payment_verifier.go
package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"invest-settlement-system/utils"
)

// VerifyTag classifies a verification failure. Callers branch on the
// tag: WRONG_CONTRACT / WRONG_RECIPIENT / INSUFFICIENT_AMOUNT /
// TX_FAILED are terminal rejections, NOT_FOUND and
// INSUFFICIENT_CONFIRMATIONS mean "check again later".
type VerifyTag string

const (
	VerifyNotFound                  VerifyTag = "NOT_FOUND"
	VerifyTxFailed                  VerifyTag = "TX_FAILED"
	VerifyWrongContract             VerifyTag = "WRONG_CONTRACT"
	VerifyWrongRecipient            VerifyTag = "WRONG_RECIPIENT"
	VerifyInsufficientAmount        VerifyTag = "INSUFFICIENT_AMOUNT"
	VerifyInsufficientConfirmations VerifyTag = "INSUFFICIENT_CONFIRMATIONS"
)

// VerifyError is a tagged verification failure.
type VerifyError struct {
	Tag    VerifyTag
	Detail string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verification failed [%s]: %s", e.Tag, e.Detail)
}

// Retryable reports whether the condition can clear on its own (chain
// still indexing, confirmations still accruing).
func (e *VerifyError) Retryable() bool {
	return e.Tag == VerifyNotFound || e.Tag == VerifyInsufficientConfirmations
}

// VerifyResult is the positive outcome of a proof check.
type VerifyResult struct {
	Verified      bool
	Confirmations int
}

// PaymentVerifier confirms an on-chain deposit proof. Implemented by
// ChainVerifier in production and by a fake in tests.
type PaymentVerifier interface {
	Verify(txHash string, expectedAmount float64, requiredConfirmations int) (*VerifyResult, error)
}

// erc20TransferTopic is keccak256("Transfer(address,address,uint256)").
const erc20TransferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

// ChainVerifier checks deposit proofs against an EVM JSON-RPC endpoint.
// The expected flow is a token transfer to the platform's receiving
// address through the configured token contract.
type ChainVerifier struct {
	RPCURL           string
	TokenContract    string // payment token (e.g. USDT) contract address
	ReceivingAddress string // platform deposit address
	TokenDecimals    int
	AmountTolerance  float64 // absolute tolerance on the expected amount
	Client           *http.Client
}

func NewChainVerifier(rpcURL, tokenContract, receivingAddress string, tokenDecimals int) *ChainVerifier {
	return &ChainVerifier{
		RPCURL:           rpcURL,
		TokenContract:    strings.ToLower(tokenContract),
		ReceivingAddress: strings.ToLower(receivingAddress),
		TokenDecimals:    tokenDecimals,
		AmountTolerance:  0.01,
		Client:           utils.HTTPClient,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type txReceipt struct {
	Status      string `json:"status"`
	To          string `json:"to"`
	BlockNumber string `json:"blockNumber"`
	Logs        []struct {
		Address string   `json:"address"`
		Topics  []string `json:"topics"`
		Data    string   `json:"data"`
	} `json:"logs"`
}

// Verify runs the full check sequence: receipt exists, tx succeeded,
// tx targeted the token contract, a Transfer event credits the
// receiving address with at least the expected amount (minus
// tolerance), and enough confirmations have accrued.
func (v *ChainVerifier) Verify(txHash string, expectedAmount float64, requiredConfirmations int) (*VerifyResult, error) {
	var receipt *txReceipt
	if err := v.call("eth_getTransactionReceipt", []any{txHash}, &receipt); err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, &VerifyError{Tag: VerifyNotFound, Detail: "transaction not found or not yet mined"}
	}
	if receipt.Status != "0x1" {
		return nil, &VerifyError{Tag: VerifyTxFailed, Detail: "transaction reverted"}
	}
	if strings.ToLower(receipt.To) != v.TokenContract {
		return nil, &VerifyError{Tag: VerifyWrongContract, Detail: fmt.Sprintf("tx target %s is not the payment token contract", receipt.To)}
	}

	transferred, found := v.transferredAmount(receipt)
	if !found {
		return nil, &VerifyError{Tag: VerifyWrongRecipient, Detail: "no token transfer to the receiving address"}
	}
	if transferred < expectedAmount-v.AmountTolerance {
		return nil, &VerifyError{
			Tag:    VerifyInsufficientAmount,
			Detail: fmt.Sprintf("transferred %.6f, expected at least %.6f", transferred, expectedAmount),
		}
	}

	confirmations, err := v.confirmations(receipt.BlockNumber)
	if err != nil {
		return nil, err
	}
	if confirmations < requiredConfirmations {
		return nil, &VerifyError{
			Tag:    VerifyInsufficientConfirmations,
			Detail: fmt.Sprintf("%d of %d confirmations", confirmations, requiredConfirmations),
		}
	}

	return &VerifyResult{Verified: true, Confirmations: confirmations}, nil
}

// transferredAmount scans receipt logs for a Transfer event from the
// token contract to the receiving address and decodes its amount.
func (v *ChainVerifier) transferredAmount(receipt *txReceipt) (float64, bool) {
	for _, lg := range receipt.Logs {
		if strings.ToLower(lg.Address) != v.TokenContract {
			continue
		}
		if len(lg.Topics) < 3 || lg.Topics[0] != erc20TransferTopic {
			continue
		}
		// topics[2] is the 32-byte padded recipient address; skip logs
		// whose topic is not the expected 64 hex chars rather than
		// trusting the endpoint's formatting.
		topic := strings.TrimPrefix(lg.Topics[2], "0x")
		if len(topic) != 64 {
			continue
		}
		if strings.ToLower("0x"+topic[24:]) != v.ReceivingAddress {
			continue
		}
		raw, ok := new(big.Int).SetString(strings.TrimPrefix(lg.Data, "0x"), 16)
		if !ok {
			continue
		}
		scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(v.TokenDecimals)), nil))
		amount, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), scale).Float64()
		return amount, true
	}
	return 0, false
}

func (v *ChainVerifier) confirmations(txBlockHex string) (int, error) {
	var headHex string
	if err := v.call("eth_blockNumber", []any{}, &headHex); err != nil {
		return 0, err
	}
	txBlock, ok1 := new(big.Int).SetString(strings.TrimPrefix(txBlockHex, "0x"), 16)
	head, ok2 := new(big.Int).SetString(strings.TrimPrefix(headHex, "0x"), 16)
	if !ok1 || !ok2 {
		return 0, fmt.Errorf("bad block number in RPC response (%q, %q)", txBlockHex, headHex)
	}
	diff := new(big.Int).Sub(head, txBlock)
	if !diff.IsInt64() || diff.Sign() < 0 {
		return 0, nil
	}
	return int(diff.Int64()) + 1, nil
}

func (v *ChainVerifier) call(method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return err
	}
	resp, err := v.Client.Post(v.RPCURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("chain RPC unreachable: %w", err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("bad chain RPC response: %w", err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("chain RPC error %d: %s", envelope.Error.Code, envelope.Error.Message)
	}
	if string(envelope.Result) == "null" || len(envelope.Result) == 0 {
		return nil // caller sees the zero value (nil receipt = not found)
	}
	return json.Unmarshal(envelope.Result, out)
}
