package wallet

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/vaultengine/internal/logger"
	"github.com/elys-network/vaultengine/internal/types"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidTokenAmount = errors.New("token amount is invalid")
	ErrInvalidRecipient   = errors.New("recipient address is invalid")
	ErrInvalidToken       = errors.New("token metadata is invalid")
	ErrEncodingFailed     = errors.New("calldata encoding failed")
)

const erc20ABI = `[
	{"type":"function","name":"transfer","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable",
	 "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]}
]`

var txLogger = logger.GetForComponent("transaction_builder")

// TransactionBuilder encodes ERC20 calls into unsigned TransactionIntents.
// A token at the zero address is the chain's native asset and is moved by value.
type TransactionBuilder struct {
	erc20 abi.ABI
}

// NewTransactionBuilder parses the ERC20 ABI once.
func NewTransactionBuilder() (*TransactionBuilder, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncodingFailed, err)
	}
	return &TransactionBuilder{erc20: parsed}, nil
}

// Transfer sends amount of token to recipient.
func (tb *TransactionBuilder) Transfer(token types.TokenMeta, recipient common.Address, amount sdkmath.Int, label string) (types.TransactionIntent, error) {
	if err := validateTransfer(token, recipient, amount); err != nil {
		return types.TransactionIntent{}, err
	}

	if IsNative(token) {
		return types.TransactionIntent{
			To:    recipient,
			Value: amount,
			Chain: token.Chain,
			Label: label,
		}, nil
	}

	data, err := tb.erc20.Pack("transfer", recipient, amount.BigInt())
	if err != nil {
		return types.TransactionIntent{}, fmt.Errorf("%w: transfer: %w", ErrEncodingFailed, err)
	}

	txLogger.Debug().
		Str("token", token.Symbol).
		Str("recipient", recipient.Hex()).
		Str("amount", amount.String()).
		Str("label", label).
		Msg("Transfer intent built")

	return types.TransactionIntent{
		To:    token.Address,
		Data:  data,
		Chain: token.Chain,
		Label: label,
	}, nil
}

// Approve lets spender pull amount of token.
func (tb *TransactionBuilder) Approve(token types.TokenMeta, spender common.Address, amount sdkmath.Int) (types.TransactionIntent, error) {
	if IsNative(token) {
		return types.TransactionIntent{}, fmt.Errorf("%w: native %s needs no approval", ErrInvalidToken, token.Symbol)
	}
	if err := validateTransfer(token, spender, amount); err != nil {
		return types.TransactionIntent{}, err
	}
	data, err := tb.erc20.Pack("approve", spender, amount.BigInt())
	if err != nil {
		return types.TransactionIntent{}, fmt.Errorf("%w: approve: %w", ErrEncodingFailed, err)
	}
	return types.TransactionIntent{
		To:    token.Address,
		Data:  data,
		Chain: token.Chain,
		Label: "approve",
	}, nil
}

// DecodeTransfer returns the recipient and amount of an ERC20 transfer calldata.
func (tb *TransactionBuilder) DecodeTransfer(data []byte) (common.Address, sdkmath.Int, error) {
	method, ok := tb.erc20.Methods["transfer"]
	if !ok || len(data) < 4 || !bytes.Equal(data[:4], method.ID) {
		return common.Address{}, sdkmath.ZeroInt(), fmt.Errorf("%w: not a transfer call", ErrEncodingFailed)
	}
	values, err := method.Inputs.Unpack(data[4:])
	if err != nil || len(values) != 2 {
		return common.Address{}, sdkmath.ZeroInt(), fmt.Errorf("%w: unpack transfer: %v", ErrEncodingFailed, err)
	}
	to, okTo := values[0].(common.Address)
	amount, okAmount := values[1].(*big.Int)
	if !okTo || !okAmount {
		return common.Address{}, sdkmath.ZeroInt(), fmt.Errorf("%w: unexpected transfer arguments", ErrEncodingFailed)
	}
	return to, sdkmath.NewIntFromBigInt(amount), nil
}

// IsNative reports whether token is the chain's native asset.
func IsNative(token types.TokenMeta) bool {
	return token.Address == (common.Address{})
}

func validateTransfer(token types.TokenMeta, recipient common.Address, amount sdkmath.Int) error {
	if token.Symbol == "" {
		return fmt.Errorf("%w: symbol is empty", ErrInvalidToken)
	}
	if recipient == (common.Address{}) {
		return fmt.Errorf("%w: zero address", ErrInvalidRecipient)
	}
	if amount.IsNil() {
		return fmt.Errorf("%w: amount is nil", ErrInvalidTokenAmount)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidTokenAmount, amount)
	}
	return nil
}
