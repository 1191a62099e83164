package jobRegistrar

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/defi-indexer/historic-cache/pkg/multicall"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const erc20TotalSupplyAbi = `[{"constant":true,"inputs":[],"name":"totalSupply","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

var erc20Abi = mustParseAbi(erc20TotalSupplyAbi)

func mustParseAbi(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("failed to parse erc20 abi: %v", err))
	}
	return parsed
}

// json-rpc error code nodes use for reverted eth_call
const revertErrorCode = 3

// TokenProbe checks that addresses behave like ERC-20 tokens before Transfer jobs are registered for them.
// Checks are issued concurrently so a batching caller can fold them into a single request.
type TokenProbe struct {
	caller bind.ContractCaller
	logger *zap.Logger
}

func NewTokenProbe(caller bind.ContractCaller, l *zap.Logger) *TokenProbe {
	return &TokenProbe{
		caller: caller,
		logger: l,
	}
}

// isNotTokenError reports whether err is the contract's own answer to totalSupply(), as opposed to
// a failure to ask. Only the former says anything about the address.
func isNotTokenError(err error) bool {
	var batchErr *multicall.MulticallError
	if errors.As(err, &batchErr) {
		return false
	}
	var callErr *multicall.CallFailedError
	if errors.As(err, &callErr) {
		return true
	}
	if errors.Is(err, bind.ErrNoCode) {
		return true
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == revertErrorCode {
		return true
	}
	msg := err.Error()
	return strings.HasPrefix(msg, "execution reverted") || strings.HasPrefix(msg, "abi: ")
}

// FilterErc20Tokens returns the addresses that answer totalSupply(), in input order.
// Addresses that revert or return something else are dropped. Any other failure aborts the check.
func (p *TokenProbe) FilterErc20Tokens(ctx context.Context, addresses []string) ([]string, error) {
	ok := make([]bool, len(addresses))

	g, gctx := errgroup.WithContext(ctx)
	for i, address := range addresses {
		g.Go(func() error {
			contract := bind.NewBoundContract(common.HexToAddress(address), erc20Abi, p.caller, nil, nil)

			var out []interface{}
			if err := contract.Call(&bind.CallOpts{Context: gctx}, &out, "totalSupply"); err != nil {
				if !isNotTokenError(err) {
					return errors.Wrapf(err, "failed to call totalSupply on %s", address)
				}
				p.logger.Sugar().Warnw("Address does not look like an ERC-20 token",
					zap.String("address", address),
					zap.Error(err),
				)
				return nil
			}
			if len(out) == 1 {
				if _, isInt := out[0].(*big.Int); isInt {
					ok[i] = true
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	tokens := make([]string, 0, len(addresses))
	for i, address := range addresses {
		if ok[i] {
			tokens = append(tokens, address)
		}
	}
	return tokens, nil
}
