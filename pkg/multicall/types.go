package multicall

import (
	"fmt"
	"strings"
	"time"

	"github.com/defi-indexer/historic-cache/internal/config"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

const multicall3Abi = `[{
	"inputs": [
		{
			"components": [
				{"internalType": "address", "name": "target", "type": "address"},
				{"internalType": "bool", "name": "allowFailure", "type": "bool"},
				{"internalType": "bytes", "name": "callData", "type": "bytes"}
			],
			"internalType": "struct Multicall3.Call3[]",
			"name": "calls",
			"type": "tuple[]"
		}
	],
	"name": "aggregate3",
	"outputs": [
		{
			"components": [
				{"internalType": "bool", "name": "success", "type": "bool"},
				{"internalType": "bytes", "name": "returnData", "type": "bytes"}
			],
			"internalType": "struct Multicall3.Result[]",
			"name": "returnData",
			"type": "tuple[]"
		}
	],
	"stateMutability": "payable",
	"type": "function"
}]`

const aggregate3Method = "aggregate3"

// Multicall3Abi is the parsed aggregate3 fragment of the Multicall3 contract.
var Multicall3Abi = mustParseAbi(multicall3Abi)

func mustParseAbi(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("failed to parse multicall abi: %v", err))
	}
	return parsed
}

type Call3 struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

type Multicall3Result struct {
	Success    bool
	ReturnData []byte
}

var (
	ErrSenderNotSupported  = errors.New("multicall does not support calls with a sender")
	ErrMissingTarget       = errors.New("multicall requires a call target")
	ErrResultCountMismatch = errors.New("multicall returned a different number of results than calls")
)

// MulticallError rejects every call of a batch when the aggregate call itself could not be used.
type MulticallError struct {
	Chain        config.Chain
	BlockTag     string
	BatchSize    int
	FlushTimeout time.Duration
	MaxBatchSize int
	Err          error
}

func (e *MulticallError) Error() string {
	return fmt.Sprintf("multicall failed for chain %s at block %s (batchSize=%d, flushTimeout=%s, maxBatchSize=%d): %v",
		e.Chain.Id(), e.BlockTag, e.BatchSize, e.FlushTimeout, e.MaxBatchSize, e.Err)
}

func (e *MulticallError) Unwrap() error {
	return e.Err
}

// CallFailedError is returned to a single caller whose sub-call reverted inside an otherwise successful batch.
type CallFailedError struct {
	Target common.Address
	Reason string
}

func (e *CallFailedError) Error() string {
	return fmt.Sprintf("call to %s failed: %s", strings.ToLower(e.Target.Hex()), e.Reason)
}

// decodeRevertReason returns the Error(string) message when present, otherwise the raw hex.
func decodeRevertReason(data []byte) string {
	if len(data) == 0 {
		return "execution reverted"
	}
	if reason, err := abi.UnpackRevert(data); err == nil {
		return reason
	}
	return fmt.Sprintf("execution reverted: 0x%x", data)
}

func packAggregate3(calls []Call3) ([]byte, error) {
	data, err := Multicall3Abi.Pack(aggregate3Method, calls)
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack aggregate3")
	}
	return data, nil
}

func unpackAggregate3(data []byte) ([]Multicall3Result, error) {
	unpacked, err := Multicall3Abi.Unpack(aggregate3Method, data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to unpack aggregate3")
	}
	if len(unpacked) != 1 {
		return nil, errors.Errorf("unexpected aggregate3 output length %d", len(unpacked))
	}
	results := *abi.ConvertType(unpacked[0], new([]Multicall3Result)).(*[]Multicall3Result)
	return results, nil
}
