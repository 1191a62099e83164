// Package eventParser resolves event signatures and turns fetched logs into cached
// (user address, contract address, metadata) tuples.
package eventParser

import (
	"fmt"
	"math/big"
	"slices"

	"github.com/defi-indexer/historic-cache/pkg/jobStore"
	"github.com/defi-indexer/historic-cache/pkg/utils"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const DefaultSignatureCacheSize = 1024

var (
	ErrUserAddressIndexOutOfRange = errors.New("user address index out of range")
	ErrUnsupportedAddressType     = errors.New("user address argument is not an address")
	ErrMissingEventAbi            = errors.New("metadata arguments require an event abi")
)

// ParseOptions describe how the user address and metadata are read from a log.
//
// Without an EventAbi, UserAddressIndex is a position in the log's topics (topic 0 being the event id).
// With an EventAbi, it is a position in the event's inputs and the value is read from the decoded argument.
type ParseOptions struct {
	EventAbi                    *string
	UserAddressIndex            int
	AdditionalMetadataArguments jobStore.AdditionalMetadataArguments
	TransformUserAddressType    *string
}

type Parser struct {
	logger     *zap.Logger
	signatures *lru.Cache[string, *abi.Event]
}

func NewParser(cacheSize int, l *zap.Logger) (*Parser, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultSignatureCacheSize
	}
	cache, err := lru.New[string, *abi.Event](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Parser{
		logger:     l,
		signatures: cache,
	}, nil
}

// GetEvent returns the parsed event for a signature, parsing it at most once while it stays cached.
func (p *Parser) GetEvent(signature string) (*abi.Event, error) {
	if event, ok := p.signatures.Get(signature); ok {
		return event, nil
	}
	event, err := ParseEventSignature(signature)
	if err != nil {
		return nil, err
	}
	p.signatures.Add(signature, event)
	return event, nil
}

// ParseLog extracts the cache rows for one log. A log with N metadata arguments produces N rows,
// a log without any produces one row with empty metadata.
func (p *Parser) ParseLog(lg types.Log, opts *ParseOptions) ([]*jobStore.Log, error) {
	var userAddress string
	var metadata [][2]string
	var err error

	if opts.EventAbi == nil {
		if len(opts.AdditionalMetadataArguments) > 0 {
			return nil, ErrMissingEventAbi
		}
		userAddress, err = userAddressFromTopics(lg, opts.UserAddressIndex)
	} else {
		userAddress, metadata, err = p.parseWithAbi(lg, opts)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "tx '%s' log index %d", lg.TxHash.Hex(), lg.Index)
	}

	contractAddress := utils.NormalizeAddress(lg.Address.Hex())
	if len(metadata) == 0 {
		return []*jobStore.Log{{Address: userAddress, ContractAddress: contractAddress}}, nil
	}
	rows := make([]*jobStore.Log, 0, len(metadata))
	for _, m := range metadata {
		key, value := m[0], m[1]
		rows = append(rows, &jobStore.Log{
			Address:         userAddress,
			ContractAddress: contractAddress,
			MetadataKey:     &key,
			MetadataValue:   &value,
		})
	}
	return rows, nil
}

// ParseLogs parses a batch, logging and skipping the logs that fail.
func (p *Parser) ParseLogs(logs []types.Log, opts *ParseOptions) (rows []*jobStore.Log, failed int) {
	rows = make([]*jobStore.Log, 0, len(logs))
	for _, lg := range logs {
		parsed, err := p.ParseLog(lg, opts)
		if err != nil {
			failed++
			p.logger.Sugar().Warnw("Failed to parse log, skipping",
				zap.String("contractAddress", lg.Address.Hex()),
				zap.Uint64("blockNumber", lg.BlockNumber),
				zap.Error(err),
			)
			continue
		}
		rows = append(rows, parsed...)
	}
	return rows, failed
}

func userAddressFromTopics(lg types.Log, index int) (string, error) {
	if index < 1 || index >= len(lg.Topics) {
		return "", errors.Wrapf(ErrUserAddressIndexOutOfRange, "topic index %d with %d topics", index, len(lg.Topics))
	}
	// an indexed address occupies the low 20 bytes of its topic, as does a uint256 token id
	return utils.NormalizeAddress(common.BytesToAddress(lg.Topics[index].Bytes()).Hex()), nil
}

func (p *Parser) parseWithAbi(lg types.Log, opts *ParseOptions) (string, [][2]string, error) {
	event, err := p.GetEvent(*opts.EventAbi)
	if err != nil {
		return "", nil, err
	}
	if opts.UserAddressIndex < 0 || opts.UserAddressIndex >= len(event.Inputs) {
		return "", nil, errors.Wrapf(ErrUserAddressIndexOutOfRange, "argument index %d for event '%s'", opts.UserAddressIndex, event.Sig)
	}

	args, err := decodeArguments(event, lg)
	if err != nil {
		return "", nil, err
	}

	userArg := event.Inputs[opts.UserAddressIndex]
	userAddress, err := toUserAddress(args[userArg.Name], opts.TransformUserAddressType)
	if err != nil {
		return "", nil, errors.Wrapf(err, "argument '%s'", userArg.Name)
	}

	argNames := make([]string, 0, len(opts.AdditionalMetadataArguments))
	for name := range opts.AdditionalMetadataArguments {
		argNames = append(argNames, name)
	}
	slices.Sort(argNames)

	metadata := make([][2]string, 0, len(argNames))
	for _, name := range argNames {
		value, ok := args[name]
		if !ok {
			return "", nil, fmt.Errorf("metadata argument '%s' not found in event '%s'", name, event.Sig)
		}
		metadata = append(metadata, [2]string{opts.AdditionalMetadataArguments[name], FormatValue(value)})
	}
	return userAddress, metadata, nil
}

// decodeArguments decodes indexed arguments from the topics and the rest from the data.
func decodeArguments(event *abi.Event, lg types.Log) (map[string]interface{}, error) {
	args := make(map[string]interface{}, len(event.Inputs))

	topics := lg.Topics
	if !event.Anonymous {
		if len(topics) == 0 || topics[0] != event.ID {
			return nil, fmt.Errorf("log topic does not match event '%s'", event.Sig)
		}
		topics = topics[1:]
	}

	topicIndex := 0
	for _, input := range event.Inputs {
		if !input.Indexed {
			continue
		}
		if topicIndex >= len(topics) {
			return nil, fmt.Errorf("missing topic for indexed argument '%s'", input.Name)
		}
		value, err := parseTopicValue(input, topics[topicIndex])
		if err != nil {
			return nil, errors.Wrapf(err, "indexed argument '%s'", input.Name)
		}
		args[input.Name] = value
		topicIndex++
	}

	nonIndexed := event.Inputs.NonIndexed()
	if len(nonIndexed) > 0 {
		if err := nonIndexed.UnpackIntoMap(args, lg.Data); err != nil {
			return nil, errors.Wrap(err, "failed to unpack data")
		}
	}
	return args, nil
}

// parseTopicValue converts an indexed topic to a Go value based on the ABI argument type.
// Dynamic types are indexed by hash, so they are kept as the raw topic.
func parseTopicValue(argument abi.Argument, topic common.Hash) (interface{}, error) {
	switch argument.Type.T {
	case abi.IntTy, abi.UintTy:
		return abi.ReadInteger(argument.Type, topic.Bytes())
	case abi.BoolTy:
		return readBool(topic.Bytes())
	case abi.AddressTy:
		return common.BytesToAddress(topic.Bytes()), nil
	default:
		return topic, nil
	}
}

var errBadBool = fmt.Errorf("abi: improperly encoded boolean value")

// readBool converts a 32-byte word to a boolean value.
func readBool(word []byte) (bool, error) {
	for _, b := range word[:31] {
		if b != 0 {
			return false, errBadBool
		}
	}
	switch word[31] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, errBadBool
	}
}

func toUserAddress(value interface{}, transform *string) (string, error) {
	if addr, ok := value.(common.Address); ok {
		return utils.NormalizeAddress(addr.Hex()), nil
	}
	if transform == nil {
		return "", errors.Wrapf(ErrUnsupportedAddressType, "got %T", value)
	}
	switch *transform {
	case TransformUserAddressType_Uint256:
		n, ok := value.(*big.Int)
		if !ok {
			return "", errors.Wrapf(ErrUnsupportedAddressType, "expected uint256, got %T", value)
		}
		if n.Sign() < 0 {
			return "", errors.Wrapf(ErrUnsupportedAddressType, "negative value %s", n.String())
		}
		return utils.NormalizeAddress(common.BigToAddress(n).Hex()), nil
	default:
		return "", fmt.Errorf("unknown user address transform '%s'", *transform)
	}
}

// FormatValue renders a decoded argument for the metadata_value column.
func FormatValue(value interface{}) string {
	switch v := value.(type) {
	case common.Address:
		return utils.NormalizeAddress(v.Hex())
	case *big.Int:
		return decimal.NewFromBigInt(v, 0).String()
	case common.Hash:
		return v.Hex()
	case [32]byte:
		return hexutil.Encode(v[:])
	case []byte:
		return hexutil.Encode(v)
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case uint8, uint16, uint32, uint64, int8, int16, int32, int64:
		return decimalFromFixed(v).String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func decimalFromFixed(v interface{}) decimal.Decimal {
	switch n := v.(type) {
	case uint8:
		return decimal.NewFromInt(int64(n))
	case uint16:
		return decimal.NewFromInt(int64(n))
	case uint32:
		return decimal.NewFromInt(int64(n))
	case uint64:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(n), 0)
	case int8:
		return decimal.NewFromInt(int64(n))
	case int16:
		return decimal.NewFromInt(int64(n))
	case int32:
		return decimal.NewFromInt32(n)
	case int64:
		return decimal.NewFromInt(n)
	}
	return decimal.Zero
}
