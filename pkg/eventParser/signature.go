package eventParser

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/pkg/errors"
)

const (
	Erc20TransferTopic0           = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"
	Erc20TransferUserAddressIndex = 2

	// UserAddressIndex_NotFound is recorded when the declared user address argument is not part of the event
	UserAddressIndex_NotFound = -1

	TransformUserAddressType_Uint256 = "uint256"
)

var ErrUnsupportedSignature = errors.New("unsupported event signature")

// ParseEventSignature parses a human-readable event signature such as
// "event Transfer(address indexed from, address indexed to, uint256 value)" or a single JSON ABI event fragment.
// Tuple arguments are not supported.
func ParseEventSignature(signature string) (*abi.Event, error) {
	sig := strings.TrimSpace(signature)
	if strings.HasPrefix(sig, "{") {
		return parseJsonFragment(sig)
	}
	sig = strings.TrimSpace(strings.TrimPrefix(sig, "event "))

	open := strings.Index(sig, "(")
	closing := strings.LastIndex(sig, ")")
	if open <= 0 || closing < open {
		return nil, errors.Wrapf(ErrUnsupportedSignature, "malformed signature '%s'", signature)
	}
	name := strings.TrimSpace(sig[:open])
	if strings.ContainsAny(name, " \t") {
		return nil, errors.Wrapf(ErrUnsupportedSignature, "malformed event name '%s'", name)
	}
	anonymous := strings.TrimSpace(sig[closing+1:]) == "anonymous"

	body := strings.TrimSpace(sig[open+1 : closing])
	if strings.ContainsAny(body, "()") {
		return nil, errors.Wrapf(ErrUnsupportedSignature, "tuple arguments in '%s'", signature)
	}

	inputs := abi.Arguments{}
	if body != "" {
		for i, param := range strings.Split(body, ",") {
			arg, err := parseArgument(param, i)
			if err != nil {
				return nil, errors.Wrapf(err, "signature '%s'", signature)
			}
			inputs = append(inputs, arg)
		}
	}

	event := abi.NewEvent(name, name, anonymous, inputs)
	return &event, nil
}

func parseArgument(param string, position int) (abi.Argument, error) {
	fields := strings.Fields(param)
	if len(fields) == 0 {
		return abi.Argument{}, errors.Wrapf(ErrUnsupportedSignature, "empty argument at position %d", position)
	}
	typ, err := abi.NewType(canonicalType(fields[0]), "", nil)
	if err != nil {
		return abi.Argument{}, errors.Wrapf(err, "argument type '%s'", fields[0])
	}

	arg := abi.Argument{Type: typ}
	rest := fields[1:]
	if len(rest) > 0 && rest[0] == "indexed" {
		arg.Indexed = true
		rest = rest[1:]
	}
	switch len(rest) {
	case 0:
		arg.Name = fmt.Sprintf("arg%d", position)
	case 1:
		arg.Name = rest[0]
	default:
		return abi.Argument{}, errors.Wrapf(ErrUnsupportedSignature, "unexpected tokens in argument '%s'", param)
	}
	return arg, nil
}

// canonicalType expands the solidity aliases uint, int and byte, keeping any array suffix.
func canonicalType(t string) string {
	base, suffix := t, ""
	if i := strings.Index(t, "["); i >= 0 {
		base, suffix = t[:i], t[i:]
	}
	switch base {
	case "uint":
		base = "uint256"
	case "int":
		base = "int256"
	case "byte":
		base = "bytes1"
	}
	return base + suffix
}

func parseJsonFragment(fragment string) (*abi.Event, error) {
	a, err := abi.JSON(strings.NewReader("[" + fragment + "]"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse event abi fragment")
	}
	for _, e := range a.Events {
		event := e
		return &event, nil
	}
	return nil, errors.Wrap(ErrUnsupportedSignature, "abi fragment does not describe an event")
}

// GetUserAddressIndex returns the position of the named argument among the event inputs, or
// UserAddressIndex_NotFound.
func GetUserAddressIndex(event *abi.Event, argumentName string) int {
	for i, input := range event.Inputs {
		if input.Name == argumentName {
			return i
		}
	}
	return UserAddressIndex_NotFound
}
