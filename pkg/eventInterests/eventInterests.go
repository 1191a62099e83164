// Package eventInterests describes the events protocol adapters want cached and
// provides them to the job registrar.
package eventInterests

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/defi-indexer/historic-cache/internal/config"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// UserEvent declares which event carries the user address of a contract. Exactly one form is set:
// the ERC-20 Transfer shortcut, an explicit topic0 and topic index, or an event signature
// with the name of the argument holding the user address.
type UserEvent struct {
	Erc20Transfer bool `yaml:"erc20Transfer,omitempty"`

	Topic0           string `yaml:"topic0,omitempty"`
	UserAddressIndex *int   `yaml:"userAddressIndex,omitempty"`

	EventAbi                    string            `yaml:"eventAbi,omitempty"`
	UserAddressArgument         string            `yaml:"userAddressArgument,omitempty"`
	AdditionalMetadataArguments map[string]string `yaml:"additionalMetadataArguments,omitempty"`
	TransformUserAddressType    string            `yaml:"transformUserAddressType,omitempty"`
}

func (u *UserEvent) Validate() error {
	forms := 0
	if u.Erc20Transfer {
		forms++
	}
	if u.Topic0 != "" || u.UserAddressIndex != nil {
		forms++
		if u.Topic0 == "" || u.UserAddressIndex == nil {
			return fmt.Errorf("topic0 and userAddressIndex must be set together")
		}
		if len(common.FromHex(u.Topic0)) != common.HashLength {
			return fmt.Errorf("invalid topic0 '%s'", u.Topic0)
		}
		if *u.UserAddressIndex < 1 || *u.UserAddressIndex > 3 {
			return fmt.Errorf("userAddressIndex %d must be a topic position between 1 and 3", *u.UserAddressIndex)
		}
	}
	if u.EventAbi != "" || u.UserAddressArgument != "" {
		forms++
		if u.EventAbi == "" || u.UserAddressArgument == "" {
			return fmt.Errorf("eventAbi and userAddressArgument must be set together")
		}
	}
	if forms != 1 {
		return fmt.Errorf("exactly one user event form must be declared, found %d", forms)
	}
	if u.EventAbi == "" && (len(u.AdditionalMetadataArguments) > 0 || u.TransformUserAddressType != "") {
		return fmt.Errorf("additionalMetadataArguments and transformUserAddressType require an eventAbi")
	}
	return nil
}

// EventInterest is one contract an adapter tracks. Entries without a UserEvent are ignored.
type EventInterest struct {
	ContractAddress        string     `yaml:"contractAddress"`
	UserEvent              *UserEvent `yaml:"userEvent,omitempty"`
	ProtocolTokenAddresses []string   `yaml:"protocolTokenAddresses,omitempty"`
}

type EventInterestProvider interface {
	DiscoverEventInterests(ctx context.Context, chain config.Chain) ([]*EventInterest, error)
}

type adapterFile struct {
	Adapters []*adapterEntry `yaml:"adapters"`
}

type adapterEntry struct {
	Name      string           `yaml:"name"`
	Chain     string           `yaml:"chain"`
	Contracts []*EventInterest `yaml:"contracts"`
}

// ParseEventInterests parses an adapters document and groups its contracts by chain.
func ParseEventInterests(data []byte) (map[config.Chain][]*EventInterest, error) {
	var file adapterFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse adapters file: %w", err)
	}

	interests := make(map[config.Chain][]*EventInterest)
	for i, adapter := range file.Adapters {
		chain, err := config.ParseChain(adapter.Chain)
		if err != nil {
			return nil, fmt.Errorf("adapter '%s' at index %d: %w", adapter.Name, i, err)
		}
		for j, contract := range adapter.Contracts {
			if !common.IsHexAddress(strings.TrimSpace(contract.ContractAddress)) {
				return nil, fmt.Errorf("adapter '%s' contract %d: invalid contract address '%s'", adapter.Name, j, contract.ContractAddress)
			}
			for _, token := range contract.ProtocolTokenAddresses {
				if !common.IsHexAddress(strings.TrimSpace(token)) {
					return nil, fmt.Errorf("adapter '%s' contract %d: invalid protocol token address '%s'", adapter.Name, j, token)
				}
			}
			if contract.UserEvent != nil {
				if err := contract.UserEvent.Validate(); err != nil {
					return nil, fmt.Errorf("adapter '%s' contract %d: %w", adapter.Name, j, err)
				}
			}
			interests[chain] = append(interests[chain], contract)
		}
	}
	return interests, nil
}

// YamlEventInterestProvider serves the interests declared in an adapters YAML file.
// The file is read on first use.
type YamlEventInterestProvider struct {
	path   string
	logger *zap.Logger

	once      sync.Once
	interests map[config.Chain][]*EventInterest
	err       error
}

func NewYamlEventInterestProvider(path string, l *zap.Logger) *YamlEventInterestProvider {
	return &YamlEventInterestProvider{
		path:   path,
		logger: l,
	}
}

func (p *YamlEventInterestProvider) load() {
	data, err := os.ReadFile(p.path)
	if err != nil {
		p.err = fmt.Errorf("failed to read adapters file: %w", err)
		return
	}
	p.interests, p.err = ParseEventInterests(data)
	if p.err == nil {
		p.logger.Sugar().Infow("Loaded adapters file",
			zap.String("path", p.path),
			zap.Int("chains", len(p.interests)),
		)
	}
}

func (p *YamlEventInterestProvider) DiscoverEventInterests(ctx context.Context, chain config.Chain) ([]*EventInterest, error) {
	p.once.Do(p.load)
	if p.err != nil {
		return nil, p.err
	}
	return p.interests[chain], nil
}
