package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/defi-indexer/historic-cache/internal/config"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

type EthereumClientConfig struct {
	BaseUrl string
	Chain   config.Chain
	// HttpClient is optional. Tests swap in a client whose transport is mocked.
	HttpClient *http.Client
}

// ConvertGlobalConfigToEthereumConfig picks the node url configured for the given chain.
func ConvertGlobalConfigToEthereumConfig(cfg *config.Config, chain config.Chain) (*EthereumClientConfig, error) {
	url, err := cfg.GetRpcUrl(chain)
	if err != nil {
		return nil, err
	}
	return &EthereumClientConfig{
		BaseUrl: url,
		Chain:   chain,
	}, nil
}

// Client is a thin wrapper over go-ethereum's ethclient scoped to a single chain.
type Client struct {
	BaseUrl      string
	Chain        config.Chain
	rpcClient    *rpc.Client
	ethClient    *ethclient.Client
	Logger       *zap.Logger
	clientConfig *EthereumClientConfig
}

func NewClient(cfg *EthereumClientConfig, l *zap.Logger) (*Client, error) {
	hc := cfg.HttpClient
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Minute}
	}

	rpcClient, err := rpc.DialOptions(context.Background(), cfg.BaseUrl, rpc.WithHTTPClient(hc))
	if err != nil {
		return nil, fmt.Errorf("failed to dial node for chain '%s': %w", cfg.Chain.String(), err)
	}

	l.Sugar().Infow("Created ethereum client",
		zap.String("chain", cfg.Chain.String()),
		zap.Uint64("chainId", uint64(cfg.Chain)),
	)

	return &Client{
		BaseUrl:      cfg.BaseUrl,
		Chain:        cfg.Chain,
		rpcClient:    rpcClient,
		ethClient:    ethclient.NewClient(rpcClient),
		Logger:       l,
		clientConfig: cfg,
	}, nil
}

// GetLatestBlock returns the current chain tip.
func (c *Client) GetLatestBlock(ctx context.Context) (uint64, error) {
	n, err := c.ethClient.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block for chain '%s': %w", c.Chain.String(), err)
	}
	return n, nil
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return c.ethClient.ChainID(ctx)
}

// VerifyChainId fails when the node serves a different chain than the one it was configured for.
func (c *Client) VerifyChainId(ctx context.Context) error {
	id, err := c.ChainID(ctx)
	if err != nil {
		return err
	}
	if id.Uint64() != uint64(c.Chain) {
		return fmt.Errorf("node at chain '%s' reports chain id %s, expected %d", c.Chain.String(), id.String(), uint64(c.Chain))
	}
	return nil
}

func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return c.ethClient.FilterLogs(ctx, q)
}

func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return c.ethClient.CallContract(ctx, msg, blockNumber)
}

func (c *Client) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return c.ethClient.CodeAt(ctx, contract, blockNumber)
}

func (c *Client) Close() {
	c.rpcClient.Close()
}
