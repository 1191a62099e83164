package ethereum

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"testing"

	"github.com/defi-indexer/historic-cache/internal/config"
	"github.com/defi-indexer/historic-cache/pkg/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
)

const mockRpcUrl = "http://mock-node:8545"

type jsonRpcRequest struct {
	Id     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type jsonRpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// jsonRpcResponder answers a single JSON-RPC request, echoing its id.
func jsonRpcResponder(handler func(req *jsonRpcRequest) (any, *jsonRpcError)) httpmock.Responder {
	return func(r *http.Request) (*http.Response, error) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		req := &jsonRpcRequest{}
		if err := json.Unmarshal(body, req); err != nil {
			return nil, err
		}
		result, rpcErr := handler(req)
		resp := map[string]any{
			"jsonrpc": "2.0",
			"id":      req.Id,
		}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		return httpmock.NewJsonResponse(200, resp)
	}
}

func setup(t *testing.T) (*Client, *http.Client) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	assert.Nil(t, err)

	hc := &http.Client{}
	httpmock.ActivateNonDefault(hc)
	t.Cleanup(httpmock.DeactivateAndReset)

	client, err := NewClient(&EthereumClientConfig{
		BaseUrl:    mockRpcUrl,
		Chain:      config.Chain_Ethereum,
		HttpClient: hc,
	}, l)
	assert.Nil(t, err)
	return client, hc
}

func Test_EthereumClient(t *testing.T) {
	t.Run("Should get the latest block", func(t *testing.T) {
		client, _ := setup(t)
		httpmock.RegisterResponder("POST", mockRpcUrl, jsonRpcResponder(func(req *jsonRpcRequest) (any, *jsonRpcError) {
			assert.Equal(t, "eth_blockNumber", req.Method)
			return "0x1312d00", nil
		}))

		n, err := client.GetLatestBlock(context.Background())
		assert.Nil(t, err)
		assert.Equal(t, uint64(20000000), n)
	})
	t.Run("Should verify the chain id", func(t *testing.T) {
		client, _ := setup(t)
		httpmock.RegisterResponder("POST", mockRpcUrl, jsonRpcResponder(func(req *jsonRpcRequest) (any, *jsonRpcError) {
			return "0x38", nil
		}))

		err := client.VerifyChainId(context.Background())
		assert.NotNil(t, err)
	})
	t.Run("Should filter logs", func(t *testing.T) {
		client, _ := setup(t)
		contract := common.HexToAddress("0x1111111111111111111111111111111111111111")
		topic := common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

		httpmock.RegisterResponder("POST", mockRpcUrl, jsonRpcResponder(func(req *jsonRpcRequest) (any, *jsonRpcError) {
			assert.Equal(t, "eth_getLogs", req.Method)
			return []map[string]any{
				{
					"address":          contract.Hex(),
					"topics":           []string{topic.Hex()},
					"data":             "0x",
					"blockNumber":      "0x10",
					"transactionHash":  common.HexToHash("0x01").Hex(),
					"transactionIndex": "0x0",
					"blockHash":        common.HexToHash("0x02").Hex(),
					"logIndex":         "0x0",
					"removed":          false,
				},
			}, nil
		}))

		logs, err := client.FilterLogs(context.Background(), ethereum.FilterQuery{
			FromBlock: big.NewInt(0),
			ToBlock:   big.NewInt(100),
			Addresses: []common.Address{contract},
			Topics:    [][]common.Hash{{topic}},
		})
		assert.Nil(t, err)
		assert.Len(t, logs, 1)
		assert.Equal(t, contract, logs[0].Address)
		assert.Equal(t, uint64(16), logs[0].BlockNumber)
	})
	t.Run("Should surface JSON-RPC error codes", func(t *testing.T) {
		client, _ := setup(t)
		httpmock.RegisterResponder("POST", mockRpcUrl, jsonRpcResponder(func(req *jsonRpcRequest) (any, *jsonRpcError) {
			return nil, &jsonRpcError{Code: ErrorCode_LimitExceeded, Message: "query returned more than 10000 results"}
		}))

		_, err := client.FilterLogs(context.Background(), ethereum.FilterQuery{})
		assert.NotNil(t, err)

		code, ok := GetRpcErrorCode(err)
		assert.True(t, ok)
		assert.Equal(t, ErrorCode_LimitExceeded, code)
		assert.True(t, ErrorMessageContains(err, "more than 10000 RESULTS"))
	})
	t.Run("Should surface HTTP status codes", func(t *testing.T) {
		client, _ := setup(t)
		httpmock.RegisterResponder("POST", mockRpcUrl, httpmock.NewStringResponder(503, "service unavailable"))

		_, err := client.GetLatestBlock(context.Background())
		assert.NotNil(t, err)

		status, ok := GetHttpStatusCode(err)
		assert.True(t, ok)
		assert.Equal(t, 503, status)

		_, ok = GetRpcErrorCode(fmt.Errorf("plain"))
		assert.False(t, ok)
	})
}

func Test_ConvertGlobalConfigToEthereumConfig(t *testing.T) {
	cfg := &config.Config{
		EthereumRpcConfig: config.EthereumRpcConfig{
			RpcUrls: map[config.Chain]string{config.Chain_Base: "http://base-node"},
		},
	}

	ethCfg, err := ConvertGlobalConfigToEthereumConfig(cfg, config.Chain_Base)
	assert.Nil(t, err)
	assert.Equal(t, "http://base-node", ethCfg.BaseUrl)

	_, err = ConvertGlobalConfigToEthereumConfig(cfg, config.Chain_Ethereum)
	assert.NotNil(t, err)
}
