package ethereum

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

const (
	// ErrorCode_ServerError is the catch-all code most providers use for execution and resource errors.
	ErrorCode_ServerError = -32000
	// ErrorCode_LimitExceeded is used for "query returned more than 10000 results" style responses.
	ErrorCode_LimitExceeded = -32005
	ErrorCode_InternalError = -32603
)

// GetRpcErrorCode extracts the JSON-RPC error code, if err carries one.
func GetRpcErrorCode(err error) (int, bool) {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.ErrorCode(), true
	}
	return 0, false
}

// GetHttpStatusCode extracts the HTTP status when the node replied with a non-2xx response.
func GetHttpStatusCode(err error) (int, bool) {
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode, true
	}
	var httpErrPtr *rpc.HTTPError
	if errors.As(err, &httpErrPtr) && httpErrPtr != nil {
		return httpErrPtr.StatusCode, true
	}
	return 0, false
}

// ErrorMessageContains reports whether the lower-cased error text contains any of the fragments.
func ErrorMessageContains(err error, fragments ...string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, f := range fragments {
		if strings.Contains(msg, strings.ToLower(f)) {
			return true
		}
	}
	return false
}
