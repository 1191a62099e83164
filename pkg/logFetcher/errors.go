package logFetcher

import (
	"net/http"

	"github.com/defi-indexer/historic-cache/pkg/clients/ethereum"
	"github.com/defi-indexer/historic-cache/pkg/retry"
)

// rangeTooLargeMessages are the provider messages that mean "ask for less".
var rangeTooLargeMessages = []string{
	"more than 10000 results",
	"query returned more than",
	"batch too large",
	"block range",
	"range is too large",
	"exceed maximum block range",
	"query timeout",
	"timeout exceeded",
	"response size exceeded",
	"too many results",
}

// IsRangeTooLargeError reports whether err indicates the provider was overloaded by the size of the
// request, in which case the block range should be bisected rather than the error surfaced.
func IsRangeTooLargeError(err error) bool {
	if err == nil {
		return false
	}
	if retry.IsTimeout(err) {
		return true
	}
	if status, ok := ethereum.GetHttpStatusCode(err); ok {
		if status >= http.StatusInternalServerError || status == http.StatusRequestEntityTooLarge {
			return true
		}
	}
	if code, ok := ethereum.GetRpcErrorCode(err); ok && code == ethereum.ErrorCode_LimitExceeded {
		return true
	}
	return ethereum.ErrorMessageContains(err, rangeTooLargeMessages...)
}
