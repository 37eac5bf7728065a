package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sawpanic/derivintel/internal/model"
)

// errEmptyResponse marks a syntactically valid but data-empty exchange
// response (e.g. an unrecognized instrument ID returning an empty list).
var errEmptyResponse = errors.New("empty response")

// classifyErr maps a REST call failure onto the provider error
// taxonomy. It inspects err first: an httpStatusError carries the
// venue's actual HTTP status (400/404 symbol-not-found, 429 rate
// limit), a decodeError means the body didn't parse as JSON
// (MALFORMED_RESPONSE). Only once neither applies does it fall back to
// ctx.Err() to distinguish a timeout from a bare transport failure.
func classifyErr(ctx context.Context, err error) model.ErrorKind {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.status == http.StatusTooManyRequests:
			return model.ErrRateLimited
		case statusErr.status == http.StatusBadRequest || statusErr.status == http.StatusNotFound:
			return model.ErrUnknownSymbol
		case statusErr.status >= http.StatusInternalServerError:
			return model.ErrNetwork
		default:
			return model.ErrMalformedResponse
		}
	}

	var decErr *decodeError
	if errors.As(err, &decErr) {
		return model.ErrMalformedResponse
	}

	if ctx.Err() != nil {
		return model.ErrTimeout
	}
	return model.ErrNetwork
}

// jsonUnmarshalLenient decodes data, returning a descriptive error
// rather than panicking on malformed exchange payloads.
func jsonUnmarshalLenient(data []byte, out interface{}) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("malformed message: %w", err)
	}
	return nil
}

// timeFromMillisFloat converts a JSON-decoded kline open-time (typically
// a float64 after interface{} decoding) into a UTC time.
func timeFromMillisFloat(v interface{}) time.Time {
	ms := parseFloatAny(v)
	return time.UnixMilli(int64(ms)).UTC()
}

// parseFloatAny coerces a loosely-typed JSON field (string or float64,
// as exchanges are inconsistent about numeric encoding) to float64.
func parseFloatAny(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		var f float64
		fmt.Sscanf(x, "%f", &f)
		return f
	default:
		return 0
	}
}
