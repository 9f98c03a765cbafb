package client

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/Sternrassler/graph-client/pkg/apierr"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// parseBody decodes a response body.
//
// Bodies carrying an error object ("error") or a legacy error ("error_msg")
// become *apierr.Error values. Other JSON is decoded with floats as
// decimal.Decimal and integers as int64. Anything that is not JSON is
// returned verbatim as a string.
func parseBody(body []byte) (any, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || !gjson.ValidBytes(trimmed) {
		return string(body), nil
	}

	root := gjson.ParseBytes(trimmed)
	if root.IsObject() {
		if e := root.Get("error"); e.Exists() {
			return nil, remoteError(e)
		}
		if root.Get("error_msg").Exists() {
			return nil, remoteError(root)
		}
	}

	value, err := decodeJSON(trimmed)
	if err != nil {
		return string(body), nil
	}
	return value, nil
}

// remoteError maps error fields onto an *apierr.Error. It accepts both the
// structured error object and the legacy error_msg/error_code root. An
// OAuthException becomes an auth error.
func remoteError(fields gjson.Result) *apierr.Error {
	if !fields.IsObject() {
		return apierr.Remote(fields.String(), 0)
	}

	e := &apierr.Error{
		Kind:        apierr.KindRemote,
		Message:     firstOf(fields, "message", "error_msg").String(),
		Type:        fields.Get("type").String(),
		Code:        int(firstOf(fields, "code", "error_code").Int()),
		Subcode:     int(fields.Get("error_subcode").Int()),
		IsTransient: fields.Get("is_transient").Bool(),
		UserTitle:   fields.Get("error_user_title").String(),
		UserMessage: fields.Get("error_user_msg").String(),
		TraceID:     fields.Get("fbtrace_id").String(),
	}
	if e.Type == apierr.OAuthExceptionType {
		e.Kind = apierr.KindAuth
	}
	return e
}

func firstOf(fields gjson.Result, keys ...string) gjson.Result {
	for _, key := range keys {
		if v := fields.Get(key); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

// decodeJSON decodes data keeping numbers exact.
func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return convertNumbers(v), nil
}

// convertNumbers replaces json.Number values: integers become int64,
// everything else (fractions, exponents, integers overflowing int64)
// becomes decimal.Decimal.
func convertNumbers(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for key, value := range x {
			x[key] = convertNumbers(value)
		}
		return x
	case []any:
		for i, value := range x {
			x[i] = convertNumbers(value)
		}
		return x
	case json.Number:
		s := x.String()
		if !strings.ContainsAny(s, ".eE") {
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n
			}
		}
		if d, err := decimal.NewFromString(s); err == nil {
			return d
		}
		return s
	default:
		return v
	}
}
