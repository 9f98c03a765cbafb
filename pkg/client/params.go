package client

import (
	"bytes"
	"encoding/json"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/graph-client/pkg/apierr"
	"github.com/shopspring/decimal"
)

// Params are request parameters. Values are normalized before sending:
//
//   - string lists are joined with commas
//   - maps, structs and other lists are sent as JSON text
//   - io.Reader values are sent as multipart file parts (POST and PUT only)
//   - numbers, booleans, decimals and times (as unix seconds) are sent as text
//   - nil values are dropped
type Params map[string]any

// keyMarkers are the substrings rewritten by MangleKey.
var keyMarkers = strings.NewReplacer(
	"__lb__", "[",
	"__rb__", "]",
	"__colon__", ":",
)

// MangleKey rewrites bracket and colon markers in a parameter name, so that
// names like "og__colon__title" or "attachment__lb__0__rb__" can be built
// from identifiers.
func MangleKey(key string) string {
	return keyMarkers.Replace(key)
}

type fileParam struct {
	key    string
	reader io.Reader
}

// bufferedFile is an upload read into memory. It keeps the source name.
type bufferedFile struct {
	*bytes.Reader
	name string
}

// Name returns the name multipart encoding uses as the filename.
func (f *bufferedFile) Name() string {
	return f.name
}

// rewindable returns params with every reader that cannot seek read into
// memory, so each attempt of a retried request sends the full content.
// params itself is not modified.
func rewindable(params Params) (Params, error) {
	var out Params
	for key, value := range params {
		r, ok := value.(io.Reader)
		if !ok || canSeek(r) {
			continue
		}

		data, err := io.ReadAll(r)
		if err != nil {
			return nil, apierr.Usage("read file %q: %v", key, err)
		}

		if out == nil {
			out = make(Params, len(params))
			for k, v := range params {
				out[k] = v
			}
		}
		f := &bufferedFile{Reader: bytes.NewReader(data), name: key}
		if named, ok := r.(interface{ Name() string }); ok {
			f.name = named.Name()
		}
		out[key] = f
	}

	if out == nil {
		return params, nil
	}
	return out, nil
}

// canSeek reports whether r can be rewound. Pipes implement io.Seeker but
// fail to seek.
func canSeek(r io.Reader) bool {
	seeker, ok := r.(io.Seeker)
	if !ok {
		return false
	}
	_, err := seeker.Seek(0, io.SeekCurrent)
	return err == nil
}

// encodeParams normalizes params into form values and file parts.
func (c *Client) encodeParams(params Params) (url.Values, []fileParam, error) {
	values := url.Values{}
	var files []fileParam

	for key, value := range params {
		if c.config.MangleKeys {
			key = MangleKey(key)
		}
		if key == paramAccessToken || key == paramAppSecretProof {
			return nil, nil, apierr.Usage("parameter %q is set by the client", key)
		}
		if value == nil {
			continue
		}

		if r, ok := value.(io.Reader); ok {
			files = append(files, fileParam{key: key, reader: r})
			continue
		}

		s, err := normalizeValue(value)
		if err != nil {
			return nil, nil, apierr.Usage("parameter %q: %v", key, err)
		}
		values.Set(key, s)
	}

	return values, files, nil
}

// encodeForm normalizes params into a urlencoded string. Files are rejected.
func (c *Client) encodeForm(params Params) (string, error) {
	values, files, err := c.encodeParams(params)
	if err != nil {
		return "", err
	}
	if len(files) > 0 {
		return "", apierr.Usage("file parameter %q is not supported here", files[0].key)
	}
	return values.Encode(), nil
}

// normalizeValue renders a parameter value as text.
func normalizeValue(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []string:
		return strings.Join(v, ","), nil
	case []any:
		if parts, ok := stringList(v); ok {
			return strings.Join(parts, ","), nil
		}
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case json.Number:
		return v.String(), nil
	case decimal.Decimal:
		return v.String(), nil
	case time.Time:
		return strconv.FormatInt(v.Unix(), 10), nil
	case []byte:
		return string(v), nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func stringList(values []any) ([]string, bool) {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		parts = append(parts, s)
	}
	return parts, true
}
