package wire

import (
	"net/url"
	"strings"
)

// Form holds decoded application/x-www-form-urlencoded fields.
type Form map[string]string

// Get returns the value for key and whether the key was present.
func (f Form) Get(key string) (string, bool) {
	v, ok := f[key]
	return v, ok
}

// DecodeForm splits body on '&' and each pair on its first '='. Keys are kept
// as sent; values are percent-decoded, falling back to the raw value when
// decoding fails. Pairs without '=' or with an empty key are ignored, and the
// first occurrence of a key wins.
func DecodeForm(body []byte) Form {
	form := make(Form)
	if len(body) == 0 {
		return form
	}

	for _, pair := range strings.Split(string(body), "&") {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			continue
		}
		if _, seen := form[key]; seen {
			continue
		}
		form[key] = decodeValue(raw)
	}
	return form
}

func decodeValue(raw string) string {
	v, err := url.QueryUnescape(raw)
	if err != nil {
		return raw
	}
	return v
}
