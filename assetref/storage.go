package assetref

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedDescriptor is returned for storage strings that contain a
// segment without a key.
var ErrMalformedDescriptor = errors.New("malformed storage descriptor")

// ParseStorageString explodes a storage descriptor of the form
// "src=http://server/assets;name=Remote;readonly=true" to key-value pairs.
// A string without any '=' or ';' is a bare source, equivalent to
// "src=<string>". Keys are lowercased, values are trimmed.
func ParseStorageString(s string) (map[string]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty string", ErrMalformedDescriptor)
	}
	if !strings.ContainsAny(s, "=;") {
		return map[string]string{"src": s}, nil
	}

	kv := make(map[string]string)
	for _, segment := range strings.Split(s, ";") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		idx := strings.Index(segment, "=")
		if idx <= 0 {
			return nil, fmt.Errorf("%w: segment %q", ErrMalformedDescriptor, segment)
		}
		key := strings.ToLower(strings.TrimSpace(segment[:idx]))
		kv[key] = strings.TrimSpace(segment[idx+1:])
	}
	return kv, nil
}

// SerializeStorageString is the inverse of ParseStorageString for the
// given keys, emitted in the given order. Empty values are skipped.
func SerializeStorageString(kv map[string]string, keys ...string) string {
	var parts []string
	for _, k := range keys {
		if v, ok := kv[k]; ok && v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	return strings.Join(parts, ";")
}
