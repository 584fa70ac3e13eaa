package cache

import (
	"fmt"
	"strconv"
	"strings"
)

// GenerateKey creates a cache key with prefix and ID.
func GenerateKey(prefix string, id string) string {
	return fmt.Sprintf("%s:%s", prefix, id)
}

// GenerateKeyWithParams creates a cache key with multiple parameters.
// Floats are rendered in their shortest exact form so equal values map to one key.
func GenerateKeyWithParams(prefix string, params ...interface{}) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, param := range params {
		b.WriteByte(':')
		switch p := param.(type) {
		case float64:
			b.WriteString(strconvFloat(p))
		default:
			fmt.Fprintf(&b, "%v", p)
		}
	}
	return b.String()
}

// LockKey names the advisory lock guarding key.
func LockKey(key string) string {
	return GenerateKey("lock", key)
}

func strconvFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
