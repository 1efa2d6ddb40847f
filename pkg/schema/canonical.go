package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// CanonicalKey returns a stable, order-independent key for a set of named
// arguments. Two argument maps that differ only in map iteration or caller
// ordering always produce the same key, so the execution log and ground
// truth never fork on argument order. The key is the sha256 hex digest of a
// canonical encoding (sorted keys, fixed number formatting).
func CanonicalKey(args map[string]any) string {
	var sb strings.Builder
	writeCanonical(&sb, args)
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// CanonicalJSON returns the canonical encoding itself, used when the readable
// form is wanted (sandbox stdin, prompt rendering) rather than the digest.
func CanonicalJSON(value any) string {
	var sb strings.Builder
	writeCanonical(&sb, value)
	return sb.String()
}

func writeCanonical(sb *strings.Builder, value any) {
	switch v := value.(type) {
	case nil:
		sb.WriteString("null")
	case bool:
		if v {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case string:
		b, _ := json.Marshal(v)
		sb.Write(b)
	case float64:
		writeCanonicalNumber(sb, v)
	case int:
		sb.WriteString(strconv.Itoa(v))
	case int64:
		sb.WriteString(strconv.FormatInt(v, 10))
	case []any:
		sb.WriteByte('[')
		for i, elem := range v {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeCanonical(sb, elem)
		}
		sb.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			sb.Write(kb)
			sb.WriteByte(':')
			writeCanonical(sb, v[k])
		}
		sb.WriteByte('}')
	default:
		// Fall back to encoding/json for anything exotic; round-trip through
		// the generic types first so struct inputs canonicalize identically.
		b, err := json.Marshal(v)
		if err != nil {
			fmt.Fprintf(sb, "%q", fmt.Sprintf("%v", v))
			return
		}
		var generic any
		if err := json.Unmarshal(b, &generic); err != nil {
			sb.Write(b)
			return
		}
		writeCanonical(sb, generic)
	}
}

// writeCanonicalNumber renders whole floats without a fractional part so 1
// and 1.0 canonicalize identically regardless of how they were decoded.
func writeCanonicalNumber(sb *strings.Builder, f float64) {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		sb.WriteString(strconv.FormatInt(int64(f), 10))
		return
	}
	sb.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
}
