package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Fingerprint domains. The domain is folded into the hash so that identical
// payloads used for different purposes never collide, and the version suffix
// leaves room for algorithm migration.
const (
	DomainOperation = "workflow-ledger/operation/v1"
	DomainVersion   = "workflow-ledger/version/v1"
)

// Fingerprint computes the canonical hash of a structured payload:
// SHA-256(domain + 0x00 + canonical JSON), hex encoded. The NUL separator
// removes domain/payload boundary ambiguity. The caller is responsible for
// excluding volatile fields (timestamps, nonces) from v; the hash itself is a
// pure function of its input.
func Fingerprint(domain string, v any) (string, error) {
	canonical, err := Canonicalize(v)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// OperationFingerprint hashes the semantically relevant inputs of a
// side-effecting operation for idempotency lookup.
func OperationFingerprint(operation string, inputs map[string]any) (string, error) {
	return Fingerprint(DomainOperation, map[string]any{
		"operation": operation,
		"inputs":    inputs,
	})
}

// Canonicalize produces a deterministic JSON encoding of v: object keys
// sorted lexicographically at every level, no HTML escaping, and numbers
// preserved via their JSON source representation. Two values that are
// structurally equal always canonicalize to identical bytes.
func Canonicalize(v any) ([]byte, error) {
	// Round-trip through encoding/json first so struct tags, Marshaler
	// implementations, and numeric formatting are resolved once, up front.
	raw, err := marshalNoEscape(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(val.String())
	case string:
		b, err := marshalNoEscape(val)
		if err != nil {
			return err
		}
		buf.Write(b)
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := marshalNoEscape(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("canonicalize: unsupported type %T", v)
	}
	return nil
}
