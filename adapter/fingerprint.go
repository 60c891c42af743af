// Package adapter implements the side-effect adapter layer: two
// composable decorators (idempotency, retry) wrapping a user-supplied
// execute(action, tenant, credentials) function, per spec.md §4.4.
// Grounded on goa.design/goa-ai's runtime/a2a/retry.go (error-to-hint
// mapping) and runtime/toolregistry/executor/executor.go
// (buildRetryHintFromIssues / HTTP 429/5xx/timeout classification); the
// canonical-JSON fingerprint and in-flight dedup map are new, shaped
// after runtime/registry/cache.go's TTL map + single-flight-by-key
// idiom.
package adapter

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Fingerprint is the composed idempotency key described in spec.md §4.4
// and the Glossary.
type Fingerprint struct {
	TenantID    string
	RequestID   string
	StepNumber  int
	ToolName    string
	PayloadHash string
}

// Key returns the string used as the idempotency cache's map key: the
// fingerprint fields joined, excluding PayloadHash (the hash is checked
// separately so a collision with a mismatched hash under the same
// composed key can be detected and rejected, per spec.md §4.4).
func (f Fingerprint) Key() string {
	return fmt.Sprintf("%s/%s/%d/%s", f.TenantID, f.RequestID, f.StepNumber, f.ToolName)
}

// PayloadHash computes a SHA-256 hex digest over payload's stable
// canonical serialization: keys sorted lexicographically at every
// object level, so that payloadHash(x) == payloadHash(shuffle(x)) for
// any re-ordering of object keys (spec.md §8's canonical-JSON law).
func PayloadHash(payload map[string]any) (string, error) {
	canon, err := canonicalJSON(payload)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// NewFingerprint builds a Fingerprint, computing PayloadHash from
// payload.
func NewFingerprint(tenantID, requestID string, stepNumber int, toolName string, payload map[string]any) (Fingerprint, error) {
	hash, err := PayloadHash(payload)
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{
		TenantID:    tenantID,
		RequestID:   requestID,
		StepNumber:  stepNumber,
		ToolName:    toolName,
		PayloadHash: hash,
	}, nil
}

// canonicalJSON re-encodes v with object keys sorted at every nesting
// level. encoding/json already marshals map[string]any keys in sorted
// order, but nested values decoded as map[string]any inherit that only
// one level at a time once re-marshaled recursively, so we normalize
// explicitly via canonicalValue before the final marshal to guarantee
// the property holds for arbitrarily nested documents and for inputs
// that arrive as already-decoded structures in non-map order.
func canonicalJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var decoded any
	if err := json.Unmarshal(b, &decoded); err != nil {
		return nil, err
	}
	return marshalCanonical(decoded)
}

func marshalCanonical(v any) ([]byte, error) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, err := marshalCanonical(t[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		buf = append(buf, '}')
		return buf, nil
	case []any:
		buf := []byte{'['}
		for i, e := range t {
			if i > 0 {
				buf = append(buf, ',')
			}
			eb, err := marshalCanonical(e)
			if err != nil {
				return nil, err
			}
			buf = append(buf, eb...)
		}
		buf = append(buf, ']')
		return buf, nil
	default:
		return json.Marshal(t)
	}
}
