package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Keyer derives cache keys from a source identifier and its parameters.
//
// Contract:
// - Determinism: same source and same params (same order) must produce the same key.
// - Concurrency: implementations must be safe for concurrent use.
type Keyer interface {
	Key(source string, params Params) string
}

// DefaultKeyer serializes parameters in the order given.
//
// Format: <source>:<JSON object of params>
// e.g. "media/latest:{"page":1,"type":"movie"}". Two parameter lists holding
// the same pairs in a different order yield different keys.
type DefaultKeyer struct{}

// NewDefaultKeyer creates a new default keyer.
func NewDefaultKeyer() *DefaultKeyer {
	return &DefaultKeyer{}
}

// Key generates an order-sensitive cache key.
func (k *DefaultKeyer) Key(source string, params Params) string {
	return source + ":" + string(encodeParams(params))
}

// SortedKeyer sorts parameters by name before serializing, so that logically
// identical parameter sets share one entry. It is not the default.
type SortedKeyer struct{}

// NewSortedKeyer creates a new sorted keyer.
func NewSortedKeyer() *SortedKeyer {
	return &SortedKeyer{}
}

// Key generates a cache key independent of parameter order.
func (k *SortedKeyer) Key(source string, params Params) string {
	sorted := make(Params, len(params))
	copy(sorted, params)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Key < sorted[j].Key
	})
	return source + ":" + string(encodeParams(sorted))
}

func encodeParams(params Params) []byte {
	result := []byte("{")
	for i, p := range params {
		if i > 0 {
			result = append(result, ',')
		}
		result = append(result, encodeValue(p.Key)...)
		result = append(result, ':')
		result = append(result, encodeValue(p.Value)...)
	}
	return append(result, '}')
}

// encodeValue renders unsupported values with fmt instead of failing;
// passing them is a caller contract violation.
func encodeValue(v any) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return []byte(strconv.Quote(fmt.Sprint(v)))
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}

var (
	_ Keyer = (*DefaultKeyer)(nil)
	_ Keyer = (*SortedKeyer)(nil)
)
