package models

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// CacheEntry stores one cached LLM response, addressed by a deterministic
// content hash of the request fields. Entries are immutable after
// construction; callers that need a variant build a new entry.
type CacheEntry struct {
	Model        string         `json:"model"`
	Parameters   map[string]any `json:"parameters"`
	SystemPrompt string         `json:"system_prompt"`
	UserPrompt   string         `json:"user_prompt"`
	Output       string         `json:"output"`
	Iteration    int            `json:"iteration"`
	Timestamp    int64          `json:"timestamp"`
	Service      string         `json:"service,omitempty"`
}

// NewCacheEntry builds a validated CacheEntry. A nil parameters map becomes
// an empty map, the timestamp defaults to the current time, and the
// parameters map is copied so later caller mutations cannot leak in.
func NewCacheEntry(model string, parameters map[string]any, systemPrompt, userPrompt, output string, iteration int, service string) (*CacheEntry, error) {
	e := &CacheEntry{
		Model:        model,
		Parameters:   copyParameters(parameters),
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Output:       output,
		Iteration:    iteration,
		Timestamp:    time.Now().Unix(),
		Service:      service,
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Validate checks that the entry satisfies the cache entry shape.
func (e *CacheEntry) Validate() error {
	if e == nil {
		return &ValidationError{Reason: "entry is nil"}
	}
	if _, err := CanonicalParameters(e.Parameters); err != nil {
		return err
	}
	return nil
}

// Key returns the deterministic cache key for this entry.
func (e *CacheEntry) Key() string {
	key, _ := GenKey(e.Model, e.Parameters, e.SystemPrompt, e.UserPrompt, e.Iteration)
	return key
}

// GenKey derives the cache key for a request: the MD5 hex digest of the
// model, the canonical JSON encoding of the parameters, both prompts, and
// the iteration. Identical logical requests yield identical keys no matter
// how the parameters map was built.
func GenKey(model string, parameters map[string]any, systemPrompt, userPrompt string, iteration int) (string, error) {
	params, err := CanonicalParameters(parameters)
	if err != nil {
		return "", err
	}
	sum := md5.Sum([]byte(model + params + systemPrompt + userPrompt + strconv.Itoa(iteration)))
	return hex.EncodeToString(sum[:]), nil
}

// CanonicalParameters returns the canonical JSON encoding of a parameters
// map. encoding/json writes map keys in sorted order at every nesting
// level, so the result is independent of insertion order.
func CanonicalParameters(parameters map[string]any) (string, error) {
	if parameters == nil {
		parameters = map[string]any{}
	}
	encoded, err := json.Marshal(parameters)
	if err != nil {
		return "", &ValidationError{Field: "parameters", Reason: fmt.Sprintf("not JSON-encodable: %v", err)}
	}
	return string(encoded), nil
}

// Equal reports content equality ignoring Timestamp: two entries are the
// same cached response regardless of when they were produced.
func (e *CacheEntry) Equal(other *CacheEntry) bool {
	if e == nil || other == nil {
		return e == other
	}
	if e.Model != other.Model ||
		e.SystemPrompt != other.SystemPrompt ||
		e.UserPrompt != other.UserPrompt ||
		e.Output != other.Output ||
		e.Iteration != other.Iteration ||
		e.Service != other.Service {
		return false
	}
	a, errA := CanonicalParameters(e.Parameters)
	b, errB := CanonicalParameters(other.Parameters)
	if errA != nil || errB != nil {
		return false
	}
	return a == b
}

// ToMap returns the entry as a plain mapping using the wire field names.
// Service is included only when set.
func (e *CacheEntry) ToMap() map[string]any {
	m := map[string]any{
		"model":         e.Model,
		"parameters":    copyParameters(e.Parameters),
		"system_prompt": e.SystemPrompt,
		"user_prompt":   e.UserPrompt,
		"output":        e.Output,
		"iteration":     e.Iteration,
		"timestamp":     e.Timestamp,
	}
	if e.Service != "" {
		m["service"] = e.Service
	}
	return m
}

// EntryFromMap rebuilds a CacheEntry from a plain mapping, checking the
// dynamic type of every field. Model, parameters, both prompts, and output
// are required; iteration defaults to 0 and timestamp to the current time.
func EntryFromMap(m map[string]any) (*CacheEntry, error) {
	if m == nil {
		return nil, &ValidationError{Reason: "entry mapping is nil"}
	}
	model, err := stringField(m, "model", true)
	if err != nil {
		return nil, err
	}
	parameters, err := mapField(m, "parameters")
	if err != nil {
		return nil, err
	}
	systemPrompt, err := stringField(m, "system_prompt", true)
	if err != nil {
		return nil, err
	}
	userPrompt, err := stringField(m, "user_prompt", true)
	if err != nil {
		return nil, err
	}
	output, err := stringField(m, "output", true)
	if err != nil {
		return nil, err
	}
	iteration, err := intField(m, "iteration", 0)
	if err != nil {
		return nil, err
	}
	timestamp, err := intField(m, "timestamp", time.Now().Unix())
	if err != nil {
		return nil, err
	}
	service, err := stringField(m, "service", false)
	if err != nil {
		return nil, err
	}

	e := &CacheEntry{
		Model:        model,
		Parameters:   parameters,
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Output:       output,
		Iteration:    int(iteration),
		Timestamp:    timestamp,
		Service:      service,
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

func stringField(m map[string]any, field string, required bool) (string, error) {
	raw, ok := m[field]
	if !ok || raw == nil {
		if required {
			return "", &ValidationError{Field: field, Reason: "missing"}
		}
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", &ValidationError{Field: field, Reason: fmt.Sprintf("expected string, got %T", raw)}
	}
	return s, nil
}

func mapField(m map[string]any, field string) (map[string]any, error) {
	raw, ok := m[field]
	if !ok || raw == nil {
		return nil, &ValidationError{Field: field, Reason: "missing"}
	}
	params, ok := raw.(map[string]any)
	if !ok {
		return nil, &ValidationError{Field: field, Reason: fmt.Sprintf("expected mapping, got %T", raw)}
	}
	return copyParameters(params), nil
}

// intField accepts the integer encodings that reach us in practice: native
// ints, the float64 and json.Number produced by JSON decoding. Fractional
// floats are rejected rather than truncated.
func intField(m map[string]any, field string, fallback int64) (int64, error) {
	raw, ok := m[field]
	if !ok || raw == nil {
		return fallback, nil
	}
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != float64(int64(v)) {
			return 0, &ValidationError{Field: field, Reason: fmt.Sprintf("expected integer, got %v", v)}
		}
		return int64(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, &ValidationError{Field: field, Reason: fmt.Sprintf("expected integer, got %q", v.String())}
		}
		return n, nil
	default:
		return 0, &ValidationError{Field: field, Reason: fmt.Sprintf("expected integer, got %T", raw)}
	}
}

func copyParameters(parameters map[string]any) map[string]any {
	out := make(map[string]any, len(parameters))
	for k, v := range parameters {
		out[k] = v
	}
	return out
}

// CacheStats reports cache accounting for one process.
type CacheStats struct {
	Entries int64 `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}
