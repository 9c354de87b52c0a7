package rules

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ExecutionContext is the per-call, read-only bag of request, user and
// region data that rules are evaluated against.
type ExecutionContext struct {
	UserID          string         `json:"userId,omitempty"`
	UserProfile     map[string]any `json:"userProfile,omitempty"`
	Region          string         `json:"region"`
	Language        string         `json:"language"`
	SessionID       string         `json:"sessionId"`
	Timestamp       time.Time      `json:"timestamp"`
	RequestMetadata map[string]any `json:"requestMetadata,omitempty"`
}

// contextFields are the top-level path segments that resolve against the
// context itself. Any other first segment is looked up in requestMetadata.
var contextFields = map[string]struct{}{
	"userId":          {},
	"userProfile":     {},
	"region":          {},
	"language":        {},
	"sessionId":       {},
	"timestamp":       {},
	"requestMetadata": {},
}

// Document is an ExecutionContext encoded once as JSON so that dot-path
// lookups can be answered by gjson without reflection.
type Document struct {
	ec  ExecutionContext
	raw []byte
}

// NewDocument encodes ec for lookups
func NewDocument(ec ExecutionContext) (*Document, error) {
	raw, err := json.Marshal(ec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode execution context: %w", err)
	}
	return &Document{ec: ec, raw: raw}, nil
}

// Context returns the execution context the document was built from
func (d *Document) Context() ExecutionContext {
	return d.ec
}

// Lookup resolves a dot path such as "userProfile.age". The boolean is false
// when any segment is missing. A present JSON null yields (nil, true).
func (d *Document) Lookup(path string) (any, bool) {
	if d == nil || path == "" {
		return nil, false
	}
	segments := strings.Split(path, ".")
	if _, ok := contextFields[segments[0]]; !ok {
		segments = append([]string{"requestMetadata"}, segments...)
	}
	for i, s := range segments {
		if s == "" {
			return nil, false
		}
		segments[i] = escapeSegment(s)
	}
	res := gjson.GetBytes(d.raw, strings.Join(segments, "."))
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

// Float resolves path to a number
func (d *Document) Float(path string) (float64, bool) {
	v, ok := d.Lookup(path)
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

// String resolves path to a string
func (d *Document) String(path string) (string, bool) {
	v, ok := d.Lookup(path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// escapeSegment quotes the characters gjson treats as path syntax
func escapeSegment(s string) string {
	if !strings.ContainsAny(s, `\*?|#@!=<>%`) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(`\*?|#@!=<>%`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
