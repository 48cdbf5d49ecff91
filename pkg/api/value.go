package api

import (
	"encoding/gob"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/tidwall/gjson"
)

func init() {
	gob.Register(DocumentRef{})
	gob.Register(time.Time{})
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register([]DocumentRef{})
}

// ValueKind is the declared type of a route or node variable.
type ValueKind string

const (
	KindString   ValueKind = "string"
	KindNumber   ValueKind = "number"
	KindBoolean  ValueKind = "boolean"
	KindDate     ValueKind = "date"
	KindDocument ValueKind = "document"
)

var (
	// ErrUnknownKind is returned for a ValueKind outside the supported set.
	ErrUnknownKind = errors.New("unknown value kind")

	// ErrValueKindMismatch is returned when a value cannot be coerced to the
	// declared kind of its variable.
	ErrValueKindMismatch = errors.New("value does not match declared kind")

	// ErrUndeclaredVariable is returned when writing a name that was never
	// declared in a scope.
	ErrUndeclaredVariable = errors.New("undeclared variable")
)

// Valid reports whether k is one of the supported kinds.
func (k ValueKind) Valid() bool {
	switch k {
	case KindString, KindNumber, KindBoolean, KindDate, KindDocument:
		return true
	default:
		return false
	}
}

// DocumentRef points at a document in the host document store. Routes carry
// their subject documents as references; the engine never loads them.
type DocumentRef struct {
	Repository string `json:"repository,omitempty" yaml:"repository,omitempty" bson:"repository,omitempty"`
	ID         string `json:"id" yaml:"id" bson:"id"`
}

func (d DocumentRef) String() string {
	if d.Repository == "" {
		return d.ID
	}
	return d.Repository + ":" + d.ID
}

// Variables is a flat name to value mapping exchanged with collaborators.
type Variables map[string]any

// Clone returns a shallow copy of v.
func (v Variables) Clone() Variables {
	out := make(Variables, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Coerce converts v to the canonical Go representation of kind:
//
//	string   -> string
//	number   -> float64
//	boolean  -> bool
//	date     -> time.Time (RFC 3339 strings are parsed)
//	document -> DocumentRef (maps with "id"/"repository" and JSON objects are accepted)
//
// A nil value is kept as nil for every kind.
func Coerce(kind ValueKind, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch kind {
	case KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case KindNumber:
		if f, ok := toFloat(v); ok {
			return f, nil
		}
	case KindBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case KindDate:
		switch t := v.(type) {
		case time.Time:
			return t, nil
		case string:
			parsed, err := time.Parse(time.RFC3339, t)
			if err == nil {
				return parsed, nil
			}
		}
	case KindDocument:
		switch d := v.(type) {
		case DocumentRef:
			return d, nil
		case *DocumentRef:
			if d != nil {
				return *d, nil
			}
		case map[string]any:
			if ref, ok := docRefFromMap(d); ok {
				return ref, nil
			}
		case string:
			if gjson.Valid(d) {
				res := gjson.Parse(d)
				if res.IsObject() && res.Get("id").Exists() {
					return DocumentRef{
						Repository: res.Get("repository").String(),
						ID:         res.Get("id").String(),
					}, nil
				}
			}
			if d != "" {
				return DocumentRef{ID: d}, nil
			}
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return nil, fmt.Errorf("%w: %s expected, got %T", ErrValueKindMismatch, kind, v)
}

// ParseValue decodes a JSON literal (as found in model files) into the
// canonical representation of kind. An empty literal yields nil.
func ParseValue(kind ValueKind, literal string) (any, error) {
	if literal == "" {
		return nil, nil
	}
	if !gjson.Valid(literal) {
		if kind == KindString || kind == KindDate {
			return Coerce(kind, literal)
		}
		return nil, fmt.Errorf("invalid JSON literal %q", literal)
	}
	return Coerce(kind, gjson.Parse(literal).Value())
}

// ValuesEqual compares two canonical variable values.
func ValuesEqual(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func docRefFromMap(m map[string]any) (DocumentRef, bool) {
	id, ok := m["id"].(string)
	if !ok || id == "" {
		return DocumentRef{}, false
	}
	repo, _ := m["repository"].(string)
	return DocumentRef{Repository: repo, ID: id}, true
}

// VariableScope is one of the two variable namespaces of a route: the
// graph-level scope or a node-level scope. Only declared names can hold
// values; Set on an unknown name fails.
type VariableScope struct {
	Kinds  map[string]ValueKind
	Values map[string]any
}

// NewVariableScope returns an empty scope.
func NewVariableScope() VariableScope {
	return VariableScope{
		Kinds:  make(map[string]ValueKind),
		Values: make(map[string]any),
	}
}

// Declare adds name with the given kind and initial value.
func (s *VariableScope) Declare(name string, kind ValueKind, value any) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	v, err := Coerce(kind, value)
	if err != nil {
		return fmt.Errorf("variable %q: %w", name, err)
	}
	if s.Kinds == nil {
		s.Kinds = make(map[string]ValueKind)
	}
	if s.Values == nil {
		s.Values = make(map[string]any)
	}
	s.Kinds[name] = kind
	s.Values[name] = v
	return nil
}

// Has reports whether name is declared in the scope.
func (s VariableScope) Has(name string) bool {
	_, ok := s.Kinds[name]
	return ok
}

// Get returns the value of name and whether it is declared.
func (s VariableScope) Get(name string) (any, bool) {
	if !s.Has(name) {
		return nil, false
	}
	return s.Values[name], true
}

// Kind returns the declared kind of name.
func (s VariableScope) Kind(name string) (ValueKind, bool) {
	k, ok := s.Kinds[name]
	return k, ok
}

// Set coerces value to the declared kind and stores it. It reports whether
// the stored value changed.
func (s *VariableScope) Set(name string, value any) (bool, error) {
	kind, ok := s.Kinds[name]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUndeclaredVariable, name)
	}
	v, err := Coerce(kind, value)
	if err != nil {
		return false, fmt.Errorf("variable %q: %w", name, err)
	}
	if ValuesEqual(s.Values[name], v) {
		return false, nil
	}
	s.Values[name] = v
	return true, nil
}

// Names returns the declared names in sorted order.
func (s VariableScope) Names() []string {
	names := make([]string, 0, len(s.Kinds))
	for name := range s.Kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of declared names.
func (s VariableScope) Len() int {
	return len(s.Kinds)
}

// Clone returns an independent copy of the scope.
func (s VariableScope) Clone() VariableScope {
	out := NewVariableScope()
	for k, kind := range s.Kinds {
		out.Kinds[k] = kind
	}
	for k, v := range s.Values {
		out.Values[k] = v
	}
	return out
}

// Snapshot returns the values as a plain Variables map.
func (s VariableScope) Snapshot() Variables {
	out := make(Variables, len(s.Kinds))
	for name := range s.Kinds {
		out[name] = s.Values[name]
	}
	return out
}
