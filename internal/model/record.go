package model

import (
	"fmt"
	"strings"
)

// ImplicitArgType marks an argument the caller did not pass explicitly,
// e.g. an optional parameter left at its default.
const ImplicitArgType = "-"

// Modifier is the declared kind of a parameter.
type Modifier uint8

const (
	Required Modifier = iota
	Optional
	Post
	Rest
	KeywordRequired
	Keyword
	KeywordRest
	Block
)

var modifierNames = [...]string{"REQ", "OPT", "POST", "REST", "KEYREQ", "KEY", "KEYREST", "BLOCK"}

func (m Modifier) String() string {
	if int(m) < len(modifierNames) {
		return modifierNames[m]
	}
	return fmt.Sprintf("Modifier(%d)", uint8(m))
}

// Valid reports whether m is a known modifier.
func (m Modifier) Valid() bool {
	return int(m) < len(modifierNames)
}

// ParseModifier parses the short modifier names used on the wire.
func ParseModifier(s string) (Modifier, error) {
	for i, n := range modifierNames {
		if n == s {
			return Modifier(i), nil
		}
	}
	return 0, fmt.Errorf("unknown parameter modifier %q", s)
}

// IsNamed reports whether the parameter is passed by keyword.
func (m Modifier) IsNamed() bool {
	return m == KeywordRequired || m == Keyword || m == KeywordRest
}

// ParameterInfo describes one declared parameter.
type ParameterInfo struct {
	Name     string   `json:"name"`
	Modifier Modifier `json:"modifier"`
}

// SameParams reports whether two parameter lists are identical.
func SameParams(a, b []ParameterInfo) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Record is one observed call: the argument types and the return type of a
// single invocation. ArgTypes is parallel to Params.
type Record struct {
	Method     MethodInfo      `json:"method"`
	Params     []ParameterInfo `json:"params"`
	ArgTypes   []string        `json:"arg_types"`
	ReturnType string          `json:"return_type"`
}

// Arity is the number of declared parameters.
func (r Record) Arity() int {
	return len(r.Params)
}

// Validate checks that the record is internally consistent.
func (r Record) Validate() error {
	if len(r.ArgTypes) != len(r.Params) {
		return fmt.Errorf("record has %d argument types for %d parameters", len(r.ArgTypes), len(r.Params))
	}
	if r.ReturnType == "" {
		return fmt.Errorf("record has empty return type")
	}
	for i, p := range r.Params {
		if !p.Modifier.Valid() {
			return fmt.Errorf("parameter %d: invalid modifier %d", i, p.Modifier)
		}
	}
	return r.Method.Validate()
}

func (r Record) String() string {
	return fmt.Sprintf("%s(%s) -> %s", r.Method, strings.Join(r.ArgTypes, ", "), r.ReturnType)
}
