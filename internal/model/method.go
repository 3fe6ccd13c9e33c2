// Package model defines the method identity and call record types.
package model

import (
	"fmt"
	"regexp"
)

// Length bounds shared with the persistence schema.
const (
	MaxGemNameLen     = 50
	MaxGemVersionLen  = 50
	MaxClassFQNLen    = 200
	MaxMethodNameLen  = 100
	MaxLocationLength = 1000
)

// GemInfo identifies the library a class was loaded from.
type GemInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// IsZero reports whether g is the empty gem, which stands for local or unknown code.
func (g GemInfo) IsZero() bool {
	return g.Name == "" && g.Version == ""
}

func (g GemInfo) String() string {
	return g.Name + "-" + g.Version
}

// Validate checks the length bounds.
func (g GemInfo) Validate() error {
	if len(g.Name) > MaxGemNameLen {
		return fmt.Errorf("gem name too long (%d > %d)", len(g.Name), MaxGemNameLen)
	}
	if len(g.Version) > MaxGemVersionLen {
		return fmt.Errorf("gem version too long (%d > %d)", len(g.Version), MaxGemVersionLen)
	}
	return nil
}

// GemOrNil returns nil for the empty gem.
func GemOrNil(name, version string) *GemInfo {
	g := GemInfo{Name: name, Version: version}
	if g.IsZero() {
		return nil
	}
	return &g
}

var gemPathRegex = regexp.MustCompile(`([A-Za-z0-9_-]+)-(\d+[0-9A-Za-z.]+)`)

// GemFromPath extracts the gem from an installation path such as
// ".../gems/rake-12.3.1/lib/rake.rb". The last match wins. Returns nil when the
// path does not look like a gem path.
func GemFromPath(path string) *GemInfo {
	matches := gemPathRegex.FindAllStringSubmatch(path, -1)
	if len(matches) == 0 {
		return nil
	}
	m := matches[len(matches)-1]
	return &GemInfo{Name: m[1], Version: m[2]}
}

// ClassInfo is a fully qualified class or module name plus its origin.
type ClassInfo struct {
	Gem *GemInfo `json:"gem,omitempty"`
	FQN string   `json:"fqn"`
}

// GemOrZero returns the class gem, or the empty gem when absent.
func (c ClassInfo) GemOrZero() GemInfo {
	if c.Gem == nil {
		return GemInfo{}
	}
	return *c.Gem
}

// Validate checks the length bounds.
func (c ClassInfo) Validate() error {
	if len(c.FQN) > MaxClassFQNLen {
		return fmt.Errorf("class fqn too long (%d > %d)", len(c.FQN), MaxClassFQNLen)
	}
	if c.Gem != nil {
		return c.Gem.Validate()
	}
	return nil
}

// Visibility of a method.
type Visibility uint8

const (
	Private Visibility = iota
	Protected
	Public
)

var visibilityNames = [...]string{"PRIVATE", "PROTECTED", "PUBLIC"}

func (v Visibility) String() string {
	if int(v) < len(visibilityNames) {
		return visibilityNames[v]
	}
	return fmt.Sprintf("Visibility(%d)", uint8(v))
}

// ParseVisibility parses the upper-case visibility name.
func ParseVisibility(s string) (Visibility, error) {
	for i, n := range visibilityNames {
		if n == s {
			return Visibility(i), nil
		}
	}
	return 0, fmt.Errorf("unknown visibility %q", s)
}

// Location is the source position of a method definition.
type Location struct {
	Path   string `json:"path"`
	LineNo int    `json:"lineno"`
}

// MethodInfo identifies a method. Two MethodInfo values denote the same method
// iff their keys are equal.
type MethodInfo struct {
	Class      ClassInfo  `json:"class"`
	Name       string     `json:"name"`
	Visibility Visibility `json:"visibility"`
	Location   *Location  `json:"location,omitempty"`
}

// MethodKey is the comparable form of a MethodInfo.
type MethodKey struct {
	GemName    string
	GemVersion string
	HasGem     bool
	FQN        string
	Name       string
	Visibility Visibility
	Path       string
	LineNo     int
	HasLoc     bool
}

// Key returns the comparable identity of m.
func (m MethodInfo) Key() MethodKey {
	k := MethodKey{
		FQN:        m.Class.FQN,
		Name:       m.Name,
		Visibility: m.Visibility,
	}
	if g := m.Class.Gem; g != nil {
		k.GemName, k.GemVersion, k.HasGem = g.Name, g.Version, true
	}
	if l := m.Location; l != nil {
		k.Path, k.LineNo, k.HasLoc = l.Path, l.LineNo, true
	}
	return k
}

// Method rebuilds the MethodInfo a key was taken from.
func (k MethodKey) Method() MethodInfo {
	m := MethodInfo{
		Class:      ClassInfo{FQN: k.FQN},
		Name:       k.Name,
		Visibility: k.Visibility,
	}
	if k.HasGem {
		m.Class.Gem = &GemInfo{Name: k.GemName, Version: k.GemVersion}
	}
	if k.HasLoc {
		m.Location = &Location{Path: k.Path, LineNo: k.LineNo}
	}
	return m
}

// Equal reports whether m and o denote the same method.
func (m MethodInfo) Equal(o MethodInfo) bool {
	return m.Key() == o.Key()
}

func (m MethodInfo) String() string {
	s := m.Class.FQN + "#" + m.Name
	if m.Class.Gem != nil {
		s = m.Class.Gem.String() + ":" + s
	}
	if m.Location != nil {
		s += fmt.Sprintf(" (%s:%d)", m.Location.Path, m.Location.LineNo)
	}
	return s
}

// Validate checks the length bounds.
func (m MethodInfo) Validate() error {
	if len(m.Name) > MaxMethodNameLen {
		return fmt.Errorf("method name too long (%d > %d)", len(m.Name), MaxMethodNameLen)
	}
	if m.Location != nil && len(m.Location.Path) > MaxLocationLength {
		return fmt.Errorf("location path too long (%d > %d)", len(m.Location.Path), MaxLocationLength)
	}
	return m.Class.Validate()
}
