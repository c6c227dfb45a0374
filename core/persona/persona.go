// Package persona is the fixed registry of demo identities.
//
// Personas stand in for real accounts during development. Each key is bound
// to exactly one fixture and the registry never changes at runtime.
package persona

import (
	"sort"
	"strings"
)

// Key identifies a persona. It doubles as the persona's role.
type Key string

const (
	Admin   Key = "admin"
	Teacher Key = "teacher"
	Student Key = "student"
)

// Default is used whenever a stored persona is missing or unrecognized.
const Default = Student

// DemoPassword is shared by every persona fixture.
const DemoPassword = "Demo@12345"

// Fixture is the identity bound to a persona.
type Fixture struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

var fixtures = map[Key]Fixture{
	Admin: {
		ID:    "00000000-0000-4000-8000-000000000001",
		Name:  "Ada Admin",
		Email: "admin@ieltstutor.dev",
		Role:  string(Admin),
	},
	Teacher: {
		ID:    "00000000-0000-4000-8000-000000000002",
		Name:  "Tomas Teacher",
		Email: "teacher@ieltstutor.dev",
		Role:  string(Teacher),
	},
	Student: {
		ID:    "00000000-0000-4000-8000-000000000003",
		Name:  "Sara Student",
		Email: "student@ieltstutor.dev",
		Role:  string(Student),
	},
}

func (k Key) String() string { return string(k) }

// Valid reports whether k is a registered persona.
func (k Key) Valid() bool {
	_, ok := fixtures[k]
	return ok
}

// Fixture returns the identity bound to k, or the default persona's identity if k is not registered.
func (k Key) Fixture() Fixture {
	if f, ok := fixtures[k]; ok {
		return f
	}
	return fixtures[Default]
}

// Lookup returns the fixture bound to k.
func Lookup(k Key) (Fixture, bool) {
	f, ok := fixtures[k]
	return f, ok
}

// Parse normalizes s into a registered key.
func Parse(s string) (Key, bool) {
	k := Key(strings.ToLower(strings.TrimSpace(s)))
	return k, k.Valid()
}

// ParseOrDefault is Parse falling back to Default.
func ParseOrDefault(s string) Key {
	if k, ok := Parse(s); ok {
		return k
	}
	return Default
}

// ByEmail finds the persona whose fixture uses email (case-insensitive).
func ByEmail(email string) (Key, bool) {
	email = strings.ToLower(strings.TrimSpace(email))
	for k, f := range fixtures {
		if f.Email == email {
			return k, true
		}
	}
	return "", false
}

// MatchCredentials returns the persona whose fixture email matches and whose demo password was supplied.
func MatchCredentials(email, password string) (Key, bool) {
	if password != DemoPassword {
		return "", false
	}
	return ByEmail(email)
}

// Keys returns all registered keys, sorted.
func Keys() []Key {
	keys := make([]Key, 0, len(fixtures))
	for k := range fixtures {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
