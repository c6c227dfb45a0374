package session

import "github.com/trezcool/ieltstutor/core/persona"

// Identity is either a base persona or an admin impersonating another persona.
// The impersonating variant can only be built from an admin base.
type Identity struct {
	base   persona.Key
	target persona.Key // empty unless impersonating
}

// Base returns the non-impersonating identity for k. Unknown keys become persona.Default.
func Base(k persona.Key) Identity {
	if !k.Valid() {
		k = persona.Default
	}
	return Identity{base: k}
}

// Base returns the underlying persona.
func (id Identity) Base() persona.Key {
	if !id.base.Valid() {
		return persona.Default
	}
	return id.base
}

// Target returns the impersonated persona, if any.
func (id Identity) Target() (persona.Key, bool) {
	if id.target == "" {
		return "", false
	}
	return id.target, true
}

func (id Identity) IsImpersonating() bool { return id.target != "" }

// Acting returns the persona requests should act as.
func (id Identity) Acting() persona.Key {
	if id.target != "" {
		return id.target
	}
	return id.Base()
}

// Impersonate overlays target on an admin base. Targeting admin drops the overlay.
// It returns false, and id unchanged, when the base is not admin or target is unknown.
func (id Identity) Impersonate(target persona.Key) (Identity, bool) {
	if id.Base() != persona.Admin || !target.Valid() {
		return id, false
	}
	if target == persona.Admin {
		return Base(persona.Admin), true
	}
	return Identity{base: persona.Admin, target: target}, true
}

// StopImpersonating drops the overlay.
func (id Identity) StopImpersonating() Identity {
	return Base(id.Base())
}
