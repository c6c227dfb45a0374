// Package session holds the persisted record of who is signed in on a client.
package session

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/trezcool/ieltstutor/core/persona"
)

// Mode is the auth mode of a snapshot.
type Mode string

const (
	// ModeNone is never stored. Operations return it when no session was established.
	ModeNone    Mode = ""
	ModeLive    Mode = "live"
	ModePersona Mode = "persona"
)

// LiveUser is the backend user behind a live session.
type LiveUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// Snapshot is replaced as a whole on every change, never edited in place.
type Snapshot struct {
	Mode     Mode
	Token    *string
	Identity Identity
	LiveUser *LiveUser
}

// Default is the signed out snapshot.
func Default() Snapshot {
	return Snapshot{Mode: ModePersona, Identity: Base(persona.Default)}
}

// Live builds a live session snapshot.
func Live(token string, usr LiveUser) Snapshot {
	return Snapshot{Mode: ModeLive, Token: &token, Identity: Base(persona.Default), LiveUser: &usr}
}

// PersonaSession builds a signed in persona snapshot. The token is synthetic and never sent as a bearer.
func PersonaSession(k persona.Key) Snapshot {
	id := Base(k)
	token := "persona:" + id.Base().String()
	return Snapshot{Mode: ModePersona, Token: &token, Identity: id}
}

// IsAuthenticated reports whether the snapshot holds a session.
func (s Snapshot) IsAuthenticated() bool {
	return s.Token != nil && *s.Token != ""
}

// BearerToken returns the token to send as `Authorization: Bearer`. Only live sessions have one.
func (s Snapshot) BearerToken() string {
	if s.Mode != ModeLive || s.Token == nil {
		return ""
	}
	return *s.Token
}

// WithIdentity returns a copy of s with id as its identity.
func (s Snapshot) WithIdentity(id Identity) Snapshot {
	s.Identity = id
	return s
}

type personaJSON struct {
	BasePersona   string  `json:"basePersona"`
	ActingPersona *string `json:"actingPersona"`
}

type snapshotJSON struct {
	Mode     *string      `json:"mode,omitempty"`
	Token    *string      `json:"token"`
	Persona  *personaJSON `json:"persona,omitempty"`
	LiveUser *LiveUser    `json:"liveUser"`

	// legacy layout: {role, token}
	Role *string `json:"role,omitempty"`
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	mode := string(s.Mode)
	if s.Mode == ModeNone {
		mode = string(ModePersona)
	}
	p := &personaJSON{BasePersona: s.Identity.Base().String()}
	if target, ok := s.Identity.Target(); ok {
		acting := target.String()
		p.ActingPersona = &acting
	}
	return json.Marshal(snapshotJSON{
		Mode:     &mode,
		Token:    s.Token,
		Persona:  p,
		LiveUser: s.LiveUser,
	})
}

var errMalformed = errors.New("malformed session snapshot")

// Decode parses a stored snapshot.
// Legacy `{role, token}` records are read as persona sessions. A malformed record yields Default and an error
// for the caller to log; the error is never fatal.
func Decode(data []byte) (Snapshot, error) {
	var raw snapshotJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return Default(), errors.Wrap(err, "decoding session snapshot")
	}

	id := Base(persona.Default)
	if raw.Persona != nil {
		id = Base(persona.ParseOrDefault(raw.Persona.BasePersona))
		if raw.Persona.ActingPersona != nil {
			if acting, ok := persona.Parse(*raw.Persona.ActingPersona); ok {
				id, _ = id.Impersonate(acting)
			}
		}
	}

	if raw.Mode == nil {
		if raw.Persona == nil {
			// legacy layout
			var role string
			if raw.Role != nil {
				role = *raw.Role
			}
			id = Base(persona.ParseOrDefault(role))
		}
		return Snapshot{Mode: ModePersona, Token: nonEmpty(raw.Token), Identity: id}, nil
	}

	switch Mode(*raw.Mode) {
	case ModeLive:
		token := nonEmpty(raw.Token)
		if token != nil && raw.LiveUser == nil {
			return Default(), errors.Wrap(errMalformed, "live session without user")
		}
		if token == nil {
			return Default(), nil
		}
		return Snapshot{Mode: ModeLive, Token: token, Identity: Base(persona.Default), LiveUser: raw.LiveUser}, nil
	case ModePersona:
		return Snapshot{Mode: ModePersona, Token: nonEmpty(raw.Token), Identity: id}, nil
	default:
		return Default(), errors.Wrapf(errMalformed, "unknown mode %q", *raw.Mode)
	}
}

// Encode serializes s for storage.
func Encode(s Snapshot) ([]byte, error) {
	data, err := json.Marshal(s)
	return data, errors.Wrap(err, "encoding session snapshot")
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
