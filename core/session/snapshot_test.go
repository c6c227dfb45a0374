package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/ieltstutor/core/persona"
)

func strPtr(s string) *string { return &s }

func TestDecode(t *testing.T) {
	adminAsTeacher, _ := Base(persona.Admin).Impersonate(persona.Teacher)

	tests := []struct {
		name    string
		data    string
		want    Snapshot
		wantErr bool
	}{
		{
			name: "legacy role and token",
			data: `{"role":"student","token":"t"}`,
			want: Snapshot{Mode: ModePersona, Token: strPtr("t"), Identity: Base(persona.Student)},
		},
		{
			name: "legacy unknown role",
			data: `{"role":"wizard","token":"t"}`,
			want: Snapshot{Mode: ModePersona, Token: strPtr("t"), Identity: Base(persona.Default)},
		},
		{
			name: "persona teacher",
			data: `{"mode":"persona","token":"persona:teacher","persona":{"basePersona":"teacher","actingPersona":null},"liveUser":null}`,
			want: Snapshot{Mode: ModePersona, Token: strPtr("persona:teacher"), Identity: Base(persona.Teacher)},
		},
		{
			name: "admin impersonating",
			data: `{"mode":"persona","token":"persona:admin","persona":{"basePersona":"admin","actingPersona":"teacher"}}`,
			want: Snapshot{Mode: ModePersona, Token: strPtr("persona:admin"), Identity: adminAsTeacher},
		},
		{
			name: "non admin acting persona dropped",
			data: `{"mode":"persona","token":"x","persona":{"basePersona":"student","actingPersona":"admin"}}`,
			want: Snapshot{Mode: ModePersona, Token: strPtr("x"), Identity: Base(persona.Student)},
		},
		{
			name: "malformed base persona",
			data: `{"mode":"persona","token":"x","persona":{"basePersona":42}}`,
			want: Default(), wantErr: true,
		},
		{
			name: "live",
			data: `{"mode":"live","token":"tok1","liveUser":{"id":"u1","email":"t@x.io","name":"T","role":"teacher"}}`,
			want: Live("tok1", LiveUser{ID: "u1", Email: "t@x.io", Name: "T", Role: "teacher"}),
		},
		{name: "live without user", data: `{"mode":"live","token":"tok1"}`, want: Default(), wantErr: true},
		{name: "live signed out", data: `{"mode":"live","token":null}`, want: Default()},
		{name: "unknown mode", data: `{"mode":"magic"}`, want: Default(), wantErr: true},
		{name: "corrupt json", data: `{"mode":`, want: Default(), wantErr: true},
		{name: "not an object", data: `[1,2,3]`, want: Default(), wantErr: true},
		{name: "null", data: `null`, want: Default()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.data))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncode(t *testing.T) {
	snap := PersonaSession(persona.Admin)
	id, ok := snap.Identity.Impersonate(persona.Student)
	require.True(t, ok)
	snap = snap.WithIdentity(id)

	data, err := Encode(snap)
	require.NoError(t, err)
	assert.JSONEq(
		t,
		`{"mode":"persona","token":"persona:admin","persona":{"basePersona":"admin","actingPersona":"student"},"liveUser":null}`,
		string(data),
	)

	back, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, snap, back)

	data, err = json.Marshal(Default())
	require.NoError(t, err)
	assert.JSONEq(t, `{"mode":"persona","token":null,"persona":{"basePersona":"student","actingPersona":null},"liveUser":null}`, string(data))
}

func TestSnapshot_BearerToken(t *testing.T) {
	assert.Equal(t, "tok1", Live("tok1", LiveUser{ID: "u1"}).BearerToken())
	assert.Empty(t, PersonaSession(persona.Teacher).BearerToken())
	assert.True(t, PersonaSession(persona.Teacher).IsAuthenticated())
	assert.False(t, Default().IsAuthenticated())
}
