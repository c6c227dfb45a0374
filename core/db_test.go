package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseOrderings(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []DBOrdering
	}{
		{name: "empty", raw: ""},
		{name: "asc", raw: "name", want: []DBOrdering{{Field: "name", Ascending: true}}},
		{
			name: "mixed", raw: " -created_at, name ",
			want: []DBOrdering{{Field: "created_at"}, {Field: "name", Ascending: true}},
		},
		{name: "unknown dropped", raw: "password_hash;drop,-email", want: []DBOrdering{{Field: "email"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseOrderings(tt.raw, "name", "email", "created_at"))
		})
	}
	assert.Equal(t, "created_at DESC", DBOrdering{Field: "created_at"}.String())
}
