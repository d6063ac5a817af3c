package members

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/platinummonkey/trellis/pkg/rbac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusOpen, StatusInvited, true},
		{StatusInvited, StatusActive, true},
		{StatusActive, StatusInactive, true},
		{StatusInactive, StatusActive, true},
		{StatusOpen, StatusActive, false},
		{StatusInvited, StatusInactive, false},
		{StatusActive, StatusInvited, false},
		{StatusInactive, StatusInvited, false},
		{StatusActive, StatusOpen, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestAuthority(t *testing.T) {
	t.Run("zero value is none", func(t *testing.T) {
		var a Authority
		assert.Equal(t, AuthorityNone, a.Kind())
		assert.True(t, a.IsEmpty())
	})

	t.Run("nil role id is none", func(t *testing.T) {
		assert.Equal(t, AuthorityNone, RoleAuthority(uuid.Nil).Kind())
	})

	t.Run("role is never empty", func(t *testing.T) {
		id := uuid.New()
		a := RoleAuthority(id)
		got, ok := a.RoleID()
		assert.True(t, ok)
		assert.Equal(t, id, got)
		assert.False(t, a.IsEmpty())
		assert.Empty(t, a.Grants())
	})

	t.Run("custom without flags is empty", func(t *testing.T) {
		a := CustomAuthority([]rbac.ModuleGrant{{Module: rbac.ModuleTasks}})
		assert.Equal(t, AuthorityCustom, a.Kind())
		assert.True(t, a.IsEmpty())
	})

	t.Run("custom with a flag", func(t *testing.T) {
		a := CustomAuthority([]rbac.ModuleGrant{{Module: rbac.ModuleTasks, Grant: rbac.Grant{View: true}}})
		assert.False(t, a.IsEmpty())
		_, ok := a.RoleID()
		assert.False(t, ok)
	})

	t.Run("grants are copied", func(t *testing.T) {
		grants := []rbac.ModuleGrant{{Module: rbac.ModuleTasks, Grant: rbac.Grant{View: true}}}
		a := CustomAuthority(grants)
		grants[0].View = false
		out := a.Grants()
		out[0].Module = rbac.ModuleBudget
		assert.True(t, a.Grants()[0].View)
		assert.Equal(t, rbac.ModuleTasks, a.Grants()[0].Module)
	})

	t.Run("empty custom set is none", func(t *testing.T) {
		assert.Equal(t, AuthorityNone, CustomAuthority(nil).Kind())
	})
}

func TestAuthority_JSON(t *testing.T) {
	roleID := uuid.New()
	tests := []struct {
		name string
		in   Authority
		json string
	}{
		{"none", NoAuthority(), `{"kind":"none"}`},
		{"role", RoleAuthority(roleID), `{"kind":"role","role_id":"` + roleID.String() + `"}`},
		{
			"custom",
			CustomAuthority([]rbac.ModuleGrant{{Module: rbac.ModuleRFIs, Grant: rbac.Grant{View: true, Create: true}}}),
			`{"kind":"custom","grants":[{"module":"rfis","view":true,"create":true,"edit":false,"delete":false}]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.in)
			require.NoError(t, err)
			assert.JSONEq(t, tt.json, string(data))

			var back Authority
			require.NoError(t, json.Unmarshal(data, &back))
			assert.Equal(t, tt.in.Kind(), back.Kind())
		})
	}

	t.Run("role without id", func(t *testing.T) {
		var a Authority
		assert.Error(t, json.Unmarshal([]byte(`{"kind":"role"}`), &a))
	})

	t.Run("unknown kind", func(t *testing.T) {
		var a Authority
		assert.Error(t, json.Unmarshal([]byte(`{"kind":"everything"}`), &a))
	})

	t.Run("missing kind is none", func(t *testing.T) {
		var a Authority
		require.NoError(t, json.Unmarshal([]byte(`{}`), &a))
		assert.Equal(t, AuthorityNone, a.Kind())
	})
}
