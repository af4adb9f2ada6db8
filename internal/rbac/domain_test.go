package rbac

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoleValidate(t *testing.T) {
	level := 3
	parent := int64(1)
	valid := Role{Code: "ROLE_ADMIN", Name: "Administrator", HierarchyLevel: &level, ParentRoleID: &parent}
	require.NoError(t, valid.Validate())

	cases := []struct {
		name  string
		role  Role
		field string
	}{
		{"empty code", Role{Name: "x"}, "code"},
		{"blank code", Role{Code: "  ", Name: "x"}, "code"},
		{"empty name", Role{Code: "ROLE_X"}, "name"},
		{"long description", Role{Code: "ROLE_X", Name: "x", Description: strings.Repeat("d", MaxDescriptionLength+1)}, "description"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.role.Validate()
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.Equal(t, tc.field, verr.Field)
		})
	}

	deep := MaxHierarchyLevel + 1
	role := Role{Code: "ROLE_X", Name: "x", HierarchyLevel: &deep}
	var verr *ValidationError
	require.ErrorAs(t, role.Validate(), &verr)
	require.Equal(t, "hierarchy_level", verr.Field)

	negative := int64(-1)
	role = Role{Code: "ROLE_X", Name: "x", ParentRoleID: &negative}
	require.ErrorAs(t, role.Validate(), &verr)
	require.Equal(t, "parent_role_id", verr.Field)
}

func TestPermissionValidate(t *testing.T) {
	require.NoError(t, Permission{Code: "PERMISSION_USER_EDIT", Name: "Edit users"}.Validate())

	bad := []string{"", "permission_user_edit", "PERMISSION_", "ROLE_ADMIN", "PERMISSION_user"}
	for _, code := range bad {
		err := Permission{Code: code, Name: "x"}.Validate()
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, "code %q", code)
		require.Equal(t, "code", verr.Field)
	}

	err := Permission{Code: "PERMISSION_X", Name: " "}.Validate()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "name", verr.Field)
}
