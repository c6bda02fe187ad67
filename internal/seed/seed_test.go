package seed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medgate.org/internal/auth"
	"medgate.org/internal/store/memory"
)

func TestApplyDemo(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	users, err := Apply(ctx, store, "correct", Demo)
	require.NoError(t, err)
	require.Len(t, users, len(Demo))

	rec, err := store.LookupGlobalID(ctx, "ABC-012345")
	require.NoError(t, err)
	assert.Equal(t, "admin@example.com", rec.Email)

	roles, err := store.ListRoles(ctx, rec.UserID)
	require.NoError(t, err)
	assert.True(t, roles.Has(auth.RoleSuperAdmin))

	admin, err := store.UserByEmail(ctx, "admin@example.com")
	require.NoError(t, err)
	assert.NoError(t, auth.VerifyPassword(admin.PasswordHash, "correct"))

	snap := store.Snapshot()
	assert.Equal(t, 2, snap["doctor_profiles"])
	assert.Equal(t, 1, snap["partner_profiles"])
}

func TestApplyRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	_, err := Apply(ctx, store, "pw", Demo[:1])
	require.NoError(t, err)
	_, err = Apply(ctx, store, "pw", Demo[:1])
	assert.ErrorIs(t, err, auth.ErrInvalidInput)
}

func TestApplyRequiresPassword(t *testing.T) {
	_, err := Apply(context.Background(), memory.New(), "", Demo)
	assert.Error(t, err)
}
