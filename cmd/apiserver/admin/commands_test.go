package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"friends-go/internal/auth"
	"friends-go/internal/config"
	"friends-go/internal/models"
	"friends-go/internal/testutil"
)

func runAdmin(t *testing.T, env *adminEnv, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp(env)
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"admin"}, args...))
	return out.String(), err
}

func TestAdminShowListDelete(t *testing.T) {
	repo := testutil.SetupTestRepository(t)
	env := &adminEnv{repo: repo, blacklist: auth.NewMemoryBlacklist()}
	a, b := uuid.New(), uuid.New()

	out, err := runAdmin(t, env, "show", a.String(), b.String())
	require.NoError(t, err)
	assert.Contains(t, out, "没有关系记录")

	rel := models.NewRelationship(a, b, models.RelationshipStatusAccepted, time.Now().UTC())
	require.NoError(t, repo.Create(context.Background(), rel))

	out, err = runAdmin(t, env, "show", b.String(), a.String())
	require.NoError(t, err)
	assert.Contains(t, out, rel.ID.String())
	assert.Contains(t, out, "ACCEPTED")

	out, err = runAdmin(t, env, "list", a.String(), "accepted")
	require.NoError(t, err)
	assert.Contains(t, out, "(1 条)")
	assert.Contains(t, out, b.String())

	_, err = runAdmin(t, env, "list", a.String(), "FRIENDS")
	assert.Error(t, err)

	_, err = runAdmin(t, env, "delete", rel.ID.String())
	require.NoError(t, err)
	_, err = runAdmin(t, env, "delete", rel.ID.String())
	assert.ErrorContains(t, err, "不存在")

	_, err = runAdmin(t, env, "show", "not-a-uuid", b.String())
	assert.Error(t, err)
}

func TestAdminTokenAndRevoke(t *testing.T) {
	bl := auth.NewMemoryBlacklist()
	env := &adminEnv{blacklist: bl, authCfg: config.AuthConfig{JWTSecretKey: "admin-secret"}}
	userID := uuid.New()

	out, err := runAdmin(t, env, "token", "--username", "root", userID.String())
	require.NoError(t, err)
	token := string(bytes.TrimSpace([]byte(out)))
	claims, err := auth.ParseToken(token, env.authCfg)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "root", claims.Username)

	_, err = runAdmin(t, env, "revoke", token)
	require.NoError(t, err)
	_, err = auth.ValidateToken(context.Background(), token, env.authCfg, bl)
	assert.ErrorIs(t, err, auth.ErrTokenRevoked)
}
