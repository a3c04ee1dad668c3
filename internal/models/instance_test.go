// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/sanitarr/internal/database"
	"github.com/autobrr/sanitarr/internal/models"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newInstanceStore(t *testing.T) (*database.DB, *models.InstanceStore) {
	t.Helper()

	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := models.NewInstanceStore(db, testKey)
	require.NoError(t, err)
	return db, store
}

func TestInstanceStoreRequiresValidKey(t *testing.T) {
	t.Parallel()

	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = models.NewInstanceStore(db, []byte("too short"))
	assert.Error(t, err)
}

func TestInstanceCreateAndDecrypt(t *testing.T) {
	t.Parallel()

	_, store := newInstanceStore(t)
	ctx := context.Background()

	instance, err := store.Create(ctx, models.InstanceTypeSonarr, "sonarr-main", "http://localhost:8989/", "secret-api-key", true, 30)
	require.NoError(t, err)
	assert.Positive(t, instance.ID)
	assert.Equal(t, "http://localhost:8989", instance.BaseURL, "trailing slash is stripped")
	assert.NotEqual(t, "secret-api-key", instance.APIKeyEncrypted, "api key must not be stored in plaintext")

	key, err := store.GetDecryptedAPIKey(instance)
	require.NoError(t, err)
	assert.Equal(t, "secret-api-key", key)
}

func TestInstanceDownloadClientCredentials(t *testing.T) {
	t.Parallel()

	_, store := newInstanceStore(t)
	ctx := context.Background()

	instance, err := store.Create(ctx, models.InstanceTypeRadarr, "radarr", "http://localhost:7878", "key", true, 30)
	require.NoError(t, err)

	host := "http://localhost:8080"
	user := "admin"
	pass := "hunter2"
	instance, err = store.Update(ctx, instance.ID, &models.InstanceUpdateParams{
		DownloadClientHost:     &host,
		DownloadClientUsername: &user,
		DownloadClientPassword: &pass,
	})
	require.NoError(t, err)

	require.NotNil(t, instance.DownloadClientHost)
	assert.Equal(t, host, *instance.DownloadClientHost)
	require.NotNil(t, instance.DownloadClientPasswordEncrypted)
	assert.NotEqual(t, pass, *instance.DownloadClientPasswordEncrypted)

	decrypted, err := store.GetDecryptedDownloadClientPassword(instance)
	require.NoError(t, err)
	assert.Equal(t, pass, decrypted)
}

func TestInstanceGetNotFound(t *testing.T) {
	t.Parallel()

	_, store := newInstanceStore(t)

	_, err := store.Get(context.Background(), 9999)
	assert.ErrorIs(t, err, models.ErrInstanceNotFound)
}

func TestInstanceListEnabled(t *testing.T) {
	t.Parallel()

	_, store := newInstanceStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, models.InstanceTypeSonarr, "on", "http://a", "key", true, 30)
	require.NoError(t, err)
	off, err := store.Create(ctx, models.InstanceTypeRadarr, "off", "http://b", "key", false, 30)
	require.NoError(t, err)

	enabled, err := store.ListEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "on", enabled[0].Name)

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, store.Delete(ctx, off.ID))
	all, err = store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestInstanceUpdateTestStatus(t *testing.T) {
	t.Parallel()

	_, store := newInstanceStore(t)
	ctx := context.Background()

	instance, err := store.Create(ctx, models.InstanceTypeSonarr, "sonarr", "http://a", "key", true, 30)
	require.NoError(t, err)

	errMsg := "unauthorized"
	require.NoError(t, store.UpdateTestStatus(ctx, instance.ID, "failed", &errMsg))

	instance, err = store.Get(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, "failed", instance.LastTestStatus)
	require.NotNil(t, instance.LastTestError)
	assert.Equal(t, errMsg, *instance.LastTestError)
	assert.NotNil(t, instance.LastTestAt)
}

func TestParseInstanceType(t *testing.T) {
	t.Parallel()

	for _, valid := range []string{"sonarr", "radarr", "prowlarr"} {
		parsed, err := models.ParseInstanceType(valid)
		require.NoError(t, err)
		assert.EqualValues(t, valid, parsed)
	}

	_, err := models.ParseInstanceType("lidarr")
	assert.Error(t, err)
}
