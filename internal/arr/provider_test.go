// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package arr

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/sanitarr/internal/database"
	"github.com/autobrr/sanitarr/internal/models"
)

func newProviderFixture(t *testing.T, handler http.HandlerFunc) (*Provider, *models.InstanceStore, *models.Instance) {
	t.Helper()

	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := models.NewInstanceStore(db, []byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	instance, err := store.Create(context.Background(), models.InstanceTypeSonarr, "sonarr", srv.URL, "secret-key", true, 30)
	require.NoError(t, err)

	return NewProvider(store, "sanitarr-test"), store, instance
}

func TestProviderTestRecordsStatus(t *testing.T) {
	t.Parallel()

	provider, store, instance := newProviderFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret-key", r.Header.Get("X-Api-Key"), "provider must decrypt the stored key")
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, provider.Test(context.Background(), instance))

	instance, err := store.Get(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, "ok", instance.LastTestStatus)
	assert.NotNil(t, instance.LastTestAt)
}

func TestProviderTestFailureRecorded(t *testing.T) {
	t.Parallel()

	provider, store, instance := newProviderFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	err := provider.Test(context.Background(), instance)
	assert.ErrorIs(t, err, ErrUnauthorized)

	instance, getErr := store.Get(context.Background(), instance.ID)
	require.NoError(t, getErr)
	assert.Equal(t, "failed", instance.LastTestStatus)
	require.NotNil(t, instance.LastTestError)
}

func TestProviderChangeCategoryRequiresTorrent(t *testing.T) {
	t.Parallel()

	provider, _, instance := newProviderFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	err := provider.ChangeCategory(context.Background(), instance, QueueItem{Protocol: ProtocolUsenet}, "cleaned")
	assert.Error(t, err)
}

func TestProviderChangeCategoryRequiresDownloadClient(t *testing.T) {
	t.Parallel()

	provider, _, instance := newProviderFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	err := provider.ChangeCategory(context.Background(), instance, QueueItem{Protocol: ProtocolTorrent, DownloadID: "HASH"}, "cleaned")
	assert.ErrorIs(t, err, ErrNoDownloadClient)
}
