// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package arr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/sanitarr/internal/models"
)

// ErrNoDownloadClient indicates an operation that needs direct download
// client access on an instance without one configured.
var ErrNoDownloadClient = errors.New("arr: no download client configured for instance")

// Provider implements the cleaner's queue provider contract on top of the
// arr HTTP API, with optional qBittorrent access for torrent detail
// (speed, stall state, seeding time) and category moves.
type Provider struct {
	instanceStore *models.InstanceStore
	userAgent     string

	mu         sync.Mutex
	clients    map[string]*Client
	qbtClients map[string]*qbt.Client
}

// NewProvider constructs a Provider backed by the instance store for
// credential lookup.
func NewProvider(instanceStore *models.InstanceStore, userAgent string) *Provider {
	return &Provider{
		instanceStore: instanceStore,
		userAgent:     userAgent,
		clients:       make(map[string]*Client),
		qbtClients:    make(map[string]*qbt.Client),
	}
}

// cacheKey changes whenever the instance row is updated, so stale clients
// built from old credentials fall out naturally.
func cacheKey(instance *models.Instance) string {
	return fmt.Sprintf("%d:%d", instance.ID, instance.UpdatedAt.UnixNano())
}

func (p *Provider) arrClient(instance *models.Instance) (*Client, error) {
	key := cacheKey(instance)

	p.mu.Lock()
	defer p.mu.Unlock()

	if client, ok := p.clients[key]; ok {
		return client, nil
	}

	apiKey, err := p.instanceStore.GetDecryptedAPIKey(instance)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt API key for instance %d: %w", instance.ID, err)
	}

	client := NewClient(Config{
		Host:      instance.BaseURL,
		APIKey:    apiKey,
		Type:      instance.Type,
		Timeout:   instance.TimeoutSeconds,
		UserAgent: p.userAgent,
	})

	// Drop stale entries for this instance id before caching the new one.
	prefix := fmt.Sprintf("%d:", instance.ID)
	for k := range p.clients {
		if strings.HasPrefix(k, prefix) {
			delete(p.clients, k)
		}
	}
	p.clients[key] = client
	return client, nil
}

func (p *Provider) qbtClient(ctx context.Context, instance *models.Instance) (*qbt.Client, error) {
	if instance.DownloadClientHost == nil || *instance.DownloadClientHost == "" {
		return nil, ErrNoDownloadClient
	}

	key := cacheKey(instance)

	p.mu.Lock()
	if client, ok := p.qbtClients[key]; ok {
		p.mu.Unlock()
		return client, nil
	}
	p.mu.Unlock()

	password, err := p.instanceStore.GetDecryptedDownloadClientPassword(instance)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt download client password for instance %d: %w", instance.ID, err)
	}

	cfg := qbt.Config{
		Host:    *instance.DownloadClientHost,
		Timeout: 30,
	}
	if instance.DownloadClientUsername != nil {
		cfg.Username = *instance.DownloadClientUsername
		cfg.Password = password
	}

	client := qbt.NewClient(cfg)
	if err := client.LoginCtx(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to download client: %w", err)
	}

	p.mu.Lock()
	prefix := fmt.Sprintf("%d:", instance.ID)
	for k := range p.qbtClients {
		if strings.HasPrefix(k, prefix) {
			delete(p.qbtClients, k)
		}
	}
	p.qbtClients[key] = client
	p.mu.Unlock()

	return client, nil
}

// ListQueue returns the current queue snapshot, enriched with torrent
// detail from the download client when one is configured.
func (p *Provider) ListQueue(ctx context.Context, instance *models.Instance) ([]QueueItem, error) {
	client, err := p.arrClient(instance)
	if err != nil {
		return nil, err
	}

	items, err := client.ListQueue(ctx)
	if err != nil {
		return nil, err
	}

	p.enrichFromDownloadClient(ctx, instance, items)
	return items, nil
}

// enrichFromDownloadClient overlays live torrent state onto queue items.
// Enrichment is best effort: a failure leaves the arr-derived fields in
// place and does not fail the snapshot.
func (p *Provider) enrichFromDownloadClient(ctx context.Context, instance *models.Instance, items []QueueItem) {
	var hashes []string
	index := make(map[string]int)
	for i := range items {
		if items[i].Protocol != ProtocolTorrent {
			continue
		}
		hash := strings.ToLower(items[i].DownloadID)
		hashes = append(hashes, hash)
		index[hash] = i
	}
	if len(hashes) == 0 {
		return
	}

	client, err := p.qbtClient(ctx, instance)
	if err != nil {
		if !errors.Is(err, ErrNoDownloadClient) {
			log.Warn().Err(err).Int("instanceID", instance.ID).Msg("arr: download client enrichment unavailable")
		}
		return
	}

	torrents, err := client.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{Hashes: hashes})
	if err != nil {
		log.Warn().Err(err).Int("instanceID", instance.ID).Msg("arr: failed to fetch torrent detail")
		return
	}

	for _, torrent := range torrents {
		i, ok := index[strings.ToLower(torrent.Hash)]
		if !ok {
			continue
		}
		items[i].DownloadRate = torrent.DlSpeed
		items[i].SeedingTime = time.Duration(torrent.SeedingTime) * time.Second
		switch torrent.State {
		case qbt.TorrentStateStalledDl, qbt.TorrentStateMetaDl:
			items[i].Stalled = true
		}
	}
}

// RemoveItem removes a queue item, optionally deleting the download from
// its client and blocklisting the release on the instance.
func (p *Provider) RemoveItem(ctx context.Context, instance *models.Instance, item QueueItem, removeFromClient, blocklist bool) error {
	client, err := p.arrClient(instance)
	if err != nil {
		return err
	}
	return client.RemoveQueueItem(ctx, item.QueueID, removeFromClient, blocklist)
}

// TriggerSearch starts a new search for the media behind a removed item.
func (p *Provider) TriggerSearch(ctx context.Context, instance *models.Instance, item QueueItem) error {
	client, err := p.arrClient(instance)
	if err != nil {
		return err
	}
	return client.TriggerSearch(ctx, item)
}

// ChangeCategory moves the torrent behind a queue item to a different
// category on the download client. Only torrent items on instances with a
// configured download client support this.
func (p *Provider) ChangeCategory(ctx context.Context, instance *models.Instance, item QueueItem, category string) error {
	if item.Protocol != ProtocolTorrent {
		return fmt.Errorf("arr: category change not supported for %s downloads", item.Protocol)
	}

	client, err := p.qbtClient(ctx, instance)
	if err != nil {
		return err
	}
	return client.SetCategoryCtx(ctx, []string{strings.ToLower(item.DownloadID)}, category)
}

// Test verifies the instance is reachable and the API key accepted, and
// records the outcome on the instance row.
func (p *Provider) Test(ctx context.Context, instance *models.Instance) error {
	client, err := p.arrClient(instance)
	if err != nil {
		return err
	}

	pingErr := client.Ping(ctx)

	status := "ok"
	var errMsg *string
	if pingErr != nil {
		status = "failed"
		msg := pingErr.Error()
		errMsg = &msg
	}
	if err := p.instanceStore.UpdateTestStatus(ctx, instance.ID, status, errMsg); err != nil {
		log.Warn().Err(err).Int("instanceID", instance.ID).Msg("arr: failed to record test status")
	}

	return pingErr
}
