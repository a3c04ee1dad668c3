// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package cleaner

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/autobrr/sanitarr/internal/models"
)

// strikeKeeper serializes strike reads-then-writes per download id so
// concurrent classification workers never lose an increment. Lock
// striping keeps the lock table bounded regardless of queue size.
type strikeKeeper struct {
	store *models.StrikeStore
	locks [64]sync.Mutex
}

func newStrikeKeeper(store *models.StrikeStore) *strikeKeeper {
	return &strikeKeeper{store: store}
}

func (k *strikeKeeper) lockFor(downloadID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(downloadID))
	return &k.locks[h.Sum32()%uint32(len(k.locks))]
}

// strike records one offense for a download and reports whether the
// updated count has reached the removal threshold. Decay is applied
// before incrementing, so a record past its decay window starts from
// zero.
func (k *strikeKeeper) strike(ctx context.Context, instanceID int, downloadID string, cfg *models.CleanerConfig, verdict *Verdict, now time.Time) (*models.StrikeRecord, bool, error) {
	mu := k.lockFor(downloadID)
	mu.Lock()
	defer mu.Unlock()

	decay := time.Duration(cfg.StrikeDecayHours) * time.Hour
	rec, err := k.store.GetOrCreate(ctx, instanceID, downloadID, decay, now)
	if err != nil {
		return nil, false, err
	}

	// Already at the threshold from a run whose removal never went through
	// (item below the minimum queue age, failed action): escalate again
	// without inflating the count.
	if rec.StrikeCount >= cfg.MaxStrikes {
		return rec, true, nil
	}

	rec, err = k.store.RecordStrike(ctx, rec, verdict.Rule, verdict.Reason, now)
	if err != nil {
		return nil, false, err
	}

	return rec, rec.StrikeCount >= cfg.MaxStrikes, nil
}

// current returns the decayed strike record without incrementing.
func (k *strikeKeeper) current(ctx context.Context, instanceID int, downloadID string, cfg *models.CleanerConfig, now time.Time) (*models.StrikeRecord, error) {
	mu := k.lockFor(downloadID)
	mu.Lock()
	defer mu.Unlock()

	decay := time.Duration(cfg.StrikeDecayHours) * time.Hour
	return k.store.GetOrCreate(ctx, instanceID, downloadID, decay, now)
}

// clear removes the record after a successful removal or when a download
// left the queue on its own.
func (k *strikeKeeper) clear(ctx context.Context, instanceID int, downloadID string) error {
	mu := k.lockFor(downloadID)
	mu.Lock()
	defer mu.Unlock()

	return k.store.Clear(ctx, instanceID, downloadID)
}
