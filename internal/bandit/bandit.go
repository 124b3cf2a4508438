// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

// Package bandit orders recommendation shelves with a Thompson-sampling
// multi-armed bandit. Each shelf category is an arm with a Beta(alpha, beta)
// posterior over its click-through rate; every reorder draws one sample per
// arm and sorts shelves by it.
//
// Arm state is written to the store on every reward. Rewards are rare
// compared to page loads, so there is no batching.
package bandit

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/shelfwise/internal/kvstore"
	"github.com/tomtom215/shelfwise/internal/metrics"
)

// Collection is the store collection holding arm state.
const Collection = "bandit_arms"

var (
	// ErrInvalidReward is returned for rewards other than 0 or 1.
	ErrInvalidReward = errors.New("bandit: reward must be 0 or 1")

	// ErrUnknownImpression is returned when a click token was never issued,
	// already used, or expired.
	ErrUnknownImpression = errors.New("bandit: unknown impression token")
)

// Arm is the posterior state of one shelf category. Alpha and Beta start at
// 1 and only grow, apart from the click path undoing one impression failure.
type Arm struct {
	Alpha       float64 `json:"alpha"`
	Beta        float64 `json:"beta"`
	Impressions int     `json:"impressions"`
	Clicks      int     `json:"clicks"`
}

// Mean returns the posterior mean click-through rate.
func (a Arm) Mean() float64 {
	return a.Alpha / (a.Alpha + a.Beta)
}

func newArm() *Arm {
	return &Arm{Alpha: 1, Beta: 1}
}

// Config configures the bandit.
type Config struct {
	// Seed seeds the sampler. Zero seeds from the clock.
	Seed int64 `koanf:"seed"`

	// ImpressionTTL is how long an impression token can be paired with a click.
	ImpressionTTL time.Duration `koanf:"impression_ttl" validate:"gt=0"`

	// MinShelves is the smallest shelf count that gets reordered.
	MinShelves int `koanf:"min_shelves" validate:"min=1"`
}

// DefaultConfig returns the default bandit settings.
func DefaultConfig() Config {
	return Config{
		Seed:          0,
		ImpressionTTL: 24 * time.Hour,
		MinShelves:    3,
	}
}

type impression struct {
	key string
	at  time.Time
}

// Bandit is the shelf-ordering Thompson sampler. It is safe for concurrent use.
type Bandit struct {
	cfg    Config
	col    *kvstore.Collection
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	arms    map[string]*Arm
	pending map[string]impression
	rng     *rand.Rand
}

// New creates a bandit backed by kv. Call Load to restore persisted arms.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func New(cfg Config, kv *kvstore.Store, logger zerolog.Logger) *Bandit {
	if cfg.ImpressionTTL <= 0 {
		cfg.ImpressionTTL = 24 * time.Hour
	}
	if cfg.MinShelves <= 0 {
		cfg.MinShelves = 3
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Bandit{
		cfg:     cfg,
		col:     kv.Collection(Collection),
		logger:  logger.With().Str("component", "bandit").Logger(),
		now:     time.Now,
		arms:    make(map[string]*Arm),
		pending: make(map[string]impression),
		rng:     rand.New(rand.NewSource(seed)), //nolint:gosec // sampling is not security sensitive
	}
}

// Load restores every persisted arm. Corrupt or invalid arms are discarded.
func (b *Bandit) Load(ctx context.Context) (int, error) {
	arms := make(map[string]*Arm)
	err := b.col.Scan(ctx, func(key string, raw []byte) (bool, error) {
		var a Arm
		if err := kvstore.Decode(key, raw, &a); err != nil || a.Alpha < 1 || a.Beta < 1 {
			b.logger.Warn().Str("arm", key).Msg("discarding invalid arm state")
			return true, nil
		}
		arms[key] = &a
		return true, nil
	})
	if err != nil {
		return 0, fmt.Errorf("load arms: %w", err)
	}

	b.mu.Lock()
	b.arms = arms
	b.mu.Unlock()
	return len(arms), nil
}

// RecordReward counts one impression of key and a success (1) or failure (0).
// alpha+beta grows by exactly one.
func (b *Bandit) RecordReward(ctx context.Context, key string, reward int) error {
	if reward != 0 && reward != 1 {
		return ErrInvalidReward
	}

	b.mu.Lock()
	arm := b.armLocked(key)
	b.applyOutcomeLocked(arm, reward == 1)
	snapshot := *arm
	b.mu.Unlock()

	b.persist(ctx, key, snapshot)
	return nil
}

// RecordClick credits a click on key. It assumes an impression-only failure
// was already recorded for the same view and undoes it by lowering beta by
// one while beta is above 1. Use RecordImpression and RecordClickForImpression
// when the caller can pair views and clicks.
func (b *Bandit) RecordClick(ctx context.Context, key string) {
	b.mu.Lock()
	arm := b.armLocked(key)
	b.applyClickLocked(arm)
	snapshot := *arm
	b.mu.Unlock()

	metrics.BanditRewards.WithLabelValues("click").Inc()
	b.persist(ctx, key, snapshot)
}

// RecordImpression records a failure for key and returns a token that a
// later click can redeem exactly once.
func (b *Bandit) RecordImpression(ctx context.Context, key string) string {
	token := uuid.NewString()
	now := b.now()

	b.mu.Lock()
	arm := b.armLocked(key)
	b.applyOutcomeLocked(arm, false)
	snapshot := *arm
	b.pruneLocked(now)
	b.pending[token] = impression{key: key, at: now}
	b.mu.Unlock()

	b.persist(ctx, key, snapshot)
	return token
}

// RecordClickForImpression converts the impression behind token into a
// success. Each token is accepted once.
func (b *Bandit) RecordClickForImpression(ctx context.Context, token string) error {
	b.mu.Lock()
	b.pruneLocked(b.now())
	imp, ok := b.pending[token]
	if !ok {
		b.mu.Unlock()
		return ErrUnknownImpression
	}
	delete(b.pending, token)

	arm := b.armLocked(imp.key)
	b.applyClickLocked(arm)
	snapshot := *arm
	b.mu.Unlock()

	metrics.BanditRewards.WithLabelValues("click").Inc()
	b.persist(ctx, imp.key, snapshot)
	return nil
}

// applyOutcomeLocked counts one impression as a success or a failure.
func (b *Bandit) applyOutcomeLocked(arm *Arm, success bool) {
	arm.Impressions++
	if success {
		arm.Alpha++
		metrics.BanditRewards.WithLabelValues("success").Inc()
		return
	}
	arm.Beta++
	metrics.BanditRewards.WithLabelValues("failure").Inc()
}

func (b *Bandit) applyClickLocked(arm *Arm) {
	arm.Alpha++
	arm.Clicks++
	if arm.Beta > 1 {
		arm.Beta--
	}
}

func (b *Bandit) pruneLocked(now time.Time) {
	for token, imp := range b.pending {
		if now.Sub(imp.at) > b.cfg.ImpressionTTL {
			delete(b.pending, token)
		}
	}
}

func (b *Bandit) armLocked(key string) *Arm {
	arm, ok := b.arms[key]
	if !ok {
		arm = newArm()
		b.arms[key] = arm
	}
	return arm
}

// persist writes one arm. A failed write keeps the in-memory state.
func (b *Bandit) persist(ctx context.Context, key string, arm Arm) {
	if err := b.col.Put(ctx, key, arm); err != nil {
		b.logger.Error().Err(err).Str("arm", key).Msg("failed to persist arm state, continuing in memory")
	}
}

// Arm returns a copy of the arm for key, or a fresh prior if it has none.
func (b *Bandit) Arm(key string) Arm {
	b.mu.Lock()
	defer b.mu.Unlock()
	if arm, ok := b.arms[key]; ok {
		return *arm
	}
	return *newArm()
}

// Arms returns a copy of every arm.
func (b *Bandit) Arms() map[string]Arm {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]Arm, len(b.arms))
	for k, a := range b.arms {
		out[k] = *a
	}
	return out
}

// Sample draws one value from the posterior of key.
func (b *Bandit) Sample(key string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	arm, ok := b.arms[key]
	if !ok {
		arm = newArm()
	}
	return sampleBeta(b.rng, arm.Alpha, arm.Beta)
}

// Reset forgets every arm, in memory and in the store.
func (b *Bandit) Reset(ctx context.Context) error {
	b.mu.Lock()
	b.arms = make(map[string]*Arm)
	b.pending = make(map[string]impression)
	b.mu.Unlock()

	if err := b.col.Clear(ctx); err != nil {
		return fmt.Errorf("clear arms: %w", err)
	}
	b.logger.Info().Msg("bandit reset")
	return nil
}

// ReorderShelves returns shelves with hero shelves first in their original
// order, followed by the rest sorted by a fresh posterior sample, highest
// first. Fewer than the configured minimum shelves are returned unchanged.
// key reports each shelf's arm key and whether it is a pinned hero shelf.
func ReorderShelves[S any](b *Bandit, shelves []S, key func(*S) (string, bool)) []S {
	out := make([]S, len(shelves))
	copy(out, shelves)
	if b == nil || len(out) < b.cfg.MinShelves {
		return out
	}

	type scored struct {
		shelf  S
		sample float64
	}
	heroes := make([]S, 0, 1)
	rest := make([]scored, 0, len(out))

	b.mu.Lock()
	for i := range out {
		k, hero := key(&out[i])
		if hero {
			heroes = append(heroes, out[i])
			continue
		}
		arm, ok := b.arms[k]
		if !ok {
			arm = newArm()
		}
		rest = append(rest, scored{shelf: out[i], sample: sampleBeta(b.rng, arm.Alpha, arm.Beta)})
	}
	b.mu.Unlock()

	sort.SliceStable(rest, func(i, j int) bool { return rest[i].sample > rest[j].sample })

	out = out[:0]
	out = append(out, heroes...)
	for _, r := range rest {
		out = append(out, r.shelf)
	}
	return out
}
