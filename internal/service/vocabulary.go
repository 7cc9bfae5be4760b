package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"landrec-import/internal/domain"
	"landrec-import/internal/store"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// VocabularyProvider hands out the current read-only vocabulary snapshot.
// The validator always receives a snapshot loaded once per staging run, so
// one run sees exactly one vocabulary version.
type VocabularyProvider interface {
	Snapshot(ctx context.Context) (*domain.VocabularySnapshot, error)
}

const vocabCacheKey = "vocab:snapshot"

// VocabularyClient fetches snapshots from the vocabulary service over HTTP
// and caches them in the KV with a TTL.
type VocabularyClient struct {
	httpClient *resty.Client
	kv         store.KV
	cacheTTL   time.Duration
	logger     *zap.Logger
}

func NewVocabularyClient(baseURL, token string, kv store.KV, cacheTTL time.Duration, logger *zap.Logger) *VocabularyClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &VocabularyClient{httpClient: client, kv: kv, cacheTTL: cacheTTL, logger: logger}
}

func (c *VocabularyClient) Snapshot(ctx context.Context) (*domain.VocabularySnapshot, error) {
	if c.kv != nil {
		if cached, err := c.kv.Get(ctx, vocabCacheKey); err == nil {
			var snap domain.VocabularySnapshot
			if err := json.Unmarshal([]byte(cached), &snap); err == nil {
				return &snap, nil
			}
			// corrupt cache entry, drop it and refetch
			_ = c.kv.Delete(ctx, vocabCacheKey)
		}
	}

	var snap domain.VocabularySnapshot
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&snap).
		Get("/vocab/api/v1/snapshot")
	if err != nil {
		return nil, fmt.Errorf("fetch vocabulary snapshot: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("vocabulary service returned %d", resp.StatusCode())
	}
	snap.FetchedAt = time.Now().UTC()

	if c.kv != nil {
		if raw, err := json.Marshal(&snap); err == nil {
			if err := c.kv.Set(ctx, vocabCacheKey, string(raw), c.cacheTTL); err != nil {
				c.logger.Warn("vocabulary cache write failed", zap.Error(err))
			}
		}
	}
	return &snap, nil
}

// StaticVocabulary serves a fixed snapshot. Tests and DB-less dev runs.
type StaticVocabulary struct {
	Snap *domain.VocabularySnapshot
}

func (s *StaticVocabulary) Snapshot(context.Context) (*domain.VocabularySnapshot, error) {
	if s.Snap == nil {
		return nil, fmt.Errorf("no vocabulary loaded")
	}
	return s.Snap, nil
}
