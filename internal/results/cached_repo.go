package results

import (
	"context"
	"encoding/json"

	"github.com/coocood/freecache"
	log "github.com/sirupsen/logrus"
)

const (
	megabyte          = 1024 * 1024
	resultCacheSize   = 8 * megabyte
	resultCacheTTLSec = 60 * 60
)

// CachedRepo serves Get from an in-process cache. Results are written once
// per session, so a Save simply replaces the cached entry.
type CachedRepo struct {
	Repo
	cache *freecache.Cache
}

func NewCachedRepo(repo Repo) *CachedRepo {
	return &CachedRepo{
		Repo:  repo,
		cache: freecache.NewCache(resultCacheSize),
	}
}

func (c *CachedRepo) Save(ctx context.Context, r *Result) error {
	if err := c.Repo.Save(ctx, r); err != nil {
		return err
	}
	c.set(r)
	return nil
}

func (c *CachedRepo) Get(ctx context.Context, sessionID string) (*Result, error) {
	if data, err := c.cache.Get([]byte(sessionID)); err == nil {
		var r Result
		if err := json.Unmarshal(data, &r); err == nil {
			log.Tracef("found result for session %s in cache", sessionID)
			return &r, nil
		} else {
			log.Errorf("failed to unmarshal cached result for session %s: %s", sessionID, err)
		}
	}

	r, err := c.Repo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	c.set(r)
	return r, nil
}

func (c *CachedRepo) set(r *Result) {
	data, err := json.Marshal(r)
	if err != nil {
		log.Errorf("failed to marshal result for session %s: %s", r.SessionID, err)
		return
	}
	if err := c.cache.Set([]byte(r.SessionID), data, resultCacheTTLSec); err != nil {
		log.Errorf("failed to cache result for session %s: %s", r.SessionID, err)
	}
}
