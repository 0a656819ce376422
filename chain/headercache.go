// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightninglabs/neutrino/cache/lru"
)

// cachedHeader wraps a Header for the LRU cache.  Every entry costs one
// unit of capacity.
type cachedHeader struct {
	hdr Header
}

// Size returns the capacity cost of the entry.
func (c *cachedHeader) Size() (uint64, error) {
	return 1, nil
}

// HeaderCache memoizes header lookups against an Index.  Classifying a long
// block segment resolves the same containing-block headers repeatedly;
// since a header is immutable for its hash, cached entries can never go
// stale, even across reorganizations.
type HeaderCache struct {
	idx   Index
	cache *lru.Cache[chainhash.Hash, *cachedHeader]
}

// NewHeaderCache returns a cache over idx holding up to capacity headers.
func NewHeaderCache(capacity uint64, idx Index) *HeaderCache {
	return &HeaderCache{
		idx:   idx,
		cache: lru.NewCache[chainhash.Hash, *cachedHeader](capacity),
	}
}

// Header resolves a header by hash, consulting the cache first.
func (hc *HeaderCache) Header(ctx context.Context,
	hash chainhash.Hash) (Header, error) {

	if entry, err := hc.cache.Get(hash); err == nil {
		return entry.hdr, nil
	}

	hdr, err := hc.idx.HeaderByHash(ctx, hash)
	if err != nil {
		return Header{}, err
	}
	_, _ = hc.cache.Put(hash, &cachedHeader{hdr: hdr})
	return hdr, nil
}
