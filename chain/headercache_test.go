// Copyright (c) 2024-2026 The walletmirror developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderCacheServesDetachedHeaders(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	blocks := buildChain(t, idx, 3)
	hc := NewHeaderCache(16, idx)

	want := blocks[2].Block.Header
	got, err := hc.Header(ctx, want.Hash)
	require.NoError(t, err)
	require.Equal(t, want, got)

	// Detach the block; the cached header stays resolvable and is still
	// correct, since a hash never maps to different header contents.
	require.NoError(t, idx.Reorg(1, nil))
	got, err = hc.Header(ctx, want.Hash)
	require.NoError(t, err)
	require.Equal(t, want, got)

	_, err = hc.Header(ctx, Header{}.Hash)
	require.ErrorIs(t, err, ErrHeaderNotFound)
}
