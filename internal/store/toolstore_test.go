package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"cognihub/internal/logging"
)

func TestToolStoreCapsExcerptKeepsFullHash(t *testing.T) {
	s, err := NewToolStore(filepath.Join(t.TempDir(), "tools.db"), 100, logging.Nop())
	require.NoError(t, err)
	defer s.Close()

	full := strings.Repeat("output ", 100)
	_, err = s.Record(context.Background(), ToolRun{
		ToolName: "web_search", ArgsJSON: `{"query":"x"}`, OK: true, DurationMS: 42,
	}, full)
	require.NoError(t, err)

	rows, err := s.List(context.Background(), "web_search", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Len(t, rows[0].OutputExcerpt, 100)

	sum := sha256.Sum256([]byte(full))
	require.Equal(t, hex.EncodeToString(sum[:]), rows[0].OutputSHA256,
		"hash must cover the full output, not the excerpt")
	require.Equal(t, int64(42), rows[0].DurationMS)
}

func TestToolStoreListFiltersAndOrders(t *testing.T) {
	s, err := NewToolStore(filepath.Join(t.TempDir(), "tools.db"), 1000, logging.Nop())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	for _, name := range []string{"a", "b", "a"} {
		_, err := s.Record(ctx, ToolRun{ToolName: name, ArgsJSON: "{}", OK: false}, "out")
		require.NoError(t, err)
	}

	onlyA, err := s.List(ctx, "a", 10)
	require.NoError(t, err)
	require.Len(t, onlyA, 2)

	all, err := s.List(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Greater(t, all[0].ID, all[1].ID, "newest first")
}
