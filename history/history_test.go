package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-detect/common"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInsertAndRecent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	created := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	id, err := db.Insert(ctx, Record{
		CreatedAt:     created,
		Digest:        "abc",
		Format:        "jpeg",
		Width:         640,
		Height:        480,
		Threshold:     0.25,
		SavedFilename: "pred_1_1.jpg",
		Duration:      15 * time.Millisecond,
		Detections: FromDetections([]common.Detection{
			{Label: "leaf", ClassID: 1, Confidence: 0.8, X1: 1, Y1: 2, X2: 3, Y2: 4},
			{Label: "leaf", ClassID: 1, Confidence: 0.5, X1: 5, Y1: 6, X2: 7, Y2: 8},
		}),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	_, err = db.Insert(ctx, Record{Digest: "def", Format: "png", Threshold: 0.5})
	require.NoError(t, err)

	records, err := db.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "def", records[0].Digest, "newest first")
	assert.Empty(t, records[0].Detections)
	assert.NotNil(t, records[0].Detections)

	first := records[1]
	assert.Equal(t, "abc", first.Digest)
	assert.True(t, created.Equal(first.CreatedAt))
	assert.Equal(t, 640, first.Width)
	assert.Equal(t, "pred_1_1.jpg", first.SavedFilename)
	assert.Equal(t, 15*time.Millisecond, first.Duration)
	require.Len(t, first.Detections, 2)
	assert.Equal(t, Detection{Class: "leaf", ClassID: 1, Confidence: 0.8, BBox: [4]float32{1, 2, 3, 4}}, first.Detections[0])

	n, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRecentLimit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := db.Insert(ctx, Record{Digest: "x", Format: "jpeg"})
		require.NoError(t, err)
	}

	records, err := db.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, int64(5), records[0].ID)

	records, err = db.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, records, 5)
}

func TestRecentEmpty(t *testing.T) {
	records, err := newTestDB(t).Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	db, err := New(path)
	require.NoError(t, err)
	_, err = db.Insert(context.Background(), Record{Digest: "x", Format: "jpeg"})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = New(path)
	require.NoError(t, err)
	defer db.Close()

	n, err := db.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
