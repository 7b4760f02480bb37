package client

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-expense-approvals/internal/platform/errors"
)

func TestAttachmentStore(t *testing.T) {
	ctx := context.Background()
	base := filepath.Join(t.TempDir(), "uploads")

	store, err := NewAttachmentStore(ctx, base, "/uploads/")
	require.NoError(t, err)

	p1, err := store.Save(ctx, "bill-1", "b.png", strings.NewReader("second"))
	require.NoError(t, err)
	assert.Equal(t, "/uploads/bills/bill-1/b.png", p1)
	_, err = store.Save(ctx, "bill-1", "a.jpg", strings.NewReader("first"))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(base, "bills", "bill-1", "b.png"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	paths, err := store.List(ctx, "bill-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"/uploads/bills/bill-1/a.jpg", "/uploads/bills/bill-1/b.png"}, paths)

	require.NoError(t, store.DeleteAll(ctx, "bill-1"))
	_, err = os.Stat(filepath.Join(base, "bills", "bill-1"))
	assert.True(t, os.IsNotExist(err))

	paths, err = store.List(ctx, "bill-1")
	require.NoError(t, err)
	assert.Empty(t, paths)

	assert.NoError(t, store.DeleteAll(ctx, "never-existed"))
}

func TestAttachmentStore_rejectsTraversal(t *testing.T) {
	ctx := context.Background()
	store, err := NewAttachmentStore(ctx, t.TempDir(), "/uploads")
	require.NoError(t, err)

	_, err = store.Save(ctx, "..", "x.png", strings.NewReader("x"))
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
	_, err = store.Save(ctx, "bill", "../x.png", strings.NewReader("x"))
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
	assert.True(t, errors.Is(store.DeleteAll(ctx, "a/b"), errors.ErrCodeInvalidInput))
}
