package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/pdftest"
)

func stores(t *testing.T) map[string]ObjectStore {
	local, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	return map[string]ObjectStore{"memory": NewMemory(), "local": local}
}

func TestObjectStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			batch, err := st.CreateFolderIfNotExists(ctx, "", "2024-03-01-BATCH-0000156")
			require.NoError(t, err)
			again, err := st.CreateFolderIfNotExists(ctx, "", "2024-03-01-BATCH-0000156")
			require.NoError(t, err)
			assert.Equal(t, batch, again)

			sub, err := st.CreateFolderIfNotExists(ctx, batch, "Batch 0000156-A")
			require.NoError(t, err)

			pdf := pdftest.Pages(1)
			meta, err := st.UploadFile(ctx, sub, "0000156-A-1.pdf", pdf)
			require.NoError(t, err)
			assert.Equal(t, "0000156-A-1.pdf", meta.Name)
			assert.Equal(t, int64(len(pdf)), meta.Size)
			assert.Equal(t, "application/pdf", meta.ContentType)

			got, err := st.Download(ctx, meta.Location)
			require.NoError(t, err)
			assert.Equal(t, pdf, got)

			items, err := st.ListChildren(ctx, batch)
			require.NoError(t, err)
			require.Len(t, items, 1)
			assert.True(t, items[0].Folder)
			assert.Equal(t, "Batch 0000156-A", items[0].Name)

			items, err = st.ListChildren(ctx, sub)
			require.NoError(t, err)
			require.Len(t, items, 1)
			assert.False(t, items[0].Folder)
			assert.Equal(t, meta.Location, items[0].Location)

			_, err = st.Download(ctx, meta.Location+".missing")
			assert.ErrorIs(t, err, ErrNotFound)

			_, err = st.UploadFile(ctx, sub, "../escape.pdf", pdf)
			assert.Error(t, err)
		})
	}
}

func TestMemoryRequiresParent(t *testing.T) {
	m := NewMemory()
	_, err := m.CreateFolderIfNotExists(context.Background(), "missing", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalRejectsPathsOutsideRoot(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	_, err = l.Download(context.Background(), "file:///etc/passwd")
	assert.Error(t, err)
}

func TestEncryptionRoundTrip(t *testing.T) {
	plain := []byte("%PDF-1.4 check image")
	enc, err := encryptGCM(plain, "s3cret")
	require.NoError(t, err)
	assert.True(t, isEncrypted(enc))
	assert.NotEqual(t, plain, enc)

	dec, err := decryptGCM(enc, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, plain, dec)

	_, err = decryptGCM(enc, "wrong")
	assert.Error(t, err)
	_, err = decryptGCM([]byte(gcmMagic), "s3cret")
	assert.Error(t, err)
}

func TestS3KeyLayout(t *testing.T) {
	s := &S3Store{bucket: "checks", prefix: "prod"}
	assert.Equal(t, "prod/a/b.pdf", s.key("a/b.pdf"))
	assert.Equal(t, "prod/a/", s.folderPrefix("a"))
	assert.Equal(t, "s3://checks/prod/a/b.pdf", s.location("a/b.pdf"))

	bare := &S3Store{bucket: "checks"}
	assert.Equal(t, "", bare.folderPrefix(""))
	assert.Equal(t, "a/", bare.folderPrefix("a"))
}
