package storage_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/kayakoyan/marketplace-backend/pkg/errors"
	"github.com/kayakoyan/marketplace-backend/pkg/storage"
	"github.com/kayakoyan/marketplace-backend/pkg/storage/local"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

type brokenStore struct{ storage.Store }

func (brokenStore) Put(context.Context, string, io.Reader, string) error {
	return errors.New("bucket unavailable")
}

func TestUploadStoresUnderGeneratedName(t *testing.T) {
	store, err := local.New(t.TempDir(), "/storage")
	require.NoError(t, err)
	up := storage.NewUploader(store, 1<<20)

	obj, err := up.Upload(context.Background(), "payments/5", "receipt.PNG", bytes.NewReader(pngHeader))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(obj.Path, "payments/5/"))
	assert.True(t, strings.HasSuffix(obj.Path, ".png"))
	assert.Equal(t, "receipt.PNG", obj.Name)
	assert.Equal(t, "image/png", obj.ContentType)
	assert.Equal(t, int64(len(pngHeader)), obj.Size)
}

func TestUploadRejectsOversizedAndEmpty(t *testing.T) {
	store, err := local.New(t.TempDir(), "")
	require.NoError(t, err)
	up := storage.NewUploader(store, 4)

	_, err = up.Upload(context.Background(), "x", "a.txt", strings.NewReader("too long"))
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = up.Upload(context.Background(), "x", "a.txt", strings.NewReader(""))
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestUploadRestrictsTypes(t *testing.T) {
	store, err := local.New(t.TempDir(), "")
	require.NoError(t, err)
	up := storage.NewUploader(store, 1<<20).Accepting(storage.ImageTypes...)

	_, err = up.Upload(context.Background(), "payments/1", "notes.txt", strings.NewReader("plain text body"))
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestUploadStoreFailure(t *testing.T) {
	up := storage.NewUploader(brokenStore{}, 1<<20)
	_, err := up.Upload(context.Background(), "chat", "a.png", bytes.NewReader(pngHeader))
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeUploadFailed))
}
