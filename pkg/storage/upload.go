package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	pkgerrors "github.com/kayakoyan/marketplace-backend/pkg/errors"
)

// Uploader validates and stores user uploads under generated names.
type Uploader struct {
	store    Store
	maxBytes int64
	allowed  []string
}

// NewUploader limits uploads to maxBytes. allowed narrows accepted MIME
// types; empty accepts anything.
func NewUploader(store Store, maxBytes int64, allowed ...string) *Uploader {
	return &Uploader{store: store, maxBytes: maxBytes, allowed: allowed}
}

// Accepting returns a copy of the uploader restricted to the given MIME types.
func (u *Uploader) Accepting(allowed ...string) *Uploader {
	return &Uploader{store: u.store, maxBytes: u.maxBytes, allowed: allowed}
}

func (u *Uploader) Store() Store {
	return u.store
}

// Upload writes body under dir and returns where it went. The client file
// name is kept only as a display name.
func (u *Uploader) Upload(ctx context.Context, dir, originalName string, body io.Reader) (Object, error) {
	limit := u.maxBytes
	if limit <= 0 {
		limit = 20 << 20
	}
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return Object{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unable to read upload")
	}
	if len(data) == 0 {
		return Object{}, pkgerrors.New(pkgerrors.CodeValidation, "file is empty")
	}
	if int64(len(data)) > limit {
		return Object{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("file exceeds %d bytes", limit))
	}

	mt := mimetype.Detect(data)
	if !u.accepts(mt) {
		return Object{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("file type %s is not allowed", mt.String()))
	}

	ext := strings.ToLower(filepath.Ext(originalName))
	if ext == "" {
		ext = mt.Extension()
	}
	key := path.Join(strings.Trim(dir, "/"), uuid.NewString()+ext)
	if err := u.store.Put(ctx, key, bytes.NewReader(data), mt.String()); err != nil {
		return Object{}, pkgerrors.Wrap(pkgerrors.CodeUploadFailed, err, "file upload failed")
	}

	name := filepath.Base(strings.TrimSpace(originalName))
	if name == "." || name == "/" || name == "" {
		name = path.Base(key)
	}
	return Object{Path: key, Name: name, ContentType: mt.String(), Size: int64(len(data))}, nil
}

func (u *Uploader) accepts(mt *mimetype.MIME) bool {
	if len(u.allowed) == 0 {
		return true
	}
	return mimetype.EqualsAny(mt.String(), u.allowed...) || hasParentIn(mt, u.allowed)
}

func hasParentIn(mt *mimetype.MIME, allowed []string) bool {
	for p := mt.Parent(); p != nil; p = p.Parent() {
		if mimetype.EqualsAny(p.String(), allowed...) {
			return true
		}
	}
	return false
}

// ImageTypes are accepted for payment proofs.
var ImageTypes = []string{"image/jpeg", "image/png", "image/webp", "image/gif", "application/pdf"}
