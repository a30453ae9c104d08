package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"workspacestore/internal/blob"

	"github.com/google/uuid"
)

const blobPrefix = "snapshots/"

// BlobSink keeps one JSON object per document under
// snapshots/<lineage>/<zero-padded version>.json.
type BlobSink struct {
	store blob.Store
}

// NewBlobSink wraps store.
func NewBlobSink(store blob.Store) *BlobSink {
	return &BlobSink{store: store}
}

// Store returns the underlying blob store.
func (s *BlobSink) Store() blob.Store { return s.store }

func blobKey(ref Ref) string {
	return fmt.Sprintf("%s%s/%020d.json", blobPrefix, ref.Lineage, ref.Version)
}

func parseBlobKey(key string) (Ref, bool) {
	rest, ok := strings.CutPrefix(key, blobPrefix)
	if !ok {
		return Ref{}, false
	}
	lineage, file, ok := strings.Cut(rest, "/")
	if !ok {
		return Ref{}, false
	}
	id, err := uuid.Parse(lineage)
	if err != nil {
		return Ref{}, false
	}
	version, err := strconv.ParseUint(strings.TrimSuffix(file, ".json"), 10, 64)
	if err != nil || !strings.HasSuffix(file, ".json") {
		return Ref{}, false
	}
	return Ref{Lineage: id, Version: version}, true
}

func (s *BlobSink) Save(ctx context.Context, doc *Document) error {
	raw, err := marshalDocument(doc)
	if err != nil {
		return err
	}
	_, err = s.store.Put(ctx, blobKey(doc.Ref()), bytes.NewReader(raw), blob.PutOptions{
		ContentType: "application/json",
		Metadata: map[string]string{
			"lineage": doc.Lineage.String(),
			"version": strconv.FormatUint(doc.Version, 10),
		},
	})
	if errors.Is(err, blob.ErrExists) {
		return fmt.Errorf("save %s: %w", doc.Ref(), ErrExists)
	}
	return err
}

func (s *BlobSink) Load(ctx context.Context, ref Ref) (*Document, error) {
	_, rc, err := s.store.Get(ctx, blobKey(ref))
	if errors.Is(err, blob.ErrNotFound) {
		return nil, fmt.Errorf("load %s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return unmarshalDocument(raw)
}

func (s *BlobSink) List(ctx context.Context, lineage uuid.UUID) ([]Ref, error) {
	prefix := blobPrefix
	if lineage != uuid.Nil {
		prefix += lineage.String() + "/"
	}
	infos, err := s.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	refs := make([]Ref, 0, len(infos))
	for _, info := range infos {
		if ref, ok := parseBlobKey(info.Key); ok {
			refs = append(refs, ref)
		}
	}
	sortRefs(refs)
	return refs, nil
}

func (s *BlobSink) Close() error { return nil }
