package archive

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
)

// Sink stores archived documents. Documents are immutable: saving a ref
// twice fails with ErrExists.
type Sink interface {
	Save(ctx context.Context, doc *Document) error
	Load(ctx context.Context, ref Ref) (*Document, error)
	// List returns the refs of lineage in version order, or every ref when
	// lineage is uuid.Nil.
	List(ctx context.Context, lineage uuid.UUID) ([]Ref, error)
	Close() error
}

var (
	// ErrExists is returned when a document is already archived.
	ErrExists = errors.New("archive: document already exists")
	// ErrNotFound is returned when no document matches a ref.
	ErrNotFound = errors.New("archive: document not found")
)

// Latest returns the highest version archived for lineage. With uuid.Nil
// the most recently created document of any lineage wins.
func Latest(ctx context.Context, sink Sink, lineage uuid.UUID) (*Document, error) {
	refs, err := sink.List(ctx, lineage)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, ErrNotFound
	}
	if lineage != uuid.Nil {
		return sink.Load(ctx, refs[len(refs)-1])
	}
	var latest *Document
	for _, ref := range refs {
		doc, err := sink.Load(ctx, ref)
		if err != nil {
			return nil, err
		}
		if latest == nil || doc.CreatedAt.After(latest.CreatedAt) ||
			(doc.CreatedAt.Equal(latest.CreatedAt) && doc.Version > latest.Version) {
			latest = doc
		}
	}
	return latest, nil
}

func sortRefs(refs []Ref) {
	sort.Slice(refs, func(i, j int) bool {
		a, b := refs[i].Lineage.String(), refs[j].Lineage.String()
		if a != b {
			return a < b
		}
		return refs[i].Version < refs[j].Version
	})
}
