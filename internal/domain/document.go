package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Document is a note owned by the surrounding application. The index only
// reads its identity, title, body and timestamps and writes back IndexDirty.
type Document struct {
	ID         string
	Title      string
	Body       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ArchivedAt *time.Time
	IndexDirty bool
}

// IsArchived reports whether the document has been tombstoned.
func (d *Document) IsArchived() bool {
	return d.ArchivedAt != nil
}

// HasBody reports whether the document has any non-whitespace body text.
func (d *Document) HasBody() bool {
	return strings.TrimSpace(d.Body) != ""
}

// DocumentLink is an explicit, user-authored link between two documents.
// Links are treated as bidirectional at query time.
type DocumentLink struct {
	SourceID string
	TargetID string
}

// ValidateDocumentID checks that id is a canonical UUID.
func ValidateDocumentID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrInvalidDocumentID
	}
	return nil
}

// ValidateDocument validates a Document before it is persisted.
func ValidateDocument(d *Document) error {
	if d == nil {
		return ErrMissingRequiredField
	}
	if err := ValidateDocumentID(d.ID); err != nil {
		return err
	}
	return nil
}
