// Package domain attachment.go contains the attachment record model and its metadata
package domain

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// RecordVersion is the current on-medium record format.
const RecordVersion = 1

var metaValidator = validator.New(validator.WithRequiredStructEnabled())

// Metadata is the descriptive part of an attachment supplied by the caller at
// store time. Size is advisory; the store records the real plaintext length.
type Metadata struct {
	OriginalName string `json:"originalName" validate:"required,max=512"`
	MimeType     string `json:"mimeType" validate:"omitempty,max=255"`
	Size         int64  `json:"size" validate:"gte=0"`
	CaseID       string `json:"caseId" validate:"omitempty,max=256"`
}

// Validate checks field constraints and returns ErrInvalidMetadata wrapping the
// first violation.
func (m Metadata) Validate() error {
	if err := metaValidator.Struct(m); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	return nil
}

// AttachmentRecord is the persisted metadata of one stored attachment. The
// ciphertext lives under a sibling medium key and is only populated in
// EncryptedPayload when explicitly loaded.
type AttachmentRecord struct {
	Version          int       `json:"v"`
	ID               string    `json:"id"`
	OriginalName     string    `json:"originalName"`
	MimeType         string    `json:"mimeType"`
	Size             int64     `json:"size"`
	CaseID           string    `json:"caseId,omitempty"`
	EncryptedSize    int64     `json:"encryptedSize"`
	Salt             []byte    `json:"salt"`
	AttachmentKey    string    `json:"attachmentKey"`
	Checksum         string    `json:"checksum"`
	Compressed       bool      `json:"compressed,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	LastAccessed     time.Time `json:"lastAccessed"`
	EncryptedPayload []byte    `json:"-"`
}

// Metadata returns the descriptive fields of the record.
func (r AttachmentRecord) Metadata() Metadata {
	return Metadata{OriginalName: r.OriginalName, MimeType: r.MimeType, Size: r.Size, CaseID: r.CaseID}
}

// StorageStats aggregates totals over all stored records.
type StorageStats struct {
	TotalAttachments int64     `json:"totalAttachments"`
	TotalSize        int64     `json:"totalSize"`
	EncryptedSize    int64     `json:"encryptedSize"`
	LastCleanup      time.Time `json:"lastCleanup"`
}

// Add applies a record's sizes to the totals with the given sign (+1 or -1).
func (s *StorageStats) Add(rec AttachmentRecord, sign int64) {
	s.TotalAttachments += sign
	s.TotalSize += sign * rec.Size
	s.EncryptedSize += sign * rec.EncryptedSize
	if s.TotalAttachments < 0 {
		s.TotalAttachments = 0
	}
	if s.TotalSize < 0 {
		s.TotalSize = 0
	}
	if s.EncryptedSize < 0 {
		s.EncryptedSize = 0
	}
}

// RemoteAttachment describes an attachment known to exist on the remote
// backend for a case. Locator is opaque to the core and handed back to the
// fetcher unchanged.
type RemoteAttachment struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	Locator  string `json:"locator"`
	CaseID   string `json:"caseId,omitempty"`
}

// Metadata converts the remote description into store metadata.
func (a RemoteAttachment) Metadata() Metadata {
	return Metadata{OriginalName: a.Name, MimeType: a.MimeType, Size: a.Size, CaseID: a.CaseID}
}
