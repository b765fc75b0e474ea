// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import "time"

// File status values.
const (
	FileActive  = "active"
	FileDeleted = "deleted"
	FileError   = "error"
)

// Tool approval status values.
const (
	ApprovalQuarantined = "quarantined"
	ApprovalApproved    = "approved"
	ApprovalRejected    = "rejected"
)

// IndexedFile is one watched file. A file exists at most once per path;
// re-ingest mutates the row in place.
type IndexedFile struct {
	ID        int64
	FilePath  string
	FileHash  string
	Format    string
	Status    string // active | deleted | error
	ErrorMsg  string
	FileSize  int64
	FileMtime time.Time
	IndexedAt time.Time
}

// SequenceMeta is the JSON metadata payload on a sequence row.
type SequenceMeta struct {
	// Tags is an ordered list of directory segments relative to the
	// watched root.
	Tags []string `json:"tags,omitempty"`
	// MoleculeType is DNA, RNA or protein.
	MoleculeType string `json:"molecule_type,omitempty"`
	// Notes carries free-form annotations from the source file.
	Notes string `json:"notes,omitempty"`
}

// Sequence is one biological sequence owned by an IndexedFile.
type Sequence struct {
	ID          int64
	FileID      int64
	Name        string
	SizeBP      int
	Topology    string // circular | linear
	Sequence    string
	Description string
	Meta        SequenceMeta
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Eager-loaded relations (nil unless requested).
	Features []Feature
	Primers  []Primer
	File     *IndexedFile
}

// Feature is an annotated region. Coordinates are 0-based, end-exclusive.
type Feature struct {
	ID         int64
	SeqID      int64
	Name       string
	Type       string
	Start      int
	End        int
	Strand     int // +1, -1 or 0
	Qualifiers map[string]string
}

// Primer is an annotated oligo on a sequence.
type Primer struct {
	ID       int64
	SeqID    int64
	Name     string
	Sequence string
	Tm       *float64
	Start    *int
	End      *int
	Strand   *int
}

// User is a known operator of the instance.
type User struct {
	ID          int64
	Username    string
	Slug        string
	Token       string
	Preferences map[string]any
	CreatedAt   time.Time
}

// Feedback is a thumbs-up/down record attached to a chat.
type Feedback struct {
	ID        int64
	UserID    int64
	ChatID    string
	Rating    string // good | bad
	Priority  int
	Comment   string
	CreatedAt time.Time
}

// ToolApproval is the hash-based approval gate row for one external
// tool script.
type ToolApproval struct {
	ID         int64
	Filename   string
	FileHash   string
	ToolName   string
	Status     string // quarantined | approved | rejected
	CreatedAt  time.Time
	ReviewedAt *time.Time
}
