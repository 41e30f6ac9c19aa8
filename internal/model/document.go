package model

import (
	"path/filepath"
	"strings"
	"time"
)

// FileType is the document format.
type FileType string

const (
	FileTypePDF     FileType = "pdf"
	FileTypeXLSX    FileType = "xlsx"
	FileTypeCSV     FileType = "csv"
	FileTypeUnknown FileType = ""
)

// IsSpreadsheet reports whether the file type is tabular.
func (f FileType) IsSpreadsheet() bool {
	return f == FileTypeXLSX || f == FileTypeCSV
}

// FileTypeFromName derives the file type from a filename extension.
func FileTypeFromName(name string) FileType {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return FileTypePDF
	case ".xlsx", ".xlsm", ".xls":
		return FileTypeXLSX
	case ".csv", ".tsv", ".txt":
		return FileTypeCSV
	}
	return FileTypeUnknown
}

// DocumentStatus tracks a stored document's processing lifecycle.
type DocumentStatus string

const (
	DocumentUploaded   DocumentStatus = "uploaded"
	DocumentProcessing DocumentStatus = "processing"
	DocumentApproved   DocumentStatus = "approved"
	DocumentReview     DocumentStatus = "needs_review"
	DocumentFailed     DocumentStatus = "error"
)

// DocumentStatusFor maps a processing status onto the document lifecycle.
func DocumentStatusFor(s Status) DocumentStatus {
	switch s {
	case StatusApproved:
		return DocumentApproved
	case StatusNeedsReview:
		return DocumentReview
	}
	return DocumentFailed
}

// Document is one uploaded waste document.
type Document struct {
	ID         string         `json:"id"`
	Filename   string         `json:"filename"`
	MimeType   string         `json:"mimeType"`
	Content    []byte         `json:"-"`
	Status     DocumentStatus `json:"status"`
	UploadedAt time.Time      `json:"uploadedAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// FileType returns the document's file type from its filename, falling back
// to the MIME type.
func (d *Document) FileType() FileType {
	if ft := FileTypeFromName(d.Filename); ft != FileTypeUnknown {
		return ft
	}
	switch d.MimeType {
	case "application/pdf":
		return FileTypePDF
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return FileTypeXLSX
	case "text/csv":
		return FileTypeCSV
	}
	return FileTypeUnknown
}
