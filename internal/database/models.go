package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// DataSource represents a single logical feed the engine ingests from.
type DataSource struct {
	ID     int64  `db:"id"`
	Name   string `db:"name"`
	Active bool   `db:"active"`
}

// FolderPath represents one watched source folder for a DataSource in a
// given Environment (e.g. "prod", "staging").
type FolderPath struct {
	ID           int64  `db:"id"`
	DataSourceID int64  `db:"data_source_id"`
	Environment  string `db:"environment"`
	FolderPath   string `db:"folder_path"`
	Active       bool   `db:"active"`
}

// Setting is a single name/value row in the `setting` table. The engine
// reads the row named MAX_ZIP_SIZE to size bundles (see bundler).
type Setting struct {
	Name  string `db:"name"`
	Value string `db:"value"`
}

// ErrorKind classifies why a file was quarantined.
type ErrorKind string

const (
	ErrorKindDuplicateFile  ErrorKind = "DUPLICATE_FILE"
	ErrorKindWrongFileType  ErrorKind = "WRONG_FILE_TYPE"
	ErrorKindExtractionErr  ErrorKind = "EXTRACTION_ERROR"
)

// ErrorLog records one quarantined file. FolderPath is the source folder
// the file (or its root archive) was drained from. OriginalArchiveFileName
// is the root archive per the lineage tracker's inheritance rule, or nil
// for a file that was quarantined directly from a source folder. Solved
// marks a row an operator has addressed; the engine never sets it itself.
type ErrorLog struct {
	ID                      string    `db:"id"`
	DataSourceID            int64     `db:"data_source_id"`
	Environment             string    `db:"environment"`
	FileName                string    `db:"file_name"`
	FolderPath              string    `db:"folder_path"`
	OriginalArchiveFileName *string   `db:"original_archive_file_name"`
	OriginalPath            string    `db:"original_path"`
	QuarantinePath          string    `db:"quarantine_path"`
	Kind                    ErrorKind `db:"kind"`
	Detail                  string    `db:"detail"`
	Solved                  bool      `db:"solved"`
	CreatedAt               time.Time `db:"created_at"`
}

// BundledFileInfo describes one file folded into a BundleTracking archive,
// mirroring lineage.FileInfo so a bundle's row carries full provenance.
// OriginalZip is only populated when Source is "extracted".
type BundledFileInfo struct {
	Name               string `json:"name"`
	Size               int64  `json:"size"`
	Source             string `json:"source"`
	OriginalFolderPath string `json:"original_folder_path"`
	OriginalZip        string `json:"original_zip,omitempty"`
}

// BundledFileInfoList is the JSON-column type for BundleTracking.FilesInfo.
type BundledFileInfoList []BundledFileInfo

// Scan implements sql.Scanner.
func (l *BundledFileInfoList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	bytes, err := asBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, l)
}

// Value implements driver.Valuer.
func (l BundledFileInfoList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	return json.Marshal(l)
}

// StringList is the JSON-column type for BundleTracking.SourceFolderPaths.
type StringList []string

// Scan implements sql.Scanner.
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	bytes, err := asBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, l)
}

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	return json.Marshal(l)
}

func asBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, errors.New("cannot scan non-string value into JSON column")
	}
}

// BundleTracking records one output archive written by the bundler.
type BundleTracking struct {
	ID                string              `db:"id"`
	DataSourceID      int64               `db:"data_source_id"`
	Environment       string              `db:"environment"`
	ArchivePath       string              `db:"archive_path"`
	BackupPath        string              `db:"backup_path"`
	ByteSize          int64               `db:"byte_size"`
	FilesInfo         BundledFileInfoList `db:"files_info"`
	SourceFolderPaths StringList          `db:"source_folder_paths"`
	Uploaded          bool                `db:"uploaded"`
	CreatedAt         time.Time           `db:"created_at"`
}
