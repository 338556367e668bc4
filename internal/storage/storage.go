// Package storage is the remote object store with folders that check artifacts live in.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var ErrNotFound = errors.New("storage: object not found")

// FileMeta describes an uploaded file.
type FileMeta struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ParentID    string `json:"parent_id"`
	Location    string `json:"location"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// Item is one child of a folder.
type Item struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Folder   bool   `json:"folder"`
	Size     int64  `json:"size"`
	Location string `json:"location,omitempty"`
}

// ObjectStore is the folder-aware storage capability. Folder IDs are opaque to callers;
// "" is the store root. CreateFolderIfNotExists must be idempotent.
type ObjectStore interface {
	CreateFolderIfNotExists(ctx context.Context, parentID, name string) (string, error)
	UploadFile(ctx context.Context, parentID, name string, data []byte) (FileMeta, error)
	ListChildren(ctx context.Context, folderID string) ([]Item, error)
	Download(ctx context.Context, location string) ([]byte, error)
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("storage: invalid name %q", name)
	}
	return nil
}

func join(parent, name string) string {
	if parent == "" {
		return name
	}
	return path.Join(parent, name)
}

func contentType(data []byte) string {
	return mimetype.Detect(data).String()
}
