package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

const fileScheme = "file://"

// Local stores folders and files under a directory on disk.
type Local struct {
	root string
}

func NewLocal(root string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Local{root: abs}, nil
}

func (l *Local) abs(id string) string { return filepath.Join(l.root, filepath.FromSlash(id)) }

func (l *Local) CreateFolderIfNotExists(_ context.Context, parentID, name string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	id := join(parentID, name)
	if err := os.MkdirAll(l.abs(id), 0o755); err != nil {
		return "", fmt.Errorf("create folder %s: %w", id, err)
	}
	return id, nil
}

func (l *Local) UploadFile(_ context.Context, parentID, name string, data []byte) (FileMeta, error) {
	if err := validName(name); err != nil {
		return FileMeta{}, err
	}
	id := join(parentID, name)
	p := l.abs(id)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return FileMeta{}, fmt.Errorf("write %s: %w", id, err)
	}
	log.Debug().Str("path", p).Int("size", len(data)).Msg("saved file locally")
	return FileMeta{
		ID:          id,
		Name:        name,
		ParentID:    parentID,
		Location:    fileScheme + filepath.ToSlash(p),
		Size:        int64(len(data)),
		ContentType: contentType(data),
	}, nil
}

func (l *Local) ListChildren(_ context.Context, folderID string) ([]Item, error) {
	entries, err := os.ReadDir(l.abs(folderID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("folder %q: %w", folderID, ErrNotFound)
		}
		return nil, err
	}
	items := make([]Item, 0, len(entries))
	for _, e := range entries {
		id := join(folderID, e.Name())
		it := Item{ID: id, Name: e.Name(), Folder: e.IsDir()}
		if !e.IsDir() {
			if info, err := e.Info(); err == nil {
				it.Size = info.Size()
			}
			it.Location = fileScheme + filepath.ToSlash(l.abs(id))
		}
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

// Download accepts file:// locations and plain IDs relative to the root.
func (l *Local) Download(_ context.Context, location string) ([]byte, error) {
	p := strings.TrimPrefix(location, fileScheme)
	if !filepath.IsAbs(p) {
		p = l.abs(p)
	}
	p = filepath.Clean(p)
	if p != l.root && !strings.HasPrefix(p, l.root+string(filepath.Separator)) {
		return nil, fmt.Errorf("storage: %s is outside the storage root", location)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", location, ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}

func (l *Local) Ping(context.Context) error {
	_, err := os.Stat(l.root)
	return err
}
