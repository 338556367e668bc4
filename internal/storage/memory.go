package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

const memScheme = "mem://"

// Memory is an in-process ObjectStore for development and tests. The hooks allow tests to
// inject failures.
type Memory struct {
	mu      sync.Mutex
	folders map[string]struct{}
	files   map[string][]byte

	UploadHook   func(parentID, name string) error
	DownloadHook func(location string) error
}

func NewMemory() *Memory {
	return &Memory{folders: map[string]struct{}{"": {}}, files: map[string][]byte{}}
}

func (m *Memory) CreateFolderIfNotExists(_ context.Context, parentID, name string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.folders[parentID]; !ok {
		return "", fmt.Errorf("parent folder %q: %w", parentID, ErrNotFound)
	}
	id := join(parentID, name)
	m.folders[id] = struct{}{}
	return id, nil
}

func (m *Memory) UploadFile(_ context.Context, parentID, name string, data []byte) (FileMeta, error) {
	if err := validName(name); err != nil {
		return FileMeta{}, err
	}
	if m.UploadHook != nil {
		if err := m.UploadHook(parentID, name); err != nil {
			return FileMeta{}, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.folders[parentID]; !ok {
		return FileMeta{}, fmt.Errorf("parent folder %q: %w", parentID, ErrNotFound)
	}
	id := join(parentID, name)
	m.files[id] = append([]byte(nil), data...)
	return FileMeta{
		ID:          id,
		Name:        name,
		ParentID:    parentID,
		Location:    memScheme + id,
		Size:        int64(len(data)),
		ContentType: contentType(data),
	}, nil
}

func (m *Memory) ListChildren(_ context.Context, folderID string) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.folders[folderID]; !ok {
		return nil, fmt.Errorf("folder %q: %w", folderID, ErrNotFound)
	}
	var items []Item
	for id := range m.folders {
		if name, ok := childName(folderID, id); ok {
			items = append(items, Item{ID: id, Name: name, Folder: true})
		}
	}
	for id, data := range m.files {
		if name, ok := childName(folderID, id); ok {
			items = append(items, Item{ID: id, Name: name, Size: int64(len(data)), Location: memScheme + id})
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (m *Memory) Download(_ context.Context, location string) ([]byte, error) {
	if m.DownloadHook != nil {
		if err := m.DownloadHook(location); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[strings.TrimPrefix(location, memScheme)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", location, ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

// Files returns the IDs of all stored files, sorted.
func (m *Memory) Files() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.files))
	for id := range m.files {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (m *Memory) Ping(context.Context) error { return nil }

func childName(parent, id string) (string, bool) {
	if id == "" || id == parent {
		return "", false
	}
	prefix := ""
	if parent != "" {
		prefix = parent + "/"
	}
	if !strings.HasPrefix(id, prefix) {
		return "", false
	}
	rest := id[len(prefix):]
	if rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
