// Package authz implements the persisted user/role/invite-code store and the
// authorization rules layered on top of it.
package authz

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrCorruptStore is returned by Read when the file exists but cannot be decoded.
var ErrCorruptStore = errors.New("authorization store is not valid JSON")

// Persistence handles the disk I/O for the authorization document.
type Persistence struct {
	Path string
	mu   sync.Mutex // Protects concurrent writes to the filesystem
}

// NewPersistence returns a persister for the document at path.
func NewPersistence(path string) *Persistence {
	return &Persistence{Path: path}
}

// Save writes the document atomically: the JSON goes to <path>.tmp first and
// is then renamed over <path>, so readers see either the old file or the new
// one, never a partial write.
func (p *Persistence) Save(doc *Document) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	bytes, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(p.Path), 0o755); err != nil {
		return err
	}

	tempPath := p.Path + ".tmp"
	f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	_, err = f.Write(bytes)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tempPath, p.Path)
	}
	if err != nil {
		// The temp file is ours from here on; never leave it behind.
		os.Remove(tempPath)
		return err
	}
	return nil
}

// Read loads the document from disk. It returns an fs.ErrNotExist error when
// the file is missing and ErrCorruptStore when it cannot be decoded.
func (p *Persistence) Read() (*Document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	content, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, err
	}

	doc := &Document{}
	if err := json.Unmarshal(content, doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	doc.ensureMaps()
	return doc, nil
}

// Quarantine moves an unreadable store aside so it can be inspected later.
// It returns the new path.
func (p *Persistence) Quarantine(now time.Time) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	dst := fmt.Sprintf("%s.corrupt-%d", p.Path, now.Unix())
	if err := os.Rename(p.Path, dst); err != nil {
		return "", err
	}
	return dst, nil
}

func isMissing(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
