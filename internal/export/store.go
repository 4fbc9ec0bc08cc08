// Package export keeps composited frame documents on disk. It backs the
// download fallback used when a clipboard write fails, and explicit exports.
package export

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgnsrekt/scrollframe/internal/types"
)

var uuidRe = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// Formats.
const (
	FormatPNG      = "png"
	FormatHTML     = "html"
	FormatMarkdown = "md"
	FormatPDF      = "pdf"
)

// Kinds.
const (
	KindFrame = "frame"
	KindAll   = "all"
)

// Meta describes a stored export document.
type Meta struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Format    string    `json:"format"`
	FrameID   string    `json:"frameId,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Frames    int       `json:"frames"`
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
	SizeBytes int       `json:"sizeBytes"`
	CreatedAt time.Time `json:"createdAt"`
	Reason    string    `json:"reason,omitempty"`
}

// DownloadURL is the API path serving the document.
func (m Meta) DownloadURL() string {
	return "/api/v1/exports/" + m.ID + "/file"
}

// FileName is a download-friendly name.
func (m Meta) FileName() string {
	return fmt.Sprintf("scrollframe-%s-%s.%s", m.Kind, m.CreatedAt.Format("20060102-150405"), m.Format)
}

// ContentType maps a format to its MIME type.
func ContentType(format string) string {
	switch format {
	case FormatPNG:
		return "image/png"
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatPDF:
		return "application/pdf"
	}
	return "application/octet-stream"
}

func validFormat(format string) bool {
	return format == FormatPNG || format == FormatHTML || format == FormatMarkdown || format == FormatPDF
}

// Store manages export files on disk.
type Store struct {
	dir string
	now func() time.Time
	mu  sync.RWMutex
}

// NewStore creates a Store and ensures the directory exists.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("export store: mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

// Dir returns the storage directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) validateID(id string) error {
	if !uuidRe.MatchString(id) {
		return types.NewError(types.CodeValidation, fmt.Sprintf("invalid export id: %q", id), nil)
	}
	return nil
}

// Save writes the document and its metadata sidecar. ID and CreatedAt are
// assigned here.
func (s *Store) Save(meta Meta, data []byte) (Meta, error) {
	if !validFormat(meta.Format) {
		return Meta{}, types.NewError(types.CodeValidation, fmt.Sprintf("unsupported export format %q", meta.Format), nil)
	}
	meta.ID = uuid.NewString()
	meta.CreatedAt = s.now().UTC()
	meta.SizeBytes = len(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	docPath := filepath.Join(s.dir, meta.ID+"."+meta.Format)
	jsonPath := filepath.Join(s.dir, meta.ID+".json")

	if err := os.WriteFile(docPath, data, 0o644); err != nil {
		return Meta{}, fmt.Errorf("export store: write document: %w", err)
	}

	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		s.removeQuiet(docPath)
		return Meta{}, fmt.Errorf("export store: marshal meta: %w", err)
	}

	if err := os.WriteFile(jsonPath, raw, 0o644); err != nil {
		s.removeQuiet(docPath)
		return Meta{}, fmt.Errorf("export store: write meta: %w", err)
	}

	slog.Info("export saved", "id", meta.ID, "kind", meta.Kind, "format", meta.Format, "bytes", meta.SizeBytes)
	return meta, nil
}

// Get reads export metadata by ID.
func (s *Store) Get(id string) (Meta, error) {
	if err := s.validateID(id); err != nil {
		return Meta{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(id)
}

func (s *Store) getLocked(id string) (Meta, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return Meta{}, types.NewError(types.CodeNotFound, "export not found: "+id, nil)
		}
		return Meta{}, fmt.Errorf("export store: read meta: %w", err)
	}

	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, fmt.Errorf("export store: unmarshal meta: %w", err)
	}
	return meta, nil
}

// List returns all exports sorted by creation time (newest first).
func (s *Store) List() ([]Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("export store: glob: %w", err)
	}

	metas := make([]Meta, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var meta Meta
		if err := json.Unmarshal(data, &meta); err != nil {
			slog.Debug("export meta unreadable", "path", path, "error", err)
			continue
		}
		metas = append(metas, meta)
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})
	return metas, nil
}

// Read returns the document bytes and metadata.
func (s *Store) Read(id string) ([]byte, Meta, error) {
	if err := s.validateID(id); err != nil {
		return nil, Meta{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, err := s.getLocked(id)
	if err != nil {
		return nil, Meta{}, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, id+"."+meta.Format))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Meta{}, types.NewError(types.CodeNotFound, "export document not found: "+id, nil)
		}
		return nil, Meta{}, fmt.Errorf("export store: read document: %w", err)
	}
	return data, meta, nil
}

// Delete removes both the document and metadata files.
func (s *Store) Delete(id string) error {
	if err := s.validateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.getLocked(id)
	if err != nil {
		return err
	}
	s.removeQuiet(filepath.Join(s.dir, id+"."+meta.Format))
	s.removeQuiet(filepath.Join(s.dir, id+".json"))
	return nil
}

func (s *Store) removeQuiet(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Debug("export cleanup failed", "path", path, "error", err)
	}
}
