// Package filesource serves attachments from a local directory laid out like
// the remote bucket: {root}/cases/{caseId}/{name}. It backs the import command
// and lets a mounted share stand in for the backend.
package filesource

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/app"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/domain"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/remote"
)

var _ app.RemoteSource = (*Source)(nil)

// Source reads files beneath a single root directory. Locators are slash
// separated paths relative to that root and cannot escape it.
type Source struct {
	root     *os.Root
	maxBytes int64
}

// New opens dir as the source root. The directory must already exist.
func New(dir string, maxBytes int64) (*Source, error) {
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, errors.New("filesource: root is not a directory")
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("filesource: open root: %w", err)
	}
	return &Source{root: root, maxBytes: maxBytes}, nil
}

func (s *Source) Close() error { return s.root.Close() }

// ListCaseAttachments returns the regular files directly inside
// cases/{caseID}, sorted by name. A missing case directory yields no
// attachments.
func (s *Source) ListCaseAttachments(ctx context.Context, caseID string) ([]domain.RemoteAttachment, error) {
	if caseID == "" || strings.ContainsAny(caseID, `/\`) || caseID == "." || caseID == ".." {
		return nil, fmt.Errorf("filesource: invalid case id %q", caseID)
	}
	dir := path.Join("cases", caseID)
	entries, err := fs.ReadDir(s.root.FS(), dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("filesource: read %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var out []domain.RemoteAttachment
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		rel := path.Join(dir, e.Name())
		out = append(out, domain.RemoteAttachment{
			ID:      rel,
			Name:    e.Name(),
			Size:    info.Size(),
			Locator: rel,
			CaseID:  caseID,
		})
	}
	return out, nil
}

// Fetch reads the file named by locator, or by id when locator is empty.
func (s *Source) Fetch(ctx context.Context, id, locator string, progress app.ProgressFunc) ([]byte, error) {
	name := locator
	if name == "" {
		name = id
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := s.root.Open(name)
	if err != nil {
		return nil, fmt.Errorf("filesource: %w", err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("filesource: %w", err)
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("filesource: %s is not a regular file", name)
	}
	return remote.ReadAll(f, fi.Size(), s.maxBytes, progress)
}
