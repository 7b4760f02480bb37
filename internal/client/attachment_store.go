package client

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"

	"github.com/pesio-ai/be-expense-approvals/internal/platform/errors"
)

// AttachmentStore keeps bill images under <base>/bills/<billID>/ and exposes
// them as <publicPrefix>/bills/<billID>/<name>.
type AttachmentStore struct {
	fs           afs.Service
	basePath     string
	publicPrefix string
}

// NewAttachmentStore creates the base directory when missing.
func NewAttachmentStore(ctx context.Context, basePath, publicPrefix string) (*AttachmentStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("attachment base path cannot be empty")
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve attachment base path: %w", err)
	}

	fs := afs.New()
	exists, _ := fs.Exists(ctx, abs)
	if !exists {
		if err := fs.Create(ctx, abs, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create attachment directory: %w", err)
		}
	}

	return &AttachmentStore{
		fs:           fs,
		basePath:     abs,
		publicPrefix: strings.TrimRight(publicPrefix, "/"),
	}, nil
}

// Save writes one file and returns its public path.
func (s *AttachmentStore) Save(ctx context.Context, billID, name string, r io.Reader) (string, error) {
	if err := checkSegment("bill_id", billID); err != nil {
		return "", err
	}
	if err := checkSegment("name", name); err != nil {
		return "", err
	}

	dir := s.billDir(billID)
	if exists, _ := s.fs.Exists(ctx, dir); !exists {
		if err := s.fs.Create(ctx, dir, file.DefaultDirOsMode, true); err != nil {
			return "", fmt.Errorf("failed to create attachment directory: %w", err)
		}
	}

	target := path.Join(dir, name)
	if err := s.fs.Upload(ctx, target, file.DefaultFileOsMode, r); err != nil {
		return "", fmt.Errorf("failed to write attachment %s: %w", target, err)
	}
	return s.publicPath(billID, name), nil
}

// List returns the public paths of a bill's files, sorted by name.
func (s *AttachmentStore) List(ctx context.Context, billID string) ([]string, error) {
	if err := checkSegment("bill_id", billID); err != nil {
		return nil, err
	}
	dir := s.billDir(billID)
	exists, err := s.fs.Exists(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to check attachment directory: %w", err)
	}
	if !exists {
		return []string{}, nil
	}

	objects, err := s.fs.List(ctx, dir, option.NewRecursive(false))
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	names := make([]string, 0, len(objects))
	for _, object := range objects {
		if object.IsDir() {
			continue
		}
		names = append(names, object.Name())
	}
	sort.Strings(names)

	paths := make([]string, 0, len(names))
	for _, name := range names {
		paths = append(paths, s.publicPath(billID, name))
	}
	return paths, nil
}

// DeleteAll removes a bill's directory. A missing directory is not an error.
func (s *AttachmentStore) DeleteAll(ctx context.Context, billID string) error {
	if err := checkSegment("bill_id", billID); err != nil {
		return err
	}
	dir := s.billDir(billID)
	exists, err := s.fs.Exists(ctx, dir)
	if err != nil {
		return fmt.Errorf("failed to check attachment directory: %w", err)
	}
	if !exists {
		return nil
	}
	if err := s.fs.Delete(ctx, dir); err != nil {
		return fmt.Errorf("failed to delete attachments for %s: %w", billID, err)
	}
	return nil
}

// Root is the local directory served under the public prefix.
func (s *AttachmentStore) Root() string {
	return s.basePath
}

func (s *AttachmentStore) billDir(billID string) string {
	return path.Join(s.basePath, "bills", billID)
}

func (s *AttachmentStore) publicPath(billID, name string) string {
	return s.publicPrefix + "/bills/" + billID + "/" + name
}

// checkSegment rejects values that would escape the bill directory.
func checkSegment(field, v string) error {
	if v == "" || v == "." || v == ".." || strings.ContainsAny(v, `/\`) {
		return errors.InvalidInput(field, fmt.Sprintf("invalid path segment %q", v))
	}
	return nil
}
