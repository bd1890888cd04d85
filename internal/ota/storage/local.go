package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type localProvider struct {
	root string
}

// NewLocalProvider stores blobs under the firmware image root on disk.
func NewLocalProvider(root string) Provider {
	return &localProvider{root: root}
}

func (p *localProvider) Save(_ context.Context, key string, data []byte) error {
	path, err := p.resolve(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create image directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write image file: %w", err)
	}

	return nil
}

func (p *localProvider) DeletePrefix(_ context.Context, prefix string) error {
	path, err := p.resolve(prefix)
	if err != nil {
		return err
	}
	return os.RemoveAll(path)
}

// resolve joins key under the root and rejects path traversal.
func (p *localProvider) resolve(key string) (string, error) {
	path := filepath.Join(p.root, filepath.FromSlash(key))
	if !strings.HasPrefix(path, filepath.Clean(p.root)+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid image key %q", key)
	}
	return path, nil
}
