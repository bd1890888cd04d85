// Package storage abstracts where firmware image bytes live. The catalog
// always writes to local disk (the HTTP image server reads from there); an
// optional S3-compatible mirror can be layered on top for off-host copies.
package storage

import (
	"context"
)

// Provider stores and removes firmware image blobs addressed by their
// relative path ("<update-id>/<type>-<update-id>.bin").
type Provider interface {
	// Save writes one blob, creating parent namespaces as needed.
	Save(ctx context.Context, key string, data []byte) error

	// DeletePrefix removes every blob under "<prefix>/". Removing an absent
	// prefix is not an error.
	DeletePrefix(ctx context.Context, prefix string) error
}
