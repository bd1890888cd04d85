// Package ota defines the firmware update data model: package versions,
// image metadata and the update envelope exchanged between operators,
// the catalog and devices.
package ota

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// ImageType distinguishes the firmware slots an update may carry.
type ImageType uint8

const (
	ImagePrimary   ImageType = 1
	ImageSecondary ImageType = 2
)

// String returns the slot name used in file names ("primary"/"secondary").
func (t ImageType) String() string {
	switch t {
	case ImagePrimary:
		return "primary"
	case ImageSecondary:
		return "secondary"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Valid reports whether t is a known image type.
func (t ImageType) Valid() bool {
	return t == ImagePrimary || t == ImageSecondary
}

// Version identifies a firmware package. Its string form is the stable
// update-id used as the KV key and the filename prefix.
type Version struct {
	Major  uint8   `cbor:"major"`
	Minor  uint8   `cbor:"minor"`
	Patch  uint8   `cbor:"patch"`
	Commit uint8   `cbor:"commit"`
	Hash   [8]byte `cbor:"hash"`
}

// hashFallback is rendered when the hash bytes are not valid UTF-8.
const hashFallback = "unknown"

// String renders "M.m.p-c-H" where H is the hash bytes as UTF-8.
func (v Version) String() string {
	hash := hashFallback
	if utf8.Valid(v.Hash[:]) {
		hash = string(v.Hash[:])
	}
	return fmt.Sprintf("%d.%d.%d-%d-%s", v.Major, v.Minor, v.Patch, v.Commit, hash)
}

// ParseVersion parses the canonical "M.m.p-c-H" form back into a Version.
// The hash segment must be exactly 8 bytes.
func ParseVersion(s string) (Version, error) {
	var v Version

	parts := strings.SplitN(s, "-", 3)
	if len(parts) != 3 {
		return v, fmt.Errorf("invalid version %q: want M.m.p-c-H", s)
	}

	nums := strings.Split(parts[0], ".")
	if len(nums) != 3 {
		return v, fmt.Errorf("invalid version %q: want three dotted components", s)
	}

	fields := []*uint8{&v.Major, &v.Minor, &v.Patch, &v.Commit}
	for i, raw := range append(nums, parts[1]) {
		n, err := strconv.ParseUint(raw, 10, 8)
		if err != nil {
			return v, fmt.Errorf("invalid version %q: %w", s, err)
		}
		*fields[i] = uint8(n)
	}

	if len(parts[2]) != 8 {
		return v, fmt.Errorf("invalid version %q: hash must be 8 bytes", s)
	}
	copy(v.Hash[:], parts[2])

	return v, nil
}

// FileInfo describes one downloadable firmware file of a package.
type FileInfo struct {
	ImageType ImageType `cbor:"image_type"`

	// Host is the base URL the device prepends, taken from configuration.
	Host string `cbor:"host"`

	// File is the path relative to the image root:
	// "<update-id>/<type>-<update-id>.bin".
	File string `cbor:"file"`
}

// Package is the persisted metadata of one firmware update.
type Package struct {
	Version   Version    `cbor:"version"`
	Files     []FileInfo `cbor:"files"`
	DateAdded *time.Time `cbor:"date_added,omitempty"`
}

// UpdateID returns the KV key of the package.
func (p *Package) UpdateID() string {
	return p.Version.String()
}

// ImageBlob carries raw firmware bytes during admin ingress.
type ImageBlob struct {
	Data      []byte    `cbor:"data"`
	ImageType ImageType `cbor:"image_type"`
}

// Update is the envelope moved across the bus. On ingress from an operator
// Images carries raw bytes and Package.Files is empty; on egress to a device
// Images is cleared, Files is populated and UID names the target device.
type Update struct {
	UID     string      `cbor:"uid,omitempty"`
	Package *Package    `cbor:"package,omitempty"`
	Images  []ImageBlob `cbor:"images,omitempty"`
}

// Command is a device OTA request command.
type Command uint8

const (
	CommandCheck Command = 0
	CommandDone  Command = 1
)

// String names the command for logs.
func (c Command) String() string {
	switch c {
	case CommandCheck:
		return "check"
	case CommandDone:
		return "done"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// Valid reports whether c is a known command.
func (c Command) Valid() bool {
	return c == CommandCheck || c == CommandDone
}

// FileName returns the on-disk name of one image file of an update:
// "<type>-<update-id>.bin".
func FileName(t ImageType, updateID string) string {
	return fmt.Sprintf("%s-%s.bin", t, updateID)
}

// FilePath returns the path of one image file relative to the image root:
// "<update-id>/<type>-<update-id>.bin". This is also the value of
// FileInfo.File handed to devices.
func FilePath(t ImageType, updateID string) string {
	return fmt.Sprintf("%s/%s", updateID, FileName(t, updateID))
}
