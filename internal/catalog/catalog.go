// Package catalog owns the persistent OTA state: firmware packages, device
// and group associations, and the "what update applies to device D"
// resolution. It is the single writer of the KV store; mutual exclusion
// comes from processing its event channel strictly sequentially.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devlink-io/devlink/internal/bus"
	"github.com/devlink-io/devlink/internal/metrics"
	"github.com/devlink-io/devlink/internal/ota"
	"github.com/devlink-io/devlink/internal/ota/storage"
	"github.com/devlink-io/devlink/internal/store"
	"github.com/devlink-io/devlink/internal/wire"
	"github.com/devlink-io/devlink/pkg/log"
)

// RunnerName is the catalog's name in the broker registry.
const RunnerName = "catalog"

// Settings carries the configuration the catalog needs at runtime.
type Settings struct {
	// URL is the base URL advertised to devices in FileInfo.Host.
	URL string
}

// groupRecord is the persisted shape of one group.
type groupRecord struct {
	UpdateID string   `cbor:"update_id,omitempty"`
	Members  []string `cbor:"members"`
}

func (g *groupRecord) hasMember(deviceID string) bool {
	for _, m := range g.Members {
		if m == deviceID {
			return true
		}
	}
	return false
}

func (g *groupRecord) removeMember(deviceID string) {
	out := g.Members[:0]
	for _, m := range g.Members {
		if m != deviceID {
			out = append(out, m)
		}
	}
	g.Members = out
}

// Catalog is the OTA catalog runner.
type Catalog struct {
	settings Settings

	st      *store.Store
	images  *store.Tree
	devices *store.Tree
	groups  *store.Tree

	blobs  storage.Provider // local disk, authoritative
	mirror storage.Provider // optional S3 copy, best-effort

	in   chan bus.Event
	emit func(bus.Event)

	now    func() time.Time
	logger log.Logger
}

// New creates a catalog over the given store and blob providers. mirror may
// be nil. emit is how the catalog publishes follow-up events (normally the
// broker's Send).
func New(st *store.Store, blobs storage.Provider, mirror storage.Provider, settings Settings, emit func(bus.Event)) *Catalog {
	return &Catalog{
		settings: settings,
		st:       st,
		images:   st.Tree(store.TreeImages),
		devices:  st.Tree(store.TreeDevices),
		groups:   st.Tree(store.TreeGroups),
		blobs:    blobs,
		mirror:   mirror,
		in:       make(chan bus.Event, bus.ChannelSize),
		emit:     emit,
		now:      time.Now,
		logger:   log.WithName("catalog"),
	}
}

// Sender returns the catalog's inbound event channel for broker registration.
func (c *Catalog) Sender() chan<- bus.Event {
	return c.in
}

// Run processes events until ctx is cancelled. Events are handled strictly
// one at a time; no locks are taken on KV records.
func (c *Catalog) Run(ctx context.Context) error {
	c.logger.Info("Catalog started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.in:
			c.Process(ctx, ev)
		}
	}
}

// Process handles one event. Recoverable errors are logged and translate to
// "no response emitted"; the catalog never terminates on a malformed event.
func (c *Catalog) Process(ctx context.Context, ev bus.Event) {
	switch e := ev.(type) {
	case bus.OtaNewPackage:
		id, err := c.SavePackage(ctx, e.Update)
		if err != nil {
			c.logger.Error(err, "Saving package failed")
			c.emit(bus.OtaAddResponse{OK: false, Message: err.Error()})
			return
		}
		c.emit(bus.OtaAddResponse{OK: true, Message: id})

	case bus.OtaDeletePackage:
		if err := c.DeletePackage(ctx, e.UpdateID); err != nil {
			c.logger.Error(err, "Deleting package failed", "updateID", e.UpdateID)
		}

	case bus.OtaLink:
		if err := c.Link(e.DeviceID, e.GroupID, e.ImageID); err != nil {
			c.logger.Error(err, "Link failed",
				"deviceID", e.DeviceID, "groupID", e.GroupID, "imageID", e.ImageID)
		}

	case bus.OtaUnlink:
		if err := c.Unlink(e.DeviceID, e.GroupID); err != nil {
			c.logger.Error(err, "Unlink failed", "deviceID", e.DeviceID, "groupID", e.GroupID)
		}

	case bus.OtaRequest:
		c.handleRequest(e)

	case bus.OtaGroupListRequest:
		groups, err := c.GroupList()
		if err != nil {
			c.logger.Error(err, "Listing groups failed")
			return
		}
		c.emit(bus.OtaGroupListResponse{Groups: groups})

	case bus.OtaImageListRequest:
		images, err := c.ImageList()
		if err != nil {
			c.logger.Error(err, "Listing images failed")
			return
		}
		c.emit(bus.OtaImageListResponse{Images: images})

	default:
		// Not for us; runners ignore events not addressed to them.
	}
}

// SavePackage persists a new firmware package: image blobs to disk first,
// then the metadata to the images tree. The KV insert is the commit point;
// a blob write error aborts without touching the KV state.
func (c *Catalog) SavePackage(ctx context.Context, up *ota.Update) (string, error) {
	if up == nil || up.Package == nil {
		return "", errors.New("update carries no package")
	}
	if len(up.Images) == 0 {
		return "", errors.New("update carries no images")
	}

	seen := map[ota.ImageType]bool{}
	for _, img := range up.Images {
		if !img.ImageType.Valid() {
			return "", fmt.Errorf("unknown image type %d", img.ImageType)
		}
		if seen[img.ImageType] {
			return "", fmt.Errorf("duplicate %s image", img.ImageType)
		}
		seen[img.ImageType] = true
	}

	pkg := up.Package
	id := pkg.UpdateID()

	files := make([]ota.FileInfo, 0, len(up.Images))
	for _, img := range up.Images {
		key := ota.FilePath(img.ImageType, id)
		if err := c.blobs.Save(ctx, key, img.Data); err != nil {
			return "", fmt.Errorf("store %s image: %w", img.ImageType, err)
		}

		if c.mirror != nil {
			if err := c.mirror.Save(ctx, key, img.Data); err != nil {
				c.logger.Warn("Mirroring image failed", "key", key, "err", err)
			}
		}

		files = append(files, ota.FileInfo{
			ImageType: img.ImageType,
			Host:      c.settings.URL,
			File:      key,
		})
	}

	pkg.Files = files
	up.Images = nil
	if pkg.DateAdded == nil {
		now := c.now()
		pkg.DateAdded = &now
	}

	if exists, err := c.images.Has(id); err != nil {
		return "", err
	} else if exists {
		c.logger.Warn("Package already exists, overwriting", "updateID", id)
	}

	raw, err := wire.Marshal(pkg)
	if err != nil {
		return "", fmt.Errorf("encode package: %w", err)
	}
	if err := c.images.Put(id, raw); err != nil {
		return "", fmt.Errorf("insert package: %w", err)
	}
	c.st.RequestFlush()
	c.updateStoredGauge()

	c.logger.Info("Package saved", "updateID", id, "files", len(files))
	return id, nil
}

// Package returns the decoded package stored under updateID.
func (c *Catalog) Package(updateID string) (*ota.Package, error) {
	raw, err := c.images.Get(updateID)
	if err != nil {
		return nil, err
	}

	var pkg ota.Package
	if err := wire.Unmarshal(raw, &pkg); err != nil {
		return nil, fmt.Errorf("decode package %q: %w", updateID, err)
	}
	return &pkg, nil
}

// DeletePackage removes a package, its on-disk blobs and every device or
// group reference to it. Device records losing their pin are deleted; group
// records keep their membership.
func (c *Catalog) DeletePackage(ctx context.Context, updateID string) error {
	if err := c.images.Delete(updateID); err != nil {
		return fmt.Errorf("delete package: %w", err)
	}

	if err := c.blobs.DeletePrefix(ctx, updateID); err != nil {
		c.logger.Warn("Removing image directory failed", "updateID", updateID, "err", err)
	}
	if c.mirror != nil {
		if err := c.mirror.DeletePrefix(ctx, updateID); err != nil {
			c.logger.Warn("Removing mirrored images failed", "updateID", updateID, "err", err)
		}
	}

	// Null out dangling references.
	var orphanDevices []string
	err := c.devices.ForEach(func(deviceID string, val []byte) error {
		if string(val) == updateID {
			orphanDevices = append(orphanDevices, deviceID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, deviceID := range orphanDevices {
		if err := c.devices.Delete(deviceID); err != nil {
			return err
		}
	}

	type pinnedGroup struct {
		id  string
		rec groupRecord
	}
	var pinnedGroups []pinnedGroup
	err = c.groups.ForEach(func(groupID string, val []byte) error {
		var rec groupRecord
		if err := wire.Unmarshal(val, &rec); err != nil {
			c.logger.Warn("Undecodable group record", "groupID", groupID, "err", err)
			return nil
		}
		if rec.UpdateID == updateID {
			rec.UpdateID = ""
			pinnedGroups = append(pinnedGroups, pinnedGroup{id: groupID, rec: rec})
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, g := range pinnedGroups {
		if err := c.putGroup(g.id, &g.rec); err != nil {
			return err
		}
	}

	c.st.RequestFlush()
	c.updateStoredGauge()

	c.logger.Info("Package deleted", "updateID", updateID,
		"unpinnedDevices", len(orphanDevices), "unpinnedGroups", len(pinnedGroups))
	return nil
}

// Link associates a device and/or group with an image. The image must exist.
// A device-level link immediately emits the resolved package so the device
// picks up the assignment without waiting for its next heartbeat.
func (c *Catalog) Link(deviceID, groupID, imageID string) error {
	if deviceID == "" && groupID == "" {
		return errors.New("link needs a device or a group")
	}
	if imageID == "" {
		return errors.New("link needs an image")
	}
	if exists, err := c.images.Has(imageID); err != nil {
		return err
	} else if !exists {
		return fmt.Errorf("unknown image %q", imageID)
	}

	switch {
	case deviceID != "":
		if err := c.devices.Put(deviceID, []byte(imageID)); err != nil {
			return err
		}
		if groupID != "" {
			rec, err := c.group(groupID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			if rec == nil {
				rec = &groupRecord{}
			}
			if !rec.hasMember(deviceID) {
				rec.Members = append(rec.Members, deviceID)
			}
			if err := c.putGroup(groupID, rec); err != nil {
				return err
			}
		}

		pkg, err := c.Resolve(deviceID)
		if err != nil {
			return err
		}
		c.emit(bus.OtaResponse{Update: &ota.Update{UID: deviceID, Package: pkg}})

	default: // group only
		rec, err := c.group(groupID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if rec == nil {
			rec = &groupRecord{}
		}
		rec.UpdateID = imageID
		if err := c.putGroup(groupID, rec); err != nil {
			return err
		}
	}

	c.st.RequestFlush()
	return nil
}

// Unlink removes a device's pin and group memberships, or clears a group's
// pin while keeping its members.
func (c *Catalog) Unlink(deviceID, groupID string) error {
	if deviceID == "" && groupID == "" {
		return errors.New("unlink needs a device or a group")
	}

	if deviceID != "" {
		if err := c.devices.Delete(deviceID); err != nil {
			return err
		}

		type membership struct {
			id  string
			rec groupRecord
		}
		var updates []membership
		err := c.groups.ForEach(func(gid string, val []byte) error {
			var rec groupRecord
			if err := wire.Unmarshal(val, &rec); err != nil {
				return nil
			}
			if rec.hasMember(deviceID) {
				rec.removeMember(deviceID)
				updates = append(updates, membership{id: gid, rec: rec})
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, u := range updates {
			if err := c.putGroup(u.id, &u.rec); err != nil {
				return err
			}
		}
	} else {
		rec, err := c.group(groupID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		rec.UpdateID = ""
		if err := c.putGroup(groupID, rec); err != nil {
			return err
		}
	}

	c.st.RequestFlush()
	return nil
}

// Resolve applies the lookup invariant: a device pin wins over a group pin;
// no association yields (nil, nil).
func (c *Catalog) Resolve(deviceID string) (*ota.Package, error) {
	raw, err := c.devices.Get(deviceID)
	if err == nil {
		return c.Package(string(raw))
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	var updateID string
	err = c.groups.ForEach(func(groupID string, val []byte) error {
		if updateID != "" {
			return nil
		}
		var rec groupRecord
		if err := wire.Unmarshal(val, &rec); err != nil {
			return nil
		}
		if rec.UpdateID != "" && rec.hasMember(deviceID) {
			updateID = rec.UpdateID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if updateID == "" {
		return nil, nil
	}
	return c.Package(updateID)
}

// GroupList enumerates the group ids.
func (c *Catalog) GroupList() ([]string, error) {
	groups := []string{}
	err := c.groups.ForEach(func(groupID string, _ []byte) error {
		groups = append(groups, groupID)
		return nil
	})
	return groups, err
}

// ImageList enumerates the stored packages.
func (c *Catalog) ImageList() ([]bus.ImageEntry, error) {
	images := []bus.ImageEntry{}
	err := c.images.ForEach(func(updateID string, val []byte) error {
		var pkg ota.Package
		if err := wire.Unmarshal(val, &pkg); err != nil {
			c.logger.Warn("Undecodable package record", "updateID", updateID, "err", err)
			return nil
		}
		images = append(images, bus.ImageEntry{UpdateID: updateID, Package: &pkg})
		return nil
	})
	return images, err
}

func (c *Catalog) handleRequest(req bus.OtaRequest) {
	switch req.Cmd {
	case ota.CommandCheck:
		pkg, err := c.Resolve(req.DeviceID)
		if err != nil {
			c.logger.Error(err, "Resolving update failed", "deviceID", req.DeviceID)
			metrics.OtaRequests.WithLabelValues(req.Cmd.String(), "error").Inc()
			return
		}
		result := "none"
		if pkg != nil {
			result = "update"
		}
		metrics.OtaRequests.WithLabelValues(req.Cmd.String(), result).Inc()
		// A nil package is a valid answer: the device learns "no update".
		c.emit(bus.OtaResponse{Update: &ota.Update{UID: req.DeviceID, Package: pkg}})

	case ota.CommandDone:
		// The image may be shared with other devices, so it stays; only the
		// device's own pin goes away.
		if err := c.devices.Delete(req.DeviceID); err != nil {
			c.logger.Error(err, "Clearing device pin failed", "deviceID", req.DeviceID)
			metrics.OtaRequests.WithLabelValues(req.Cmd.String(), "error").Inc()
			return
		}
		c.st.RequestFlush()
		metrics.OtaRequests.WithLabelValues(req.Cmd.String(), "ok").Inc()
		c.logger.Info("Device finished update", "deviceID", req.DeviceID)

	default:
		c.logger.Warn("Unknown OTA command dropped", "deviceID", req.DeviceID, "cmd", uint8(req.Cmd))
	}
}

func (c *Catalog) group(groupID string) (*groupRecord, error) {
	raw, err := c.groups.Get(groupID)
	if err != nil {
		return nil, err
	}
	var rec groupRecord
	if err := wire.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode group %q: %w", groupID, err)
	}
	return &rec, nil
}

func (c *Catalog) putGroup(groupID string, rec *groupRecord) error {
	raw, err := wire.Marshal(rec)
	if err != nil {
		return err
	}
	return c.groups.Put(groupID, raw)
}

func (c *Catalog) updateStoredGauge() {
	if n, err := c.images.Len(); err == nil {
		metrics.ImagesStored.Set(float64(n))
	}
}
