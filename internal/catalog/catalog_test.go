package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/devlink-io/devlink/internal/bus"
	"github.com/devlink-io/devlink/internal/ota"
	"github.com/devlink-io/devlink/internal/ota/storage"
	"github.com/devlink-io/devlink/internal/store"
)

const testURL = "http://images.example.com/images/"

type testEnv struct {
	cat    *Catalog
	st     *store.Store
	root   string
	events []bus.Event
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	root := filepath.Join(dir, "images")
	env := &testEnv{st: st, root: root}
	env.cat = New(st, storage.NewLocalProvider(root), nil,
		Settings{URL: testURL},
		func(ev bus.Event) { env.events = append(env.events, ev) })

	return env
}

func (e *testEnv) drainEvents() []bus.Event {
	evs := e.events
	e.events = nil
	return evs
}

func testVersion(major uint8) ota.Version {
	return ota.Version{Major: major, Minor: 0, Patch: 0, Commit: 0,
		Hash: [8]byte{'d', 'e', 'a', 'd', 'b', 'e', 'e', 'f'}}
}

func testUpdate(major uint8) *ota.Update {
	return &ota.Update{
		Package: &ota.Package{Version: testVersion(major)},
		Images: []ota.ImageBlob{
			{Data: []byte{1, 2, 3}, ImageType: ota.ImagePrimary},
			{Data: []byte{4, 5, 6}, ImageType: ota.ImageSecondary},
		},
	}
}

func mustSave(t *testing.T, env *testEnv, major uint8) string {
	t.Helper()

	id, err := env.cat.SavePackage(context.Background(), testUpdate(major))
	if err != nil {
		t.Fatalf("SavePackage failed: %v", err)
	}
	return id
}

func TestSavePackageAndGet(t *testing.T) {
	env := newTestEnv(t)

	up := testUpdate(1)
	id, err := env.cat.SavePackage(context.Background(), up)
	if err != nil {
		t.Fatalf("SavePackage failed: %v", err)
	}
	if want := "1.0.0-0-deadbeef"; id != want {
		t.Errorf("update id = %q, want %q", id, want)
	}
	if up.Images != nil {
		t.Error("ingress images not cleared after save")
	}

	pkg, err := env.cat.Package(id)
	if err != nil {
		t.Fatalf("Package failed: %v", err)
	}
	if pkg.DateAdded == nil {
		t.Error("DateAdded not stamped")
	}
	if len(pkg.Files) != 2 {
		t.Fatalf("got %d files, want 2", len(pkg.Files))
	}
	for _, f := range pkg.Files {
		if f.Host != testURL {
			t.Errorf("file host = %q, want %q", f.Host, testURL)
		}
		if f.File != ota.FilePath(f.ImageType, id) {
			t.Errorf("file path = %q, want %q", f.File, ota.FilePath(f.ImageType, id))
		}
		// The blob must be on disk under the advertised path.
		if _, err := os.Stat(filepath.Join(env.root, filepath.FromSlash(f.File))); err != nil {
			t.Errorf("blob missing: %v", err)
		}
	}
}

func TestSavePackageValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		update *ota.Update
	}{
		{name: "nil update", update: nil},
		{name: "no package", update: &ota.Update{Images: []ota.ImageBlob{{Data: []byte{1}, ImageType: ota.ImagePrimary}}}},
		{name: "no images", update: &ota.Update{Package: &ota.Package{Version: testVersion(1)}}},
		{
			name: "duplicate image type",
			update: &ota.Update{
				Package: &ota.Package{Version: testVersion(1)},
				Images: []ota.ImageBlob{
					{Data: []byte{1}, ImageType: ota.ImagePrimary},
					{Data: []byte{2}, ImageType: ota.ImagePrimary},
				},
			},
		},
		{
			name: "unknown image type",
			update: &ota.Update{
				Package: &ota.Package{Version: testVersion(1)},
				Images:  []ota.ImageBlob{{Data: []byte{1}, ImageType: ota.ImageType(9)}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.cat.SavePackage(ctx, tt.update); err == nil {
				t.Error("SavePackage succeeded, want error")
			}
		})
	}

	// Nothing may have been committed.
	n, err := env.st.Tree(store.TreeImages).Len()
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	if n != 0 {
		t.Errorf("images tree has %d entries after failed saves, want 0", n)
	}
}

func TestSavePackageOverwrite(t *testing.T) {
	env := newTestEnv(t)

	mustSave(t, env, 1)
	mustSave(t, env, 1)

	n, err := env.st.Tree(store.TreeImages).Len()
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	if n != 1 {
		t.Errorf("images tree has %d entries after overwrite, want 1", n)
	}
}

func TestLinkDeviceResolves(t *testing.T) {
	env := newTestEnv(t)
	id := mustSave(t, env, 1)
	env.drainEvents()

	if err := env.cat.Link("dev-1", "", id); err != nil {
		t.Fatalf("Link failed: %v", err)
	}

	pkg, err := env.cat.Resolve("dev-1")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if pkg == nil || pkg.UpdateID() != id {
		t.Fatalf("Resolve = %v, want package %s", pkg, id)
	}

	// The link pushes the assignment to the device immediately.
	evs := env.drainEvents()
	if len(evs) != 1 {
		t.Fatalf("got %d events, want 1", len(evs))
	}
	resp, ok := evs[0].(bus.OtaResponse)
	if !ok {
		t.Fatalf("event is %T, want OtaResponse", evs[0])
	}
	if resp.Update.UID != "dev-1" || resp.Update.Package == nil {
		t.Errorf("unexpected response %+v", resp.Update)
	}
}

func TestLinkUnknownImage(t *testing.T) {
	env := newTestEnv(t)

	if err := env.cat.Link("dev-1", "", "no-such-image"); err == nil {
		t.Error("Link with unknown image succeeded, want error")
	}
	if err := env.cat.Link("", "", "anything"); err == nil {
		t.Error("Link without device or group succeeded, want error")
	}
}

func TestLinkGroupMembership(t *testing.T) {
	env := newTestEnv(t)
	id := mustSave(t, env, 1)

	// Device link with a group also enrolls the device in the group.
	if err := env.cat.Link("dev-1", "fleet-a", id); err != nil {
		t.Fatalf("Link failed: %v", err)
	}

	rec, err := env.cat.group("fleet-a")
	if err != nil {
		t.Fatalf("group lookup failed: %v", err)
	}
	if !rec.hasMember("dev-1") {
		t.Error("device not enrolled in group")
	}
}

func TestGroupPinResolution(t *testing.T) {
	env := newTestEnv(t)
	groupPkg := mustSave(t, env, 1)
	devicePkg := mustSave(t, env, 2)

	// Enroll dev-1 via a device link, then pin the group.
	if err := env.cat.Link("dev-1", "fleet-a", devicePkg); err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	if err := env.cat.Link("", "fleet-a", groupPkg); err != nil {
		t.Fatalf("group Link failed: %v", err)
	}

	// Device pin wins over the group pin.
	pkg, err := env.cat.Resolve("dev-1")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if pkg == nil || pkg.UpdateID() != devicePkg {
		t.Errorf("Resolve = %v, want device pin %s", pkg, devicePkg)
	}

	// A member without a device pin falls back to the group pin.
	rec, err := env.cat.group("fleet-a")
	if err != nil {
		t.Fatalf("group lookup failed: %v", err)
	}
	rec.Members = append(rec.Members, "dev-2")
	if err := env.cat.putGroup("fleet-a", rec); err != nil {
		t.Fatalf("putGroup failed: %v", err)
	}

	pkg, err = env.cat.Resolve("dev-2")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if pkg == nil || pkg.UpdateID() != groupPkg {
		t.Errorf("Resolve via group = %v, want %s", pkg, groupPkg)
	}
}

func TestResolveNoAssociation(t *testing.T) {
	env := newTestEnv(t)
	mustSave(t, env, 1)

	pkg, err := env.cat.Resolve("stranger")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if pkg != nil {
		t.Errorf("Resolve = %v, want nil for unassociated device", pkg)
	}
}

func TestUnlinkDevice(t *testing.T) {
	env := newTestEnv(t)
	id := mustSave(t, env, 1)

	if err := env.cat.Link("dev-1", "fleet-a", id); err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	if err := env.cat.Unlink("dev-1", ""); err != nil {
		t.Fatalf("Unlink failed: %v", err)
	}

	pkg, err := env.cat.Resolve("dev-1")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if pkg != nil {
		t.Errorf("device still resolves to %v after unlink", pkg)
	}

	rec, err := env.cat.group("fleet-a")
	if err != nil {
		t.Fatalf("group lookup failed: %v", err)
	}
	if rec.hasMember("dev-1") {
		t.Error("device membership survived unlink")
	}
}

func TestUnlinkGroupKeepsMembers(t *testing.T) {
	env := newTestEnv(t)
	id := mustSave(t, env, 1)

	if err := env.cat.Link("dev-1", "fleet-a", id); err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	if err := env.cat.Link("", "fleet-a", id); err != nil {
		t.Fatalf("group Link failed: %v", err)
	}

	if err := env.cat.Unlink("", "fleet-a"); err != nil {
		t.Fatalf("group Unlink failed: %v", err)
	}

	rec, err := env.cat.group("fleet-a")
	if err != nil {
		t.Fatalf("group lookup failed: %v", err)
	}
	if rec.UpdateID != "" {
		t.Errorf("group pin = %q after unlink, want empty", rec.UpdateID)
	}
	if !rec.hasMember("dev-1") {
		t.Error("group lost its members on unlink")
	}

	// Unlinking an absent group is a no-op.
	if err := env.cat.Unlink("", "no-such-group"); err != nil {
		t.Errorf("Unlink(absent group) = %v, want nil", err)
	}
}

func TestDeletePackageCascade(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := mustSave(t, env, 1)

	if err := env.cat.Link("dev-1", "fleet-a", id); err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	if err := env.cat.Link("", "fleet-a", id); err != nil {
		t.Fatalf("group Link failed: %v", err)
	}

	if err := env.cat.DeletePackage(ctx, id); err != nil {
		t.Fatalf("DeletePackage failed: %v", err)
	}

	if _, err := env.cat.Package(id); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Package after delete = %v, want ErrNotFound", err)
	}
	if _, err := os.Stat(filepath.Join(env.root, id)); !os.IsNotExist(err) {
		t.Errorf("image directory still present: %v", err)
	}

	// Device record is gone entirely; the group keeps its membership.
	if _, err := env.st.Tree(store.TreeDevices).Get("dev-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("device record survived package delete: %v", err)
	}
	rec, err := env.cat.group("fleet-a")
	if err != nil {
		t.Fatalf("group lookup failed: %v", err)
	}
	if rec.UpdateID != "" {
		t.Errorf("group pin = %q after package delete, want empty", rec.UpdateID)
	}
	if !rec.hasMember("dev-1") {
		t.Error("group membership lost on package delete")
	}
}

func TestRequestCheckEmitsResponse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := mustSave(t, env, 1)

	if err := env.cat.Link("dev-1", "", id); err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	env.drainEvents()

	env.cat.Process(ctx, bus.OtaRequest{DeviceID: "dev-1", Cmd: ota.CommandCheck})

	evs := env.drainEvents()
	if len(evs) != 1 {
		t.Fatalf("got %d events, want 1", len(evs))
	}
	resp := evs[0].(bus.OtaResponse)
	if resp.Update.UID != "dev-1" || resp.Update.Package == nil {
		t.Errorf("unexpected response %+v", resp.Update)
	}

	// Unknown devices still get an answer, just with no package.
	env.cat.Process(ctx, bus.OtaRequest{DeviceID: "stranger", Cmd: ota.CommandCheck})
	evs = env.drainEvents()
	if len(evs) != 1 {
		t.Fatalf("got %d events, want 1", len(evs))
	}
	resp = evs[0].(bus.OtaResponse)
	if resp.Update.UID != "stranger" || resp.Update.Package != nil {
		t.Errorf("unexpected no-update response %+v", resp.Update)
	}
}

func TestRequestDoneClearsPinOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := mustSave(t, env, 1)

	if err := env.cat.Link("dev-1", "", id); err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	if err := env.cat.Link("dev-2", "", id); err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	env.drainEvents()

	env.cat.Process(ctx, bus.OtaRequest{DeviceID: "dev-1", Cmd: ota.CommandDone})

	if evs := env.drainEvents(); len(evs) != 0 {
		t.Errorf("Done emitted %d events, want 0", len(evs))
	}

	// dev-1's pin is gone but the shared image and dev-2's pin survive.
	pkg, err := env.cat.Resolve("dev-1")
	if err != nil || pkg != nil {
		t.Errorf("dev-1 still resolves: %v, %v", pkg, err)
	}
	pkg, err = env.cat.Resolve("dev-2")
	if err != nil || pkg == nil {
		t.Errorf("dev-2 lost its pin: %v, %v", pkg, err)
	}
	if _, err := env.cat.Package(id); err != nil {
		t.Errorf("image deleted on Done: %v", err)
	}
}

func TestProcessAddPackage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.cat.Process(ctx, bus.OtaNewPackage{Update: testUpdate(1)})
	evs := env.drainEvents()
	if len(evs) != 1 {
		t.Fatalf("got %d events, want 1", len(evs))
	}
	ack := evs[0].(bus.OtaAddResponse)
	if !ack.OK {
		t.Errorf("add rejected: %s", ack.Message)
	}
	if ack.Message != "1.0.0-0-deadbeef" {
		t.Errorf("ack message = %q, want the update id", ack.Message)
	}

	// A broken update is answered with a rejection, not silence.
	env.cat.Process(ctx, bus.OtaNewPackage{Update: &ota.Update{}})
	evs = env.drainEvents()
	if len(evs) != 1 {
		t.Fatalf("got %d events, want 1", len(evs))
	}
	ack = evs[0].(bus.OtaAddResponse)
	if ack.OK {
		t.Error("broken update acknowledged as OK")
	}
}

func TestListRequests(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := mustSave(t, env, 1)

	if err := env.cat.Link("dev-1", "fleet-a", id); err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	env.drainEvents()

	env.cat.Process(ctx, bus.OtaGroupListRequest{})
	env.cat.Process(ctx, bus.OtaImageListRequest{})

	evs := env.drainEvents()
	if len(evs) != 2 {
		t.Fatalf("got %d events, want 2", len(evs))
	}

	groups := evs[0].(bus.OtaGroupListResponse)
	if len(groups.Groups) != 1 || groups.Groups[0] != "fleet-a" {
		t.Errorf("groups = %v, want [fleet-a]", groups.Groups)
	}

	images := evs[1].(bus.OtaImageListResponse)
	if len(images.Images) != 1 || images.Images[0].UpdateID != id {
		t.Errorf("images = %+v, want one entry %s", images.Images, id)
	}
	if images.Images[0].Package == nil || len(images.Images[0].Package.Files) != 2 {
		t.Error("image entry carries no decoded package")
	}
}

func TestProcessIgnoresForeignEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.cat.Process(ctx, bus.ApplicationRequest{UID: "dev-1", Target: "app", Msg: []byte("x")})
	env.cat.Process(ctx, bus.InfluxDataSave{Query: "m v=1"})

	if evs := env.drainEvents(); len(evs) != 0 {
		t.Errorf("foreign events produced %d responses, want 0", len(evs))
	}
}

func TestDateAddedPreserved(t *testing.T) {
	env := newTestEnv(t)

	stamped := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	up := testUpdate(1)
	up.Package.DateAdded = &stamped

	id, err := env.cat.SavePackage(context.Background(), up)
	if err != nil {
		t.Fatalf("SavePackage failed: %v", err)
	}

	pkg, err := env.cat.Package(id)
	if err != nil {
		t.Fatalf("Package failed: %v", err)
	}
	if pkg.DateAdded == nil || !pkg.DateAdded.Equal(stamped) {
		t.Errorf("DateAdded = %v, want %v", pkg.DateAdded, stamped)
	}
}
