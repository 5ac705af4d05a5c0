package blob

import (
	"bytes"
	"context"
	"io"
	"testing"

	"lexgraph/internal/errors"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		cfg  Config
		want Driver
	}{
		{Config{Root: t.TempDir()}, DriverFilesystem},
		{Config{Driver: DriverFilesystem, Root: t.TempDir()}, DriverFilesystem},
		{Config{Driver: DriverMemory}, DriverMemory},
	}
	for _, tc := range cases {
		store, err := Open(ctx, tc.cfg)
		if err != nil {
			t.Fatalf("open %q: %v", tc.cfg.Driver, err)
		}
		if store.Driver() != tc.want {
			t.Fatalf("driver = %s, want %s", store.Driver(), tc.want)
		}
	}
	if _, err := Open(ctx, Config{Driver: "tape"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
	if _, err := Open(ctx, Config{Driver: DriverS3}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}

// TestDriversShareSemantics runs the same overwrite and not-found checks
// against every driver.
func TestDriversShareSemantics(t *testing.T) {
	ctx := context.Background()
	fsStore, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("fs: %v", err)
	}
	for _, store := range []Store{fsStore, NewMemory(), NewMockS3ForTests()} {
		t.Run(string(store.Driver()), func(t *testing.T) {
			if _, err := store.Put(ctx, "p/snapshot.json", bytes.NewReader([]byte("v1")), PutOptions{}); err != nil {
				t.Fatalf("put: %v", err)
			}
			_, err := store.Put(ctx, "p/snapshot.json", bytes.NewReader([]byte("v2")), PutOptions{})
			if !errors.Is(err, ErrExists) {
				t.Fatalf("expected ErrExists, got %v", err)
			}
			if _, err := store.Put(ctx, "p/snapshot.json", bytes.NewReader([]byte("v2")), PutOptions{Overwrite: true}); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			_, rc, err := store.Get(ctx, "p/snapshot.json")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			data, _ := io.ReadAll(rc)
			_ = rc.Close()
			if string(data) != "v2" {
				t.Fatalf("got %q", data)
			}
			if _, _, err := store.Get(ctx, "p/missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if _, err := store.Head(ctx, "p/missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound on head, got %v", err)
			}
		})
	}
}
