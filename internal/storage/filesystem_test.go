package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestSanitizeKey(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "jobs/1/a.png", want: "jobs/1/a.png"},
		{in: "/jobs//1/./a.png", want: "jobs/1/a.png"},
		{in: `jobs\1\a.png`, want: "jobs/1/a.png"},
		{in: "../etc/passwd", wantErr: true},
		{in: "jobs/../../x", wantErr: true},
		{in: "  ", wantErr: true},
		{in: ".", wantErr: true},
		{in: "..", wantErr: true},
	}
	for _, tc := range cases {
		got, err := sanitizeKey(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("sanitizeKey(%q) = %q, want error", tc.in, got)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("sanitizeKey(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}

func TestFileStoreWriteReadList(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	key, err := store.Write(ctx, "jobs/3/p1.png", []byte("one"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "jobs", "3", "p1.png")); err != nil {
		t.Fatalf("file not written at %s: %v", key, err)
	}
	data, err := store.Read(ctx, key)
	if err != nil || string(data) != "one" {
		t.Fatalf("Read = %q, %v", data, err)
	}

	names, err := store.List(ctx, "jobs/3")
	if err != nil || len(names) != 1 || names[0] != "p1.png" {
		t.Fatalf("List = %v, %v", names, err)
	}
	missing, err := store.List(ctx, "jobs/404")
	if err != nil || len(missing) != 0 {
		t.Fatalf("List of missing prefix = %v, %v", missing, err)
	}

	if err := store.RemoveAll(ctx, "jobs/3"); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}
	if _, err := store.Read(ctx, key); err == nil {
		t.Fatal("Read after RemoveAll succeeded")
	}
}

func TestFileStoreHonoursContext(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Write(ctx, "a", []byte("x")); err == nil {
		t.Fatal("Write with cancelled context succeeded")
	}
}

func TestPageSpoolRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	spool := NewPageSpool(store)

	if err := spool.Save(ctx, 9, map[string][]byte{"page 1.png": []byte("a"), "sub/dir.png": []byte("b"), "..": []byte("c")}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	merged, err := spool.Merge(ctx, 9, map[string][]byte{"page 2.png": []byte("d"), "page 1.png": []byte("a2")})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	want := map[string]string{"page 1.png": "a2", "page 2.png": "d", "sub/dir.png": "b", "..": "c"}
	if len(merged) != len(want) {
		t.Fatalf("Merge returned %d pages, want %d: %v", len(merged), len(want), merged)
	}
	for name, data := range want {
		if string(merged[name]) != data {
			t.Errorf("page %q = %q, want %q", name, merged[name], data)
		}
	}

	if err := spool.Discard(ctx, 9); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	loaded, err := spool.Load(ctx, 9)
	if err != nil || len(loaded) != 0 {
		t.Fatalf("Load after Discard = %v, %v", loaded, err)
	}
}

func TestNilPageSpool(t *testing.T) {
	var spool *PageSpool
	fresh := map[string][]byte{"a": []byte("x")}
	got, err := spool.Merge(context.Background(), 1, fresh)
	if err != nil || len(got) != 1 {
		t.Fatalf("Merge on nil spool = %v, %v", got, err)
	}
	if NewPageSpool(nil) != nil {
		t.Fatal("NewPageSpool(nil) should be nil")
	}
}
