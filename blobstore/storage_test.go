package blobstore

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// exerciseStorage runs the shared contract against a backend.
func exerciseStorage(t *testing.T, s Storage) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := s.Read(ctx, "missing"); err != nil || ok {
		t.Fatalf("Read(missing) = ok %v, err %v; want false, nil", ok, err)
	}

	blob := []byte(`{"k":{"items":[],"timestamp":0}}`)
	if err := s.Write(ctx, "media-cache", blob); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, ok, err := s.Read(ctx, "media-cache")
	if err != nil || !ok {
		t.Fatalf("Read() ok = %v, err = %v", ok, err)
	}
	if !bytes.Equal(got, blob) {
		t.Errorf("Read() = %s, want %s", got, blob)
	}

	if err := s.Write(ctx, "media-cache", []byte(`{}`)); err != nil {
		t.Fatalf("Write(overwrite) error = %v", err)
	}
	got, _, _ = s.Read(ctx, "media-cache")
	if string(got) != `{}` {
		t.Errorf("Read() after overwrite = %s, want {}", got)
	}

	if err := s.Remove(ctx, "media-cache"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, ok, _ := s.Read(ctx, "media-cache"); ok {
		t.Error("Read() after Remove should miss")
	}
	if err := s.Remove(ctx, "media-cache"); err != nil {
		t.Errorf("Remove() twice error = %v, want nil", err)
	}

	if err := s.Write(ctx, "../escape", blob); !errors.Is(err, ErrInvalidName) {
		t.Errorf("Write(../escape) error = %v, want ErrInvalidName", err)
	}
}

func TestMemory_Contract(t *testing.T) {
	m := NewMemory()
	exerciseStorage(t, m)
	if m.Writes() != 2 {
		t.Errorf("Writes() = %d, want 2", m.Writes())
	}
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	blob := []byte("abc")
	_ = m.Write(ctx, "x", blob)
	blob[0] = 'z'

	got, _, _ := m.Read(ctx, "x")
	if string(got) != "abc" {
		t.Errorf("stored blob mutated through caller slice: %s", got)
	}
	got[1] = 'z'
	again, _, _ := m.Read(ctx, "x")
	if string(again) != "abc" {
		t.Errorf("stored blob mutated through returned slice: %s", again)
	}
}

func TestMemory_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewMemory().Write(ctx, "x", nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Write() error = %v, want context.Canceled", err)
	}
}

func TestFile_Contract(t *testing.T) {
	f, err := NewFile(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}
	exerciseStorage(t, f)
}

func TestFile_EmptyDir(t *testing.T) {
	if _, err := NewFile("  "); err == nil {
		t.Error("NewFile(blank) should fail")
	}
}

func TestSQLite_Contract(t *testing.T) {
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer s.Close()
	exerciseStorage(t, s)
}

func TestSQLite_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	s, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	if err := s.Write(ctx, "media-cache", []byte("persisted")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	_ = s.Close()

	s, err = OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite() reopen error = %v", err)
	}
	defer s.Close()
	got, ok, err := s.Read(ctx, "media-cache")
	if err != nil || !ok || string(got) != "persisted" {
		t.Errorf("Read() after reopen = %q, %v, %v", got, ok, err)
	}
}

func TestRedis_Contract(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	exerciseStorage(t, NewRedis(client, ""))
}

func TestRedis_Prefix(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := OpenRedis(context.Background(), RedisConfig{Addr: mr.Addr(), Prefix: "app:"})
	if err != nil {
		t.Fatalf("OpenRedis() error = %v", err)
	}
	defer s.Close()

	if err := s.Write(context.Background(), "media-cache", []byte("v")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got, err := mr.Get("app:media-cache"); err != nil || got != "v" {
		t.Errorf("raw key = %q, %v; want v", got, err)
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{"plain", "media-cache", nil},
		{"empty", "", ErrInvalidName},
		{"blank", "   ", ErrInvalidName},
		{"slash", "a/b", ErrInvalidName},
		{"backslash", `a\b`, ErrInvalidName},
		{"dotdot", "..", ErrInvalidName},
		{"max", strings.Repeat("a", MaxNameLength), nil},
		{"too long", strings.Repeat("a", MaxNameLength+1), ErrNameTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateName(tt.in); !errors.Is(err, tt.want) {
				t.Errorf("ValidateName(%q) = %v, want %v", tt.in, err, tt.want)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{"default", Config{}, nil},
		{"memory", Config{Driver: "MEMORY"}, nil},
		{"file", Config{Driver: DriverFile, Path: filepath.Join(dir, "files")}, nil},
		{"sqlite", Config{Driver: DriverSQLite, Path: filepath.Join(dir, "db", "c.db")}, nil},
		{"unknown", Config{Driver: "etcd"}, ErrUnknownDriver},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(ctx, tt.cfg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Open() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer s.Close()
			if err := s.Write(ctx, "ping", []byte("1")); err != nil {
				t.Errorf("Write() error = %v", err)
			}
		})
	}
}

func TestOpen_FailedDriverReturnsNilStorage(t *testing.T) {
	s, err := Open(context.Background(), Config{Driver: DriverFile})
	if err == nil {
		t.Fatal("Open(file without path) should fail")
	}
	if s != nil {
		t.Fatalf("Open() storage = %#v, want a nil interface on error", s)
	}
}
