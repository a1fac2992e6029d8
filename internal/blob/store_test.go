package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/Zikki-Qing/tabmend/internal/common"
)

func newStore(t *testing.T) Store {
	t.Helper()
	s, err := NewFSStore(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestPutGetDelete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	data := []byte("a,b\n1,2\n")
	if err := s.Put(ctx, "job-1/source.csv", data); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get(ctx, "job-1/source.csv")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("got %q, want %q", got, data)
	}

	if err := s.Delete(ctx, "job-1/source.csv"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "job-1/source.csv"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("get after delete: %v, want ErrNotFound", err)
	}
	// Deleting a missing blob is not an error.
	if err := s.Delete(ctx, "job-1/source.csv"); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestGetMissing(t *testing.T) {
	s := newStore(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRejectsTraversalKeys(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	for _, key := range []string{"../escape", "..", "/abs/path", "a/../../b"} {
		if err := s.Put(ctx, key, []byte("x")); !errors.Is(err, common.ErrStorage) {
			t.Errorf("Put(%q) err = %v, want ErrStorage", key, err)
		}
	}
}

func TestPing(t *testing.T) {
	s := newStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestOverwrite(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if err := s.Put(ctx, "k", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "k", []byte("v2")); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "v2" {
		t.Errorf("got %q, want v2", got)
	}
}
