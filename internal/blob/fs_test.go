package blob

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
)

func TestPutGet(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	ctx := context.Background()

	ref, err := s.Put(ctx, "pre submit", []byte("png-bytes"), "image/png")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.HasSuffix(ref, ".png") || !strings.Contains(ref, "pre_submit") {
		t.Errorf("ref = %q", ref)
	}

	got, err := s.Get(ctx, ref)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "png-bytes" {
		t.Errorf("Get = %q", got)
	}

	other, _ := s.Put(ctx, "pre submit", []byte("x"), "text/html; charset=utf-8")
	if other == ref || !strings.HasSuffix(other, ".html") {
		t.Errorf("second ref = %q", other)
	}
}

func TestGetRejectsEscapingRefs(t *testing.T) {
	s, _ := NewFSStore(t.TempDir())
	for _, ref := range []string{"", "../etc/passwd", "/etc/passwd"} {
		if _, err := s.Get(context.Background(), ref); !errors.Is(err, ErrInvalidRef) {
			t.Errorf("Get(%q) err = %v, want ErrInvalidRef", ref, err)
		}
	}
}

func TestGetMissing(t *testing.T) {
	s, _ := NewFSStore(t.TempDir())
	_, err := s.Get(context.Background(), "2026-01-01/nope.png")
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want ErrNotExist", err)
	}
}
