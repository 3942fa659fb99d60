package blob

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestPutRead(t *testing.T) {
	d, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}
	ref, err := d.Put("Договор аренды.pdf", strings.NewReader("content"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if Name(ref) != "Договор_аренды.pdf" {
		t.Errorf("Name(%q) = %q", ref, Name(ref))
	}

	data, err := d.Read(ref)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "content" {
		t.Errorf("data = %q", data)
	}

	rc, err := d.Open(ref)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if string(b) != "content" {
		t.Errorf("Open content = %q", b)
	}
}

func TestPut_SanitizesPath(t *testing.T) {
	d, _ := NewDir(t.TempDir())
	ref, err := d.Put("../../etc/passwd", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if strings.Contains(ref, "/") || strings.Contains(ref, "..") {
		t.Errorf("ref %q escapes the directory", ref)
	}
	if Name(ref) != "passwd" {
		t.Errorf("Name = %q", Name(ref))
	}
}

func TestRead_InvalidRef(t *testing.T) {
	d, _ := NewDir(t.TempDir())
	for _, ref := range []string{"../secret", "plain", "", "00000000-0000-0000-0000-000000000000_../x"} {
		if _, err := d.Read(ref); !errors.Is(err, ErrInvalidRef) {
			t.Errorf("Read(%q) err = %v, want ErrInvalidRef", ref, err)
		}
	}
}

func TestRead_NotFound(t *testing.T) {
	d, _ := NewDir(t.TempDir())
	_, err := d.Read("00000000-0000-0000-0000-000000000000_missing.txt")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// zeroReader yields an endless stream of zero bytes.
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

func TestPut_TooLarge(t *testing.T) {
	d, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}
	_, err = d.Put("big.pdf", zeroReader{})
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
}
