package rollback

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newSlots(t *testing.T) (*Slots, *int) {
	t.Helper()
	reboots := 0
	s, err := NewSlots(t.TempDir(), RebootFunc(func() error {
		reboots++
		return nil
	}))
	if err != nil {
		t.Fatalf("NewSlots: %v", err)
	}
	return s, &reboots
}

func TestSlots_InstallAlternatesSlots(t *testing.T) {
	s, _ := newSlots(t)

	slot, err := s.Install(strings.NewReader("v1"))
	if err != nil || slot != "a" {
		t.Fatalf("first install: slot=%q err=%v", slot, err)
	}
	if prev, _ := s.Previous(); prev != "" {
		t.Fatalf("no previous expected after first install, got %q", prev)
	}

	slot, err = s.Install(strings.NewReader("v2"))
	if err != nil || slot != "b" {
		t.Fatalf("second install: slot=%q err=%v", slot, err)
	}
	if prev, _ := s.Previous(); prev != "a" {
		t.Fatalf("previous = %q, want a", prev)
	}
	b, err := os.ReadFile(filepath.Join(s.Dir, "current"))
	if err != nil || string(b) != "v2" {
		t.Fatalf("current image = %q err=%v", b, err)
	}
	if s.Valid() {
		t.Fatal("fresh install must start unvalidated")
	}
}

func TestSlots_MarkAppValid(t *testing.T) {
	s, _ := newSlots(t)
	if err := s.MarkAppValid(); err == nil {
		t.Fatal("marking with nothing installed should fail")
	}
	_, _ = s.Install(strings.NewReader("v1"))
	if err := s.MarkAppValid(); err != nil {
		t.Fatalf("MarkAppValid: %v", err)
	}
	if !s.Valid() {
		t.Fatal("want valid after mark")
	}
}

func TestSlots_RollbackSwapsAndReboots(t *testing.T) {
	s, reboots := newSlots(t)
	_, _ = s.Install(strings.NewReader("good"))
	_ = s.MarkAppValid()
	_, _ = s.Install(strings.NewReader("bad"))

	if err := s.RollbackAndReboot(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if *reboots != 1 {
		t.Fatalf("want 1 reboot, got %d", *reboots)
	}
	b, _ := os.ReadFile(filepath.Join(s.Dir, "current"))
	if string(b) != "good" {
		t.Fatalf("current image after rollback = %q", b)
	}
	if prev, _ := s.Previous(); prev != "b" {
		t.Fatalf("previous after rollback = %q, want b", prev)
	}
	if !s.Valid() {
		t.Fatal("rolled-back image should be marked valid")
	}
}

func TestSlots_RollbackWithoutPrevious(t *testing.T) {
	s, reboots := newSlots(t)
	_, _ = s.Install(strings.NewReader("only"))
	if err := s.RollbackAndReboot(); !errors.Is(err, ErrNoPreviousSlot) {
		t.Fatalf("want ErrNoPreviousSlot, got %v", err)
	}
	if *reboots != 0 {
		t.Fatal("must not reboot when rollback could not start")
	}
}

func TestUnmanaged(t *testing.T) {
	var u Unmanaged
	if err := u.MarkAppValid(); err != nil {
		t.Fatalf("MarkAppValid: %v", err)
	}
	if err := u.RollbackAndReboot(); !errors.Is(err, ErrUnmanaged) {
		t.Fatalf("want ErrUnmanaged, got %v", err)
	}
}
