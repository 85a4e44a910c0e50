// Package rollback keeps two binary slots on disk and flips between them.
//
//	<dir>/slots/a, <dir>/slots/b   binary images
//	<dir>/current  -> slots/<x>    image the supervisor starts
//	<dir>/previous -> slots/<y>    last image before the current one
//	<dir>/current.valid            present once the current image booted fully
//
// Symlinks are replaced through rename, so a power cut leaves either the old
// or the new link, never none.
package rollback

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var (
	ErrNoPreviousSlot = errors.New("rollback: no previous slot")
	ErrUnmanaged      = errors.New("rollback: no slot directory configured")
)

// Rebooter restarts the device or the agent. Implementations normally
// do not return on success.
type Rebooter interface {
	Reboot() error
}

type RebootFunc func() error

func (f RebootFunc) Reboot() error { return f() }

// ExitRebooter ends the process with Code; the service supervisor is
// expected to start the binary behind <dir>/current again.
type ExitRebooter struct {
	Code   int
	Before func() // flush logs etc.
}

// ExitCodeReboot is the conventional code used by ExitRebooter.
const ExitCodeReboot = 75

func (e ExitRebooter) Reboot() error {
	if e.Before != nil {
		e.Before()
	}
	os.Exit(e.Code)
	return nil
}

// Unmanaged is the controller for installs without A/B slots. Every boot
// is accepted and a rollback request always fails.
type Unmanaged struct{}

func (Unmanaged) MarkAppValid() error      { return nil }
func (Unmanaged) RollbackAndReboot() error { return ErrUnmanaged }

type Slots struct {
	Dir      string
	Rebooter Rebooter
}

func NewSlots(dir string, r Rebooter) (*Slots, error) {
	if err := os.MkdirAll(filepath.Join(dir, "slots"), 0o755); err != nil {
		return nil, fmt.Errorf("create slot dir: %w", err)
	}
	return &Slots{Dir: dir, Rebooter: r}, nil
}

func (s *Slots) link(name string) string { return filepath.Join(s.Dir, name) }

func (s *Slots) readSlot(name string) (string, error) {
	target, err := os.Readlink(s.link(name))
	if err != nil {
		return "", err
	}
	return filepath.Base(target), nil
}

// Current returns the active slot name, "" when nothing is installed.
func (s *Slots) Current() (string, error) {
	slot, err := s.readSlot("current")
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	return slot, err
}

func (s *Slots) Previous() (string, error) {
	slot, err := s.readSlot("previous")
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	return slot, err
}

func (s *Slots) Valid() bool {
	cur, err := s.Current()
	if err != nil || cur == "" {
		return false
	}
	b, err := os.ReadFile(s.link("current.valid"))
	return err == nil && string(b) == cur
}

func other(slot string) string {
	if slot == "a" {
		return "b"
	}
	return "a"
}

func (s *Slots) setLink(name, slot string) error {
	tmp := s.link(name + ".tmp")
	_ = os.Remove(tmp)
	if err := os.Symlink(filepath.Join("slots", slot), tmp); err != nil {
		return fmt.Errorf("symlink %s: %w", name, err)
	}
	if err := os.Rename(tmp, s.link(name)); err != nil {
		return fmt.Errorf("swap %s: %w", name, err)
	}
	return nil
}

// Install writes a new image into the inactive slot and makes it current.
// The new image starts out unvalidated.
func (s *Slots) Install(r io.Reader) (string, error) {
	cur, err := s.Current()
	if err != nil {
		return "", err
	}
	next := other(cur)
	dst := filepath.Join(s.Dir, "slots", next)
	tmp := dst + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		return "", fmt.Errorf("create image: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return "", fmt.Errorf("write image: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return "", fmt.Errorf("sync image: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, dst); err != nil {
		return "", fmt.Errorf("place image: %w", err)
	}

	if err := os.Remove(s.link("current.valid")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	if cur != "" {
		if err := s.setLink("previous", cur); err != nil {
			return "", err
		}
	}
	if err := s.setLink("current", next); err != nil {
		return "", err
	}
	return next, nil
}

// MarkAppValid records that the current image finished initialization.
func (s *Slots) MarkAppValid() error {
	cur, err := s.Current()
	if err != nil {
		return err
	}
	if cur == "" {
		return errors.New("rollback: no current slot")
	}
	tmp := s.link("current.valid.tmp")
	if err := os.WriteFile(tmp, []byte(cur), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.link("current.valid"))
}

// RollbackAndReboot swaps current and previous, then reboots. It only
// returns when the swap or the reboot failed.
func (s *Slots) RollbackAndReboot() error {
	prev, err := s.Previous()
	if err != nil {
		return err
	}
	if prev == "" {
		return ErrNoPreviousSlot
	}
	cur, err := s.Current()
	if err != nil {
		return err
	}

	if err := s.setLink("current", prev); err != nil {
		return err
	}
	if cur != "" {
		if err := s.setLink("previous", cur); err != nil {
			return err
		}
	}
	// the previous image was running before the update, so it is known good
	if err := s.MarkAppValid(); err != nil {
		return err
	}
	if s.Rebooter == nil {
		return errors.New("rollback: no rebooter configured")
	}
	if err := s.Rebooter.Reboot(); err != nil {
		return fmt.Errorf("reboot after rollback: %w", err)
	}
	return nil
}
