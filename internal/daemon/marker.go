package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// MarkerFile is the liveness marker kept in the state directory.
const MarkerFile = "daemon.pid"

// ErrCorruptMarker is returned when the marker does not hold a PID.
var ErrCorruptMarker = errors.New("daemon marker is corrupt")

// Marker is the on-disk record of the running daemon's PID.
type Marker struct {
	path string
}

func NewMarker(stateDir string) *Marker {
	return &Marker{path: filepath.Join(stateDir, MarkerFile)}
}

func (m *Marker) Path() string { return m.path }

// Create writes pid to the marker. The content is written to a temporary file
// first and hard-linked into place, so readers never observe a partial PID
// and creation fails with os.ErrExist when a marker is already present.
func (m *Marker) Create(pid int) error {
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+MarkerFile+".*.tmp")
	if err != nil {
		return fmt.Errorf("create marker temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(strconv.Itoa(pid) + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("write marker temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync marker temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close marker temp: %w", err)
	}
	if err := os.Link(tmpPath, m.path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("marker %s: %w", m.path, os.ErrExist)
		}
		return fmt.Errorf("install marker: %w", err)
	}
	return nil
}

// Read returns the PID recorded in the marker. A missing marker yields an
// error matching os.ErrNotExist.
func (m *Marker) Read() (int, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("%s: %w", m.path, ErrCorruptMarker)
	}
	return pid, nil
}

// Remove deletes the marker. A missing marker is not an error.
func (m *Marker) Remove() error {
	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove marker: %w", err)
	}
	return nil
}

// RemoveIf deletes the marker only while it still names pid.
func (m *Marker) RemoveIf(pid int) error {
	current, err := m.Read()
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if current != pid {
		return nil
	}
	return m.Remove()
}
