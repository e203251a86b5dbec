// Package session provides the per-session view of a recording: who sat in
// which slot, who wore the device, and every participant's audio and
// transcript, decoded once and shared read-only by all clip workers.
package session

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// ErrResourceNotFound is returned when a roster row, recording or transcript
// required by a session does not exist.
var ErrResourceNotFound = errors.New("session: resource not found")

// slotPrefix is the roster column prefix of participant slots (pos1, pos2, …).
const slotPrefix = "pos"

// Roster is one row of the session metadata table.
type Roster struct {
	Session string

	// Slots maps slot number (1-based) to participant id.
	Slots map[int]string

	// columns keeps every raw column for device-specific lookups.
	columns map[string]string
}

// PIDs returns the participant ids in slot order, skipping empty slots.
func (r *Roster) PIDs() []string {
	slots := make([]int, 0, len(r.Slots))
	for n := range r.Slots {
		slots = append(slots, n)
	}
	sort.Ints(slots)
	out := make([]string, 0, len(slots))
	for _, n := range slots {
		if pid := r.Slots[n]; pid != "" {
			out = append(out, pid)
		}
	}
	return out
}

// Slot returns the 1-based slot of pid.
func (r *Roster) Slot(pid string) (int, bool) {
	for n, p := range r.Slots {
		if p == pid {
			return n, true
		}
	}
	return 0, false
}

// Wearer returns the participant whose slot number is stored in column, e.g.
// "aria_pos". An empty column yields "" with no error.
func (r *Roster) Wearer(column string) (string, error) {
	if column == "" {
		return "", nil
	}
	raw, ok := r.columns[column]
	if !ok {
		return "", fmt.Errorf("session: roster for %q has no column %q", r.Session, column)
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("session: roster column %q value %q is not a slot number", column, raw)
	}
	pid, ok := r.Slots[n]
	if !ok || pid == "" {
		return "", fmt.Errorf("session: roster column %q points at empty slot %d", column, n)
	}
	return pid, nil
}

// LoadRoster reads the roster CSV at path and returns the row for session.
func LoadRoster(path, session string) (*Roster, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: roster %q", ErrResourceNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("session: open roster %q: %w", path, err)
	}
	defer f.Close()

	r, err := ReadRoster(f, session)
	if err != nil {
		return nil, fmt.Errorf("session: roster %q: %w", path, err)
	}
	return r, nil
}

// ReadRoster parses roster CSV from r and returns the row for session. The
// first record is the header; it must contain a "session" column.
func ReadRoster(r io.Reader, session string) (*Roster, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	sessionCol := -1
	for i, h := range header {
		header[i] = strings.TrimSpace(h)
		if header[i] == "session" {
			sessionCol = i
		}
	}
	if sessionCol < 0 {
		return nil, errors.New(`header has no "session" column`)
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if strings.TrimSpace(rec[sessionCol]) != session {
			continue
		}
		return newRoster(session, header, rec), nil
	}
	return nil, fmt.Errorf("%w: no roster row for session %q", ErrResourceNotFound, session)
}

func newRoster(session string, header, rec []string) *Roster {
	ro := &Roster{
		Session: session,
		Slots:   make(map[int]string),
		columns: make(map[string]string, len(header)),
	}
	for i, h := range header {
		if i >= len(rec) {
			break
		}
		val := strings.TrimSpace(rec[i])
		ro.columns[h] = val
		if n, err := strconv.Atoi(strings.TrimPrefix(h, slotPrefix)); err == nil && strings.HasPrefix(h, slotPrefix) {
			ro.Slots[n] = val
		}
	}
	return ro
}
