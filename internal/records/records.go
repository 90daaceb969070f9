// Package records reads the external known-record-gap table: a two-column
// (gap, merit) source from which the starting log-prime of the best known
// gap of each size is reconstructed (spec.md §6, "Record-gap input").
//
// Grounded on the teacher's StorageManager-adjacent file-reading idiom
// (plain bufio.Scanner line loop, no CSV/encoding library — the teacher
// itself only ever writes CSV, never parses a third-party tabular format,
// so this mirrors that same minimal stdlib approach for the read side).
package records

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Table maps an even gap to the log of its best known starting prime.
// Gaps with no entry are treated as having log_start = +Inf (never yet
// observed at any magnitude).
type Table struct {
	logStart map[int]float64
	maxGap   int
}

// Load parses a two-column (gap, merit) stream, reconstructing
// log_start_prime = gap / merit for each row. Blank lines and lines
// starting with '#' are skipped. maxGap bounds PossibleRecordGaps.
func Load(r io.Reader, maxGap int) (*Table, error) {
	t := &Table{logStart: make(map[int]float64), maxGap: maxGap}
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("records: line %d: want 2 columns, got %d", lineNo, len(fields))
		}
		gap, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("records: line %d: bad gap %q: %w", lineNo, fields[0], err)
		}
		merit, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("records: line %d: bad merit %q: %w", lineNo, fields[1], err)
		}
		if merit <= 0 {
			continue
		}
		t.logStart[gap] = float64(gap) / merit
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

// LogStart returns the log of the best known starting prime for gap, or
// +Inf if no record of that gap size has been catalogued.
func (t *Table) LogStart(gap int) float64 {
	if v, ok := t.logStart[gap]; ok {
		return v
	}
	return math.Inf(1)
}

// Has reports whether gap has a catalogued record.
func (t *Table) Has(gap int) bool {
	_, ok := t.logStart[gap]
	return ok
}

// MaxGap returns the upper bound this table was loaded with.
func (t *Table) MaxGap() int { return t.maxGap }

// PossibleRecordGaps returns the even gaps g in [2, MaxGap] with
// LogStart(g) > nLog (no catalogued gap of that size reaches this
// magnitude yet) and merit g/nLog <= maxMerit, in ascending order
// (spec.md §4.5, "Possible-record-gaps").
func (t *Table) PossibleRecordGaps(nLog, maxMerit float64) []int {
	var out []int
	for g := 2; g <= t.maxGap; g += 2 {
		if t.LogStart(g) > nLog && float64(g)/nLog <= maxMerit {
			out = append(out, g)
		}
	}
	return out
}
