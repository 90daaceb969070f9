// Package unknownfile implements the per-m unknown-offset line codec (C5):
// one line per valid m, two whitespace/"|"-delimited blocks of distances
// from the centre (prev side negative-by-convention, next side positive),
// in either a sparse signed-decimal form or a two-byte RLE delta form.
//
// Grounded on original_source/combined_sieve.cpp's unknown-line writer and
// on the teacher's StorageManager (generalizing its fixed CSV schema to a
// streaming, autodetecting line codec); the RLE byte packing follows the
// chr(48+hi),chr(48+lo) scheme used in gap_stats.py.
package unknownfile

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Line is one decoded record: the valid-m index mi, and the ascending
// positive-magnitude distances of unknown positions on each side of centre.
type Line struct {
	MI   int
	Prev []int
	Next []int
}

// Encode renders l as a single line (no trailing newline), in RLE or sparse
// form.
func Encode(l Line, rle bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d : -%d +%d |", l.MI, len(l.Prev), len(l.Next))
	if rle {
		sb.WriteByte(' ')
		sb.WriteString(encodeRLEBlock(l.Prev))
		sb.WriteString(" | ")
		sb.WriteString(encodeRLEBlock(l.Next))
	} else {
		sb.WriteByte(' ')
		sb.WriteString(encodeSparseBlock(l.Prev, true))
		sb.WriteString(" | ")
		sb.WriteString(encodeSparseBlock(l.Next, false))
	}
	return sb.String()
}

func encodeSparseBlock(vals []int, negative bool) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		if negative {
			parts[i] = strconv.Itoa(-v)
		} else {
			parts[i] = strconv.Itoa(v)
		}
	}
	return strings.Join(parts, " ")
}

// encodeRLEBlock packs ascending magnitudes as successive deltas from 0,
// each delta as two bytes: chr(48+hi), chr(48+lo) with delta = hi*128+lo.
func encodeRLEBlock(vals []int) string {
	var sb strings.Builder
	prev := 0
	for _, v := range vals {
		delta := v - prev
		prev = v
		sb.WriteByte(byte(48 + delta/128))
		sb.WriteByte(byte(48 + delta%128))
	}
	return sb.String()
}

// Decode parses a single unknown-line record, autodetecting sparse vs RLE
// per block.
//
// Block boundaries are found by scanning whitespace-delimited fields for a
// literal "|" token rather than by searching the raw line for '|' bytes: an
// RLE block's packed bytes (48-175) can themselves equal '|' (124), but
// never equal the ASCII space that always surrounds a real delimiter, so a
// field-level search can't be fooled by a delimiter-valued byte buried
// inside a block the way a raw byte search can.
func Decode(line string) (Line, error) {
	line = strings.TrimRight(line, "\r\n")
	fields := strings.Fields(line)
	var bars []int
	for i, f := range fields {
		if f == "|" {
			bars = append(bars, i)
		}
	}
	if len(bars) < 2 {
		return Line{}, fmt.Errorf("unknownfile: malformed line, want 2 '|' delimiters: %q", line)
	}
	h1, h2 := bars[0], bars[1]

	header := fields[:h1]
	if len(header) != 4 || header[1] != ":" {
		return Line{}, fmt.Errorf("unknownfile: malformed header %q", strings.Join(header, " "))
	}
	mi, err := strconv.Atoi(header[0])
	if err != nil {
		return Line{}, fmt.Errorf("unknownfile: bad mi in header %q: %w", strings.Join(header, " "), err)
	}
	lStr := strings.TrimPrefix(header[2], "-")
	numLow, err := strconv.Atoi(lStr)
	if err != nil {
		return Line{}, fmt.Errorf("unknownfile: bad -L in header %q: %w", strings.Join(header, " "), err)
	}
	uStr := strings.TrimPrefix(header[3], "+")
	numHigh, err := strconv.Atoi(uStr)
	if err != nil {
		return Line{}, fmt.Errorf("unknownfile: bad +U in header %q: %w", strings.Join(header, " "), err)
	}

	prevRaw := strings.Join(fields[h1+1:h2], " ")
	nextRaw := strings.Join(fields[h2+1:], " ")

	prev, err := decodeBlock(prevRaw, numLow)
	if err != nil {
		return Line{}, fmt.Errorf("unknownfile: prev block: %w", err)
	}
	next, err := decodeBlock(nextRaw, numHigh)
	if err != nil {
		return Line{}, fmt.Errorf("unknownfile: next block: %w", err)
	}
	return Line{MI: mi, Prev: prev, Next: next}, nil
}

// isRLE reports whether raw contains any byte outside the sparse alphabet
// (digits, space, minus) — the autodetection rule of spec.md §4.4.
func isRLE(raw string) bool {
	for i := 0; i < len(raw); i++ {
		b := raw[i]
		if b == ' ' || b == '-' || (b >= '0' && b <= '9') {
			continue
		}
		return true
	}
	return false
}

func decodeBlock(raw string, count int) ([]int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		if count != 0 {
			return nil, fmt.Errorf("empty block but header declared %d entries", count)
		}
		return []int{}, nil
	}
	if isRLE(trimmed) {
		return decodeRLEBlock(trimmed, count)
	}
	return decodeSparseBlock(trimmed, count)
}

func decodeRLEBlock(raw string, count int) ([]int, error) {
	if len(raw) != count*2 {
		return nil, fmt.Errorf("RLE block length %d does not match declared count %d", len(raw), count)
	}
	out := make([]int, 0, count)
	pos := 0
	for i := 0; i < count; i++ {
		hi := int(raw[2*i]) - 48
		lo := int(raw[2*i+1]) - 48
		if hi < 0 || hi > 127 || lo < 0 || lo > 127 {
			return nil, fmt.Errorf("RLE delta byte out of range at entry %d", i)
		}
		pos += hi*128 + lo
		out = append(out, pos)
	}
	return out, nil
}

func decodeSparseBlock(raw string, count int) ([]int, error) {
	fields := strings.Fields(raw)
	if len(fields) != count {
		return nil, fmt.Errorf("sparse block has %d entries, declared %d", len(fields), count)
	}
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("bad offset %q: %w", f, err)
		}
		if v < 0 {
			v = -v
		}
		out = append(out, v)
	}
	return out, nil
}

// Writer streams Line records to an underlying io.Writer, one per call.
type Writer struct {
	w   *bufio.Writer
	rle bool
}

// NewWriter wraps w, encoding every line in RLE form when rle is true.
func NewWriter(w io.Writer, rle bool) *Writer {
	return &Writer{w: bufio.NewWriter(w), rle: rle}
}

// WriteLine encodes and appends l, followed by a newline.
func (w *Writer) WriteLine(l Line) error {
	if _, err := w.w.WriteString(Encode(l, w.rle)); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

// Flush flushes buffered output to the underlying writer.
func (w *Writer) Flush() error { return w.w.Flush() }

// Reader streams and decodes Line records from an underlying io.Reader.
type Reader struct {
	sc *bufio.Scanner
}

// NewReader wraps r for sequential line decoding.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &Reader{sc: sc}
}

// Next returns the next decoded line, or ok=false at EOF.
func (r *Reader) Next() (line Line, ok bool, err error) {
	if !r.sc.Scan() {
		return Line{}, false, r.sc.Err()
	}
	l, err := Decode(r.sc.Text())
	if err != nil {
		return Line{}, false, err
	}
	return l, true, nil
}
