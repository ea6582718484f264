package client

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// InventoryRecord is one line of a wgrib2 "short" inventory (.idx) extended with the
// record's byte extent. Extent is -1 for the last record, whose end is the end of file.
type InventoryRecord struct {
	Number   int
	Offset   int64
	Extent   int64
	RefTime  time.Time
	Variable string
	Level    string
	Forecast string
}

// RangeHeader returns the HTTP Range value for the record. Ranges are inclusive.
func (r InventoryRecord) RangeHeader() string {
	if r.Extent < 0 {
		return fmt.Sprintf("bytes=%d-", r.Offset)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Offset, r.Offset+r.Extent-1)
}

// Inventory is the parsed index of a GRIB2 file, in file order.
type Inventory []InventoryRecord

// Find returns the first record matching variable (e.g. "UGRD") and level (e.g. "850 mb").
func (inv Inventory) Find(variable, level string) (InventoryRecord, bool) {
	for _, r := range inv {
		if r.Variable == variable && r.Level == level {
			return r, true
		}
	}
	return InventoryRecord{}, false
}

// ParseInventory reads a short inventory ("n:offset:d=YYYYMMDDHH:VAR:LEVEL:FORECAST:").
// Sub-records ("n.2") share their parent's bytes and are skipped.
func ParseInventory(r io.Reader) (Inventory, error) {
	var inv Inventory
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 6 {
			return nil, fmt.Errorf("parse inventory line %d: too few fields", lineNo)
		}
		if strings.Contains(fields[0], ".") {
			continue
		}
		num, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("parse inventory line %d: record number: %w", lineNo, err)
		}
		offset, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse inventory line %d: offset: %w", lineNo, err)
		}
		ref, err := parseDateField(fields[2])
		if err != nil {
			return nil, fmt.Errorf("parse inventory line %d: %w", lineNo, err)
		}
		if n := len(inv); n > 0 {
			if offset <= inv[n-1].Offset {
				return nil, fmt.Errorf("parse inventory line %d: offset %d not increasing", lineNo, offset)
			}
			inv[n-1].Extent = offset - inv[n-1].Offset
		}
		inv = append(inv, InventoryRecord{
			Number:   num,
			Offset:   offset,
			Extent:   -1,
			RefTime:  ref,
			Variable: fields[3],
			Level:    fields[4],
			Forecast: fields[5],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}
	return inv, nil
}

// parseDateField parses "d=YYYYMMDDHH" as UTC.
func parseDateField(s string) (time.Time, error) {
	v, ok := strings.CutPrefix(s, "d=")
	if !ok {
		return time.Time{}, fmt.Errorf("invalid date field %q", s)
	}
	t, err := time.ParseInLocation("2006010215", v, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date field %q: %w", s, err)
	}
	return t, nil
}
