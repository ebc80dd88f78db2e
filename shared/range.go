// Package shared implements the data structures that are handed, by value or
// by physical address, across the loader-to-kernel soft-reboot boundary:
// the inclusive-range allocator, the ticket spinlock and once-cell, the
// physical/virtual address wrappers and the Shared hand-off region itself.
package shared

import "duskos/kerror"

// maxRangeEntries is the fixed capacity of a RangeSet. No allocator is
// guaranteed to exist at the points where a RangeSet is touched, so the
// backing storage is a plain array rather than a slice.
const maxRangeEntries = 256

var (
	errInvalidRange    = &kerror.Error{Module: "shared", Message: "invalid range"}
	errIndexOutOfRange = &kerror.Error{Module: "shared", Message: "range index out of bounds"}
	errRangeSetFull    = &kerror.Error{Module: "shared", Message: "rangeset overflow"}
	errZeroSizedAlloc  = &kerror.Error{Module: "shared", Message: "zero sized allocation"}
	errBadAlignment    = &kerror.Error{Module: "shared", Message: "alignment is not a power of 2"}
)

// Range is an inclusive range of 64-bit addresses or sizes.
type Range struct {
	Start uint64
	End   uint64
}

// NewRange returns a Range, failing if start is past end.
func NewRange(start, end uint64) (Range, error) {
	if start > end {
		return Range{}, errInvalidRange
	}
	return Range{Start: start, End: end}, nil
}

// Contains reports whether other is fully contained within r.
func (r Range) Contains(other Range) bool {
	return r.Start <= other.Start && r.End >= other.End
}

// Overlaps returns the overlapping sub-range of r and other, if any.
func (r Range) Overlaps(other Range) (Range, bool) {
	if r.Start <= other.End && other.Start <= r.End {
		return Range{Start: max64(r.Start, other.Start), End: min64(r.End, other.End)}, true
	}
	return Range{}, false
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// RangeSet is a sorted set of non-overlapping inclusive Ranges, used to
// describe free/used physical memory without involving a heap allocator.
type RangeSet struct {
	ranges [maxRangeEntries]Range
	inUse  int
}

// Entries returns the in-use ranges, in ascending order.
func (rs *RangeSet) Entries() []Range {
	return rs.ranges[:rs.inUse]
}

// IsEmpty reports whether the set has no entries.
func (rs *RangeSet) IsEmpty() bool {
	return rs.inUse == 0
}

// Len returns the total size covered by the set, or false on overflow.
func (rs *RangeSet) Len() (uint64, bool) {
	var total uint64
	for _, r := range rs.Entries() {
		size := r.End - r.Start
		if size == ^uint64(0) {
			return 0, false
		}
		size++
		next := total + size
		if next < total {
			return 0, false
		}
		total = next
	}
	return total, true
}

// delete removes the entry at idx, shifting later entries down.
func (rs *RangeSet) delete(idx int) error {
	if idx >= rs.inUse {
		return errIndexOutOfRange
	}
	copy(rs.ranges[idx:rs.inUse-1], rs.ranges[idx+1:rs.inUse])
	rs.inUse--
	return nil
}

// Insert adds range into the set, merging it with any range it overlaps or
// touches.
func (rs *RangeSet) Insert(r Range) error {
	idx := 0
	for idx < rs.inUse {
		entry := rs.ranges[idx]

		eend := entry.End + 1
		if eend < entry.End {
			return errRangeSetFull
		}

		if r.Start > eend {
			idx++
			continue
		}
		if r.End != ^uint64(0) && r.End+1 < entry.Start {
			break
		}

		r.Start = min64(entry.Start, r.Start)
		r.End = max64(entry.End, r.End)
		if err := rs.delete(idx); err != nil {
			return err
		}
	}

	if rs.inUse >= len(rs.ranges) {
		return errRangeSetFull
	}

	if idx < rs.inUse {
		copy(rs.ranges[idx+1:rs.inUse+1], rs.ranges[idx:rs.inUse])
	}
	rs.ranges[idx] = r
	rs.inUse++
	return nil
}

// Remove deletes or trims any entries overlapping range. Returns true if
// anything was altered.
func (rs *RangeSet) Remove(r Range) (bool, error) {
	anyRemoved := false

	idx := 0
	for idx < rs.inUse {
		entry := rs.ranges[idx]

		if _, ok := entry.Overlaps(r); !ok {
			idx++
			continue
		}
		anyRemoved = true

		if r.Contains(entry) {
			if err := rs.delete(idx); err != nil {
				return false, err
			}
			continue
		}

		switch {
		case r.Start <= entry.Start:
			rs.ranges[idx].Start = satAdd1(r.End)
		case r.End >= entry.End:
			rs.ranges[idx].End = satSub1(r.Start)
		default:
			split, err := rs.splitEntry(idx, r)
			if err != nil {
				return false, err
			}
			if split {
				idx++
			}
		}
		idx++
	}
	return anyRemoved, nil
}

func satAdd1(v uint64) uint64 {
	if v == ^uint64(0) {
		return v
	}
	return v + 1
}

func satSub1(v uint64) uint64 {
	if v == 0 {
		return v
	}
	return v - 1
}

// splitEntry splits the entry at idx into two when range is fully contained
// within it.
func (rs *RangeSet) splitEntry(idx int, r Range) (bool, error) {
	if idx >= rs.inUse {
		return false, errIndexOutOfRange
	}
	if rs.inUse >= len(rs.ranges) {
		return false, errRangeSetFull
	}

	entry := rs.ranges[idx]
	if !entry.Contains(r) {
		return false, nil
	}

	if r.Start > entry.Start {
		rs.ranges[idx].End = satSub1(r.Start)
	} else {
		rs.ranges[idx].End = entry.Start
	}

	if idx+1 < rs.inUse {
		copy(rs.ranges[idx+2:rs.inUse+1], rs.ranges[idx+1:rs.inUse])
	}

	second, err := NewRange(satAdd1(r.End), entry.End)
	if err != nil {
		return false, err
	}
	rs.ranges[idx+1] = second
	rs.inUse++
	return true, nil
}

// AllocatePrefer allocates size bytes aligned to align, preferring to serve
// the allocation out of regions when the preference can be satisfied.
// Returns (pointer, true) on success, (0, false) when no free space
// satisfies the request.
func (rs *RangeSet) AllocatePrefer(size, align uint64, regions *RangeSet) (uint64, bool, error) {
	if size == 0 {
		return 0, false, errZeroSizedAlloc
	}
	if align == 0 || (align&(align-1)) != 0 {
		return 0, false, errBadAlignment
	}
	alignMask := align - 1

	var (
		haveAlloc          bool
		allocStart, allocEnd, allocPtr uint64
	)

search:
	for _, entry := range rs.Entries() {
		padding := (align - (entry.Start & alignMask)) & alignMask

		start := entry.Start
		end, ok := addOverflow(start, size-1)
		if !ok {
			return 0, false, nil
		}
		end, ok = addOverflow(end, padding)
		if !ok {
			return 0, false, nil
		}
		if end > entry.End {
			continue
		}

		if regions != nil {
			for _, region := range regions.Entries() {
				overlap, ok := entry.Overlaps(region)
				if !ok {
					continue
				}

				aligned := (overlap.Start + alignMask) &^ alignMask
				if aligned >= overlap.Start && aligned <= overlap.End &&
					(overlap.End-aligned) >= (size-1) {

					alcEnd := aligned + (size - 1)
					haveAlloc = true
					allocStart, allocEnd, allocPtr = aligned, alcEnd, aligned
					break search
				}
			}
		}

		prevSize, havePrev := uint64(0), haveAlloc
		if havePrev {
			prevSize = allocEnd - allocStart
		}
		if !havePrev || prevSize > end-start {
			haveAlloc = true
			allocStart, allocEnd, allocPtr = start, end, start+padding
		}
	}

	if !haveAlloc {
		return 0, false, nil
	}

	if _, err := rs.Remove(Range{Start: allocStart, End: allocEnd}); err != nil {
		return 0, false, err
	}
	return allocPtr, true, nil
}

func addOverflow(a, b uint64) (uint64, bool) {
	sum := a + b
	return sum, sum >= a
}

// Allocate is AllocatePrefer without a preferred region.
func (rs *RangeSet) Allocate(size, align uint64) (uint64, bool, error) {
	return rs.AllocatePrefer(size, align, nil)
}
