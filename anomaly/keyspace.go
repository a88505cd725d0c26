package anomaly

import (
	"fmt"
)

// KeyRange is an inclusive range of resource keys. The zero value means "no range".
type KeyRange struct {
	From ResourceKey
	To   ResourceKey
}

// IsZero reports whether no range is configured.
func (r KeyRange) IsZero() bool {
	return r.From == 0 && r.To == 0
}

// Size returns the number of keys in the range.
func (r KeyRange) Size() int64 {
	if r.IsZero() || r.To < r.From {
		return 0
	}

	return int64(r.To-r.From) + 1
}

// Contains reports whether key lies within the range.
func (r KeyRange) Contains(key ResourceKey) bool {
	return !r.IsZero() && key >= r.From && key <= r.To
}

// KeySpace is the universe [1, Size] of resource keys with an optional hot subrange.
type KeySpace struct {
	Size int64
	Hot  KeyRange
}

// Validate checks that the universe is non-empty and the hot range lies inside it.
func (ks KeySpace) Validate() error {
	if ks.Size < 1 {
		return fmt.Errorf("%w: universe size %d must be at least 1", ErrInvalidKeySpace, ks.Size)
	}

	if ks.Hot.IsZero() {
		return nil
	}

	if ks.Hot.From < 1 || ks.Hot.To < ks.Hot.From || int64(ks.Hot.To) > ks.Size {
		return fmt.Errorf(
			"%w: hot range [%d, %d] must satisfy 1 <= from <= to <= %d",
			ErrInvalidKeySpace, ks.Hot.From, ks.Hot.To, ks.Size,
		)
	}

	return nil
}

// ColdSize returns the number of keys outside the hot range.
func (ks KeySpace) ColdSize() int64 {
	return ks.Size - ks.Hot.Size()
}

// Keys returns the whole universe as a KeyRange.
func (ks KeySpace) Keys() KeyRange {
	return KeyRange{From: 1, To: ResourceKey(ks.Size)}
}

// coldKeyAt maps index i in [0, ColdSize) onto [1, N] \ [a, b] without ever landing in the hot range.
func (ks KeySpace) coldKeyAt(i int64) ResourceKey {
	key := ResourceKey(i + 1)
	if !ks.Hot.IsZero() && key >= ks.Hot.From {
		key += ResourceKey(ks.Hot.Size())
	}

	return key
}
