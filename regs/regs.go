// Package regs implements the bit-window register accessor framework.
//
// Instrument settings are typed fields backed by one or two 32-bit device
// registers. A Field describes where the value lives (register addresses, bit
// offset, width, signedness) and how it converts between the raw window and
// the semantic value. Reads and writes go through a locally held register
// File; the File performs no device I/O. A separate commit step pushes dirty
// words to the device.
package regs

import (
	"fmt"
	"math"
)

// Transform converts a value on its way into or out of a register window.
// state is a snapshot of the owning instrument's current settings, so a
// conversion may depend on sibling settings (a gain-dependent scale, for
// example). Transforms must not mutate state.
type Transform[S any] func(state S, v float64) float64

// Write is one register update destined for the device.
type Write struct {
	Addr  int
	Value uint32
}

// RangeError reports a value that cannot be represented in a field's bit
// window. Values are never silently truncated.
type RangeError struct {
	Field string
	Value float64
	Min   float64
	Max   float64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("regs: value %g for field %s outside representable range [%g, %g]",
		e.Value, e.Field, e.Min, e.Max)
}

// Field is one instrument setting backed by a bit window of the register
// file. Multi-word fields list the most significant register first and the
// window spans the combined 64-bit value (high word shifted left 32). Widths
// up to 53 bits round-trip exactly through the float64 value domain; the
// widest field used by any known instrument is 48 bits.
type Field[S any] struct {
	Name   string
	Regs   []int // backing registers, most significant word first
	Offset uint  // bit offset into the combined window
	Width  uint  // window width in bits, 1..53
	Signed bool

	// Encode converts a semantic value to the raw register domain before
	// range checking. Decode converts the extracted raw value back to the
	// semantic domain. Nil means identity.
	Encode Transform[S]
	Decode Transform[S]
}

func (f Field[S]) check() {
	if f.Width < 1 || f.Width > 53 {
		panic("regs: field " + f.Name + " has invalid width")
	}
	if len(f.Regs) < 1 || len(f.Regs) > 2 {
		panic("regs: field " + f.Name + " must name one or two registers")
	}
	if f.Offset+f.Width > uint(32*len(f.Regs)) {
		panic("regs: field " + f.Name + " window exceeds its registers")
	}
}

// Get reads the backing registers from the mirror, extracts the bit window
// and returns the decoded semantic value.
func (f Field[S]) Get(file *File, state S) float64 {
	f.check()
	raw := f.combined(file) >> f.Offset & f.mask()
	var v float64
	if f.Signed && raw&(1<<(f.Width-1)) != 0 {
		v = float64(int64(raw) - int64(1)<<f.Width)
	} else {
		v = float64(raw)
	}
	if f.Decode != nil {
		v = f.Decode(state, v)
	}
	return v
}

// Set encodes a semantic value, verifies it fits the bit window and writes it
// back into the mirror. The device is not touched; the affected words are
// marked dirty for the next commit. Returns a *RangeError when the encoded
// value is not representable in the window.
func (f Field[S]) Set(file *File, state S, v float64) error {
	f.check()
	enc := v
	if f.Encode != nil {
		enc = f.Encode(state, v)
	}
	raw := math.Round(enc)

	var min, max float64
	if f.Signed {
		min = -float64(int64(1) << (f.Width - 1))
		max = float64(int64(1)<<(f.Width-1) - 1)
	} else {
		min = 0
		max = float64(int64(1)<<f.Width - 1)
	}
	if raw < min || raw > max || math.IsNaN(raw) {
		return &RangeError{Field: f.Name, Value: enc, Min: min, Max: max}
	}

	u := uint64(int64(raw)) & f.mask()
	comb := f.combined(file)
	comb = comb&^(f.mask()<<f.Offset) | u<<f.Offset
	if len(f.Regs) == 2 {
		file.SetWord(f.Regs[0], uint32(comb>>32))
		file.SetWord(f.Regs[1], uint32(comb))
	} else {
		file.SetWord(f.Regs[0], uint32(comb))
	}
	return nil
}

// GetBool reads a flag field. Any non-zero window value is true.
func (f Field[S]) GetBool(file *File, state S) bool {
	return f.Get(file, state) != 0
}

// SetBool writes a flag field as 0 or 1.
func (f Field[S]) SetBool(file *File, state S, b bool) error {
	v := 0.0
	if b {
		v = 1.0
	}
	return f.Set(file, state, v)
}

func (f Field[S]) mask() uint64 {
	return uint64(1)<<f.Width - 1
}

func (f Field[S]) combined(file *File) uint64 {
	if len(f.Regs) == 2 {
		return uint64(file.Word(f.Regs[0]))<<32 | uint64(file.Word(f.Regs[1]))
	}
	return uint64(file.Word(f.Regs[0]))
}

// File is the locally held mirror of the device register file. Field writes
// land here and accumulate until a commit pushes the dirty words out. File is
// not safe for concurrent use; configuration edits are confined to the
// calling goroutine by design of the driver.
type File struct {
	words []uint32
	dirty []bool
}

// NewFile returns a mirror for a register file of size 32-bit words.
func NewFile(size int) *File {
	return &File{
		words: make([]uint32, size),
		dirty: make([]bool, size),
	}
}

// Size returns the number of registers in the file.
func (f *File) Size() int {
	return len(f.words)
}

// Word returns the current mirror value of one register.
func (f *File) Word(addr int) uint32 {
	return f.words[addr]
}

// SetWord replaces one register value and marks it dirty.
func (f *File) SetWord(addr int, v uint32) {
	f.words[addr] = v
	f.dirty[addr] = true
}

// Adopt replaces the mirror with device-reported values and clears all dirty
// marks. Missing trailing words are zeroed.
func (f *File) Adopt(words []uint32) {
	for i := range f.words {
		if i < len(words) {
			f.words[i] = words[i]
		} else {
			f.words[i] = 0
		}
		f.dirty[i] = false
	}
}

// Dirty returns the modified registers in address order.
func (f *File) Dirty() []Write {
	var ws []Write
	for addr, d := range f.dirty {
		if d {
			ws = append(ws, Write{Addr: addr, Value: f.words[addr]})
		}
	}
	return ws
}

// MarkClean clears all dirty marks, normally after a successful commit.
func (f *File) MarkClean() {
	for i := range f.dirty {
		f.dirty[i] = false
	}
}
