// Package vmimage parses and validates the on-wire/on-flash Program Image
// format described by the bytecode program format (magic, version, heap
// size, module table, name, optional parameter block, bytecode).
//
// The layout is bit-exact and byte-addressed; this package never guesses at
// padding or alignment the way a struct-tagged decoder would.
package vmimage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Image rejection errors, returned synchronously to whatever asked for a
// load (the Command Channel's LoadProgram response). None of these ever
// touch a running VM.
var (
	ErrTruncated     = errors.New("vmimage: header truncated")
	ErrBadMagic      = errors.New("vmimage: bad magic")
	ErrUnknownVer    = errors.New("vmimage: unknown version")
	ErrOddHeap       = errors.New("vmimage: heap size must be even")
	ErrNameUnterm    = errors.New("vmimage: name is not null-terminated inside header")
	ErrTooManyMods   = errors.New("vmimage: module count exceeds available opcode slots")
	ErrBadParamBlock = errors.New("vmimage: malformed parameter block")
)

const (
	magic = "PXS"

	// CurrentVersion is the only header version implementations of this
	// spec recognize without a parameter block. Versions >= ParamVersion
	// additionally carry the forward-compatible parameter section.
	CurrentVersion = 0
	// ParamVersion is the first header version carrying a parameter block
	// after the name (see SPEC_FULL.md §C, resolving spec.md §9's open
	// question).
	ParamVersion = 1

	// MaxModules is bounded by the opcode space: slots occupy opcodes
	// 64..255 in windows of 4, giving floor((255-64+1)/4) = 48 slots.
	MaxModules = 48
)

// ParamDecl is one entry of the version>=1 parameter block: a named 16-bit
// signed value with a declared legal range and default.
type ParamDecl struct {
	Name    string
	Min     int16
	Max     int16
	Default int16
}

// Image is a parsed, validated Program Image. ModuleIDs, Bytecode and
// RawHeader are copies; an Image keeps no reference to the input slice.
type Image struct {
	Version    uint8
	HeapSize   uint16
	ModuleIDs  []uint8
	Name       string
	Params     []ParamDecl
	Bytecode   []byte
	HeaderLen  int
	RawHeader  []byte // bytes [0:HeaderLen), kept for byte-identical round trip
}

// Parse validates a candidate image per spec.md §3 and §7 and returns the
// decoded form. It never mutates raw.
func Parse(raw []byte) (*Image, error) {
	if len(raw) < 8 {
		return nil, fmt.Errorf("%w: got %d bytes, need at least 8", ErrTruncated, len(raw))
	}
	if string(raw[0:3]) != magic {
		return nil, fmt.Errorf("%w: got %q", ErrBadMagic, raw[0:3])
	}

	version := raw[3]
	if version != CurrentVersion && version != ParamVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVer, version)
	}

	heapSize := binary.LittleEndian.Uint16(raw[4:6])
	if heapSize%2 != 0 {
		return nil, fmt.Errorf("%w: %d", ErrOddHeap, heapSize)
	}

	remainingLen := int(raw[6])
	moduleCount := int(raw[7])
	if moduleCount > MaxModules {
		return nil, fmt.Errorf("%w: %d modules declared, %d slots available", ErrTooManyMods, moduleCount, MaxModules)
	}

	headerLen := 7 + remainingLen
	if len(raw) < headerLen {
		return nil, fmt.Errorf("%w: header claims %d bytes, image has %d", ErrTruncated, headerLen, len(raw))
	}

	modsStart := 8
	modsEnd := modsStart + moduleCount
	if modsEnd > headerLen {
		return nil, fmt.Errorf("%w: module table runs past header", ErrTruncated)
	}
	moduleIDs := append([]uint8(nil), raw[modsStart:modsEnd]...)

	rest := raw[modsEnd:headerLen]
	nul := bytes.IndexByte(rest, 0)
	if nul < 0 {
		return nil, ErrNameUnterm
	}
	name := string(rest[:nul])

	var params []ParamDecl
	if version >= ParamVersion {
		var err error
		params, err = parseParamBlock(rest[nul+1:])
		if err != nil {
			return nil, err
		}
	}

	img := &Image{
		Version:   version,
		HeapSize:  heapSize,
		ModuleIDs: moduleIDs,
		Name:      name,
		Params:    params,
		Bytecode:  append([]byte(nil), raw[headerLen:]...),
		HeaderLen: headerLen,
		RawHeader: append([]byte(nil), raw[:headerLen]...),
	}
	return img, nil
}

func parseParamBlock(b []byte) ([]ParamDecl, error) {
	if len(b) == 0 {
		return nil, nil
	}
	count := int(b[0])
	b = b[1:]
	decls := make([]ParamDecl, 0, count)
	for i := 0; i < count; i++ {
		nul := bytes.IndexByte(b, 0)
		if nul < 0 {
			return nil, ErrBadParamBlock
		}
		name := string(b[:nul])
		b = b[nul+1:]
		if len(b) < 6 {
			return nil, ErrBadParamBlock
		}
		decls = append(decls, ParamDecl{
			Name:    name,
			Min:     int16(binary.LittleEndian.Uint16(b[0:2])),
			Max:     int16(binary.LittleEndian.Uint16(b[2:4])),
			Default: int16(binary.LittleEndian.Uint16(b[4:6])),
		})
		b = b[6:]
	}
	return decls, nil
}

// Dump reconstructs the byte-exact image this Image was parsed from
// (header + bytecode). Used to prove the loader's round-trip property.
func (img *Image) Dump() []byte {
	out := make([]byte, 0, len(img.RawHeader)+len(img.Bytecode))
	out = append(out, img.RawHeader...)
	out = append(out, img.Bytecode...)
	return out
}
