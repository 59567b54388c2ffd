// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package elfpatch

import (
	"debug/elf"
	"encoding/binary"
	"fmt"

	"github.com/datawire/editwheel/pkg/wherr"
)

// layout captures just enough of an ELF image's structure -- gleaned from
// debug/elf's read-only parse -- to let Patch rewrite it: the class and
// byte order (needed to pick field widths/encoding for every raw write),
// and, for every section and program header, both its current fields and
// the file offset of the header entry itself, so a field can be overwritten
// in place without re-parsing the image.
type layout struct {
	is64  bool
	order binary.ByteOrder

	rawImage []byte

	phOff, shOff         uint64
	phEntSize, shEntSize uint64
	sections             []sectionInfo
	progs                []progInfo
}

type sectionInfo struct {
	name               string
	Offset, Size, Addr uint64
	headerFileOffset   uint64
}

type progInfo struct {
	Type                               elf.ProgType
	Offset, Vaddr, Paddr, Filesz, Memsz uint64
	headerFileOffset                   uint64
}

type dynEntry struct {
	tag int64
	val uint64
}

func newLayout(image []byte, f *elf.File) (*layout, error) {
	is64 := f.Class == elf.ELFCLASS64
	lay := &layout{is64: is64, order: f.ByteOrder, rawImage: image}

	if is64 {
		if len(image) < 64 {
			return nil, fmt.Errorf("%w: truncated ELF64 header", wherr.ErrELF)
		}
		lay.phOff = f.ByteOrder.Uint64(image[32:40])
		lay.shOff = f.ByteOrder.Uint64(image[40:48])
		lay.phEntSize = 56
		lay.shEntSize = 64
	} else {
		if len(image) < 52 {
			return nil, fmt.Errorf("%w: truncated ELF32 header", wherr.ErrELF)
		}
		lay.phOff = uint64(f.ByteOrder.Uint32(image[28:32]))
		lay.shOff = uint64(f.ByteOrder.Uint32(image[32:36]))
		lay.phEntSize = 32
		lay.shEntSize = 40
	}

	for i, sec := range f.Sections {
		lay.sections = append(lay.sections, sectionInfo{
			name:             sec.Name,
			Offset:           sec.Offset,
			Size:             sec.Size,
			Addr:             sec.Addr,
			headerFileOffset: lay.shOff + uint64(i)*lay.shEntSize,
		})
	}
	for i, p := range f.Progs {
		lay.progs = append(lay.progs, progInfo{
			Type:             p.Type,
			Offset:           p.Off,
			Vaddr:            p.Vaddr,
			Paddr:            p.Paddr,
			Filesz:           p.Filesz,
			Memsz:            p.Memsz,
			headerFileOffset: lay.phOff + uint64(i)*lay.phEntSize,
		})
	}
	return lay, nil
}

func (lay *layout) section(name string) *sectionInfo {
	for i := range lay.sections {
		if lay.sections[i].name == name {
			return &lay.sections[i]
		}
	}
	return nil
}

func (lay *layout) readDynEntries(sec *sectionInfo) ([]dynEntry, error) {
	raw := imageSlice(lay, sec.Offset, sec.Size)
	stride := uint64(16)
	if !lay.is64 {
		stride = 8
	}
	if sec.Size%stride != 0 {
		return nil, fmt.Errorf("%w: .dynamic size %d not a multiple of entry size %d",
			wherr.ErrELF, sec.Size, stride)
	}
	n := int(sec.Size / stride)
	entries := make([]dynEntry, n)
	for i := 0; i < n; i++ {
		off := uint64(i) * stride
		if lay.is64 {
			entries[i] = dynEntry{
				tag: int64(lay.order.Uint64(raw[off : off+8])),
				val: lay.order.Uint64(raw[off+8 : off+16]),
			}
		} else {
			entries[i] = dynEntry{
				tag: int64(int32(lay.order.Uint32(raw[off : off+4]))),
				val: uint64(lay.order.Uint32(raw[off+4 : off+8])),
			}
		}
	}
	return entries, nil
}

func (lay *layout) encodeDynEntries(entries []dynEntry) []byte {
	stride := 16
	if !lay.is64 {
		stride = 8
	}
	out := make([]byte, len(entries)*stride)
	for i, e := range entries {
		off := i * stride
		if lay.is64 {
			lay.order.PutUint64(out[off:off+8], uint64(e.tag))
			lay.order.PutUint64(out[off+8:off+16], e.val)
		} else {
			lay.order.PutUint32(out[off:off+4], uint32(e.tag))
			lay.order.PutUint32(out[off+4:off+8], uint32(e.val))
		}
	}
	return out
}

// imageSlice is a tiny indirection point so readDynEntries can be exercised
// against a layout built from any byte slice the caller holds.
func imageSlice(lay *layout, offset, size uint64) []byte {
	return lay.rawImage[offset : offset+size]
}

// alignUp rounds v up to the next multiple of align (align must be a power
// of two).
func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

// extraBase is the file offset (and, since it anchors a fresh PT_LOAD whose
// p_vaddr == p_offset, also the virtual address) at which relocate appends
// grown .dynstr/.dynamic content and a replacement program header table. It
// is pinned to the next page boundary past the end of the original image so
// the new segment never overlaps anything the original headers describe.
func (lay *layout) extraBase() uint64 {
	return alignUp(uint64(len(lay.rawImage)), pageSize)
}

// dynamicProgIndex returns the index into lay.progs of the PT_DYNAMIC
// segment, or ok=false if none is present.
func (lay *layout) dynamicProgIndex() (int, bool) {
	for i, p := range lay.progs {
		if p.Type == elf.PT_DYNAMIC {
			return i, true
		}
	}
	return 0, false
}

// relocate lays out newDynstr and newDynamic -- already-encoded replacement
// bytes for the .dynstr and .dynamic sections -- inside a fresh trailing
// PT_LOAD segment, rather than splicing them into the existing file layout.
// Every byte of the original image keeps its original file offset and
// virtual address: no PT_LOAD's Vaddr moves, no DT_RELA/DT_VERSYM/DT_PLTGOT
// or relocation r_offset anywhere in the image goes stale, because nothing
// they could point at has moved. Only PT_DYNAMIC itself (pointed only at by
// the dynamic linker via AT_PHDR, which relocate keeps valid) and the two
// section headers describing .dynstr/.dynamic are repointed at the new
// location.
//
// The program header table itself has to grow by one entry (the new
// PT_LOAD), so it is rebuilt in full and appended inside the same trailing
// segment; its new file location is written into e_phoff, which -- being
// read directly off the ELF header rather than computed from any segment's
// Vaddr -- needs no segment of its own to stay valid. Placing the new
// segment's p_vaddr equal to its p_offset keeps the standard
// load_bias+e_phoff resolution of the program header table's runtime
// address correct without a PT_PHDR entry.
func (lay *layout) relocate(newDynstr, newDynamic []byte) ([]byte, error) {
	dynProgIdx, ok := lay.dynamicProgIndex()
	if !ok {
		return nil, fmt.Errorf("%w: no PT_DYNAMIC segment", wherr.ErrELF)
	}
	strSec := lay.section(".dynstr")
	dynSec := lay.section(".dynamic")
	if strSec == nil || dynSec == nil {
		return nil, fmt.Errorf("%w: missing .dynamic or .dynstr section", wherr.ErrELF)
	}

	base := lay.extraBase()
	out := append([]byte(nil), lay.rawImage...)
	if uint64(len(out)) < base {
		out = append(out, make([]byte, base-uint64(len(out)))...)
	}

	dynstrOff := uint64(len(out))
	out = append(out, newDynstr...)

	dynamicOff := uint64(len(out))
	out = append(out, newDynamic...)

	oldPhdrCount := len(lay.progs)
	phdrTable := append([]byte(nil),
		lay.rawImage[lay.phOff:lay.phOff+uint64(oldPhdrCount)*lay.phEntSize]...)
	writeProgHeaderFields(phdrTable, uint64(dynProgIdx)*lay.phEntSize, lay.is64, lay.order,
		dynamicOff, dynamicOff, dynamicOff, uint64(len(newDynamic)), uint64(len(newDynamic)))

	newLoad := encodeProgHeader(lay.is64, lay.order, uint32(elf.PT_LOAD), uint32(elf.PF_R|elf.PF_W),
		dynstrOff, dynstrOff, dynstrOff, 0, 0, pageSize) // filesz/memsz patched below, once known
	phdrTable = append(phdrTable, newLoad...)

	// The program header table's entries are read as 8-byte fields; pad up
	// to an 8-byte boundary before appending it so those reads stay aligned.
	if rem := uint64(len(out)) % 8; rem != 0 {
		out = append(out, make([]byte, 8-rem)...)
	}
	phdrOff := uint64(len(out))
	out = append(out, phdrTable...)

	extraSize := (uint64(len(out)) - dynstrOff)
	writeProgHeaderFields(out, phdrOff+uint64(oldPhdrCount)*lay.phEntSize, lay.is64, lay.order,
		dynstrOff, dynstrOff, dynstrOff, extraSize, extraSize)

	writeEhdrPhdrLocation(out, lay.is64, lay.order, phdrOff, oldPhdrCount+1)

	writeSectionHeaderFields(out, strSec.headerFileOffset, lay.is64, lay.order,
		dynstrOff, dynstrOff, uint64(len(newDynstr)))
	writeSectionHeaderFields(out, dynSec.headerFileOffset, lay.is64, lay.order,
		dynamicOff, dynamicOff, uint64(len(newDynamic)))

	return out, nil
}

// encodeProgHeader builds one program header entry from scratch (used for
// the new trailing PT_LOAD segment, which has no prior entry to patch).
func encodeProgHeader(is64 bool, order binary.ByteOrder, typ, flags uint32,
	offset, vaddr, paddr, filesz, memsz, align uint64,
) []byte {
	if is64 {
		out := make([]byte, 56)
		order.PutUint32(out[0:4], typ)
		order.PutUint32(out[4:8], flags)
		order.PutUint64(out[8:16], offset)
		order.PutUint64(out[16:24], vaddr)
		order.PutUint64(out[24:32], paddr)
		order.PutUint64(out[32:40], filesz)
		order.PutUint64(out[40:48], memsz)
		order.PutUint64(out[48:56], align)
		return out
	}
	out := make([]byte, 32)
	order.PutUint32(out[0:4], typ)
	order.PutUint32(out[4:8], uint32(offset))
	order.PutUint32(out[8:12], uint32(vaddr))
	order.PutUint32(out[12:16], uint32(paddr))
	order.PutUint32(out[16:20], uint32(filesz))
	order.PutUint32(out[20:24], uint32(memsz))
	order.PutUint32(out[24:28], flags)
	order.PutUint32(out[28:32], uint32(align))
	return out
}

// writeEhdrPhdrLocation updates e_phoff/e_phnum to point at a rebuilt
// program header table -- used whenever relocate appends one big enough to
// no longer fit at its original location (it grew by one entry).
func writeEhdrPhdrLocation(out []byte, is64 bool, order binary.ByteOrder, phOff uint64, phNum int) {
	if is64 {
		order.PutUint64(out[32:40], phOff)
		order.PutUint16(out[56:58], uint16(phNum))
		return
	}
	order.PutUint32(out[28:32], uint32(phOff))
	order.PutUint16(out[44:46], uint16(phNum))
}

func writeProgHeaderFields(out []byte, headerOffset uint64, is64 bool, order binary.ByteOrder,
	offset, vaddr, paddr, filesz, memsz uint64,
) {
	base := out[headerOffset:]
	if is64 {
		order.PutUint64(base[8:16], offset)
		order.PutUint64(base[16:24], vaddr)
		order.PutUint64(base[24:32], paddr)
		order.PutUint64(base[32:40], filesz)
		order.PutUint64(base[40:48], memsz)
	} else {
		order.PutUint32(base[4:8], uint32(offset))
		order.PutUint32(base[8:12], uint32(vaddr))
		order.PutUint32(base[12:16], uint32(paddr))
		order.PutUint32(base[16:20], uint32(filesz))
		order.PutUint32(base[20:24], uint32(memsz))
	}
}

func writeSectionHeaderFields(out []byte, headerOffset uint64, is64 bool, order binary.ByteOrder,
	offset, addr, size uint64,
) {
	base := out[headerOffset:]
	if is64 {
		order.PutUint64(base[16:24], addr)
		order.PutUint64(base[24:32], offset)
		order.PutUint64(base[32:40], size)
	} else {
		order.PutUint32(base[12:16], uint32(addr))
		order.PutUint32(base[16:20], uint32(offset))
		order.PutUint32(base[20:24], uint32(size))
	}
}
