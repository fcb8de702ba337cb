package binary

import (
	"bytes"

	"github.com/bytecodealliance/spidermonkey-embedding-splicer/internal/leb128"
	"github.com/bytecodealliance/spidermonkey-embedding-splicer/internal/wasm"
)

// EncodeModule serializes m back to the WebAssembly binary format. Custom
// sections are always emitted last, after the data section: custom section
// position carries no validity constraint, and the splicer never needs to
// preserve a particular physical placement for one.
func EncodeModule(m *wasm.Module) []byte {
	var out bytes.Buffer
	out.Write(magic)
	out.Write(version)

	if len(m.TypeSection) > 0 {
		writeSection(&out, wasm.SectionIDType, encodeTypeSection(m))
	}
	if len(m.ImportSection) > 0 {
		writeSection(&out, wasm.SectionIDImport, encodeImportSection(m))
	}
	if len(m.FunctionSection) > 0 {
		writeSection(&out, wasm.SectionIDFunction, encodeFunctionSection(m))
	}
	if len(m.TableSection) > 0 {
		writeSection(&out, wasm.SectionIDTable, encodeTableSection(m))
	}
	if len(m.MemorySection) > 0 {
		writeSection(&out, wasm.SectionIDMemory, encodeMemorySection(m))
	}
	if len(m.GlobalSection) > 0 {
		writeSection(&out, wasm.SectionIDGlobal, encodeGlobalSection(m))
	}
	if len(m.ExportSection) > 0 {
		writeSection(&out, wasm.SectionIDExport, encodeExportSection(m))
	}
	if m.StartSection != nil {
		var b bytes.Buffer
		writeU32(&b, *m.StartSection)
		writeSection(&out, wasm.SectionIDStart, b.Bytes())
	}
	if len(m.ElementSection) > 0 {
		writeSection(&out, wasm.SectionIDElement, encodeElementSection(m))
	}
	if len(m.CodeSection) > 0 {
		writeSection(&out, wasm.SectionIDCode, encodeCodeSection(m))
	}
	if len(m.DataSection) > 0 {
		writeSection(&out, wasm.SectionIDData, encodeDataSection(m))
	}
	for _, cs := range m.CustomSections {
		var b bytes.Buffer
		writeName(&b, cs.Name)
		b.Write(cs.Data)
		writeSection(&out, wasm.SectionIDCustom, b.Bytes())
	}
	return out.Bytes()
}

func writeSection(out *bytes.Buffer, id byte, payload []byte) {
	out.WriteByte(id)
	writeU32(out, uint32(len(payload)))
	out.Write(payload)
}

func writeU32(out *bytes.Buffer, v uint32)  { out.Write(leb128.EncodeUint32(v)) }
func writeU64(out *bytes.Buffer, v uint64)  { out.Write(leb128.EncodeUint64(v)) }
func writeI32(out *bytes.Buffer, v int32)   { out.Write(leb128.EncodeInt32(v)) }
func writeI64(out *bytes.Buffer, v int64)   { out.Write(leb128.EncodeInt64(v)) }

func writeName(out *bytes.Buffer, s string) {
	writeU32(out, uint32(len(s)))
	out.WriteString(s)
}

func writeLimits(out *bytes.Buffer, lim wasm.Limits) {
	if lim.Max != nil {
		out.WriteByte(1)
		writeU32(out, lim.Min)
		writeU32(out, *lim.Max)
	} else {
		out.WriteByte(0)
		writeU32(out, lim.Min)
	}
}

func writeFunctionType(out *bytes.Buffer, ft *wasm.FunctionType) {
	out.WriteByte(0x60)
	writeU32(out, uint32(len(ft.Params)))
	out.Write(ft.Params)
	writeU32(out, uint32(len(ft.Results)))
	out.Write(ft.Results)
}

func writeGlobalType(out *bytes.Buffer, gt *wasm.GlobalType) {
	out.WriteByte(gt.ValType)
	if gt.Mutable {
		out.WriteByte(1)
	} else {
		out.WriteByte(0)
	}
}

func encodeTypeSection(m *wasm.Module) []byte {
	var b bytes.Buffer
	writeU32(&b, uint32(len(m.TypeSection)))
	for _, ft := range m.TypeSection {
		writeFunctionType(&b, ft)
	}
	return b.Bytes()
}

func encodeImportSection(m *wasm.Module) []byte {
	var b bytes.Buffer
	writeU32(&b, uint32(len(m.ImportSection)))
	for _, imp := range m.ImportSection {
		writeName(&b, imp.Module)
		writeName(&b, imp.Name)
		b.WriteByte(imp.Type)
		switch imp.Type {
		case wasm.ExternTypeFunc:
			writeU32(&b, imp.DescFunc)
		case wasm.ExternTypeTable:
			b.WriteByte(imp.DescTable.ElemType)
			writeLimits(&b, imp.DescTable.Limits)
		case wasm.ExternTypeMemory:
			writeLimits(&b, imp.DescMem.Limits)
		case wasm.ExternTypeGlobal:
			writeGlobalType(&b, imp.DescGlobal)
		}
	}
	return b.Bytes()
}

func encodeFunctionSection(m *wasm.Module) []byte {
	var b bytes.Buffer
	writeU32(&b, uint32(len(m.FunctionSection)))
	for _, idx := range m.FunctionSection {
		writeU32(&b, idx)
	}
	return b.Bytes()
}

func encodeTableSection(m *wasm.Module) []byte {
	var b bytes.Buffer
	writeU32(&b, uint32(len(m.TableSection)))
	for _, tt := range m.TableSection {
		b.WriteByte(tt.ElemType)
		writeLimits(&b, tt.Limits)
	}
	return b.Bytes()
}

func encodeMemorySection(m *wasm.Module) []byte {
	var b bytes.Buffer
	writeU32(&b, uint32(len(m.MemorySection)))
	for _, mt := range m.MemorySection {
		writeLimits(&b, mt.Limits)
	}
	return b.Bytes()
}

func encodeGlobalSection(m *wasm.Module) []byte {
	var b bytes.Buffer
	writeU32(&b, uint32(len(m.GlobalSection)))
	for _, g := range m.GlobalSection {
		writeGlobalType(&b, g.Type)
		b.Write(g.Init.Bytes)
	}
	return b.Bytes()
}

func encodeExportSection(m *wasm.Module) []byte {
	var b bytes.Buffer
	writeU32(&b, uint32(len(m.ExportSection)))
	for _, e := range m.ExportSection {
		writeName(&b, e.Name)
		b.WriteByte(e.Type)
		writeU32(&b, e.Index)
	}
	return b.Bytes()
}

func encodeElementSection(m *wasm.Module) []byte {
	var b bytes.Buffer
	writeU32(&b, uint32(len(m.ElementSection)))
	for _, seg := range m.ElementSection {
		writeU32(&b, 0) // active segment, table 0
		b.Write(seg.Offset.Bytes)
		writeU32(&b, uint32(len(seg.Members)))
		for _, fidx := range seg.Members {
			writeU32(&b, *fidx)
		}
	}
	return b.Bytes()
}

func encodeCodeSection(m *wasm.Module) []byte {
	var b bytes.Buffer
	writeU32(&b, uint32(len(m.CodeSection)))
	for _, code := range m.CodeSection {
		var body bytes.Buffer
		writeU32(&body, uint32(len(code.Locals)))
		for _, lg := range code.Locals {
			writeU32(&body, lg.Count)
			body.WriteByte(lg.Type)
		}
		body.Write(code.Body)

		writeU32(&b, uint32(body.Len()))
		b.Write(body.Bytes())
	}
	return b.Bytes()
}

func encodeDataSection(m *wasm.Module) []byte {
	var b bytes.Buffer
	writeU32(&b, uint32(len(m.DataSection)))
	for _, ds := range m.DataSection {
		writeU32(&b, 0) // active segment, memory 0
		b.Write(ds.Offset.Bytes)
		writeU32(&b, uint32(len(ds.Init)))
		b.Write(ds.Init)
	}
	return b.Bytes()
}
