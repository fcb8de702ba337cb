// Package binary implements encode/decode between a *wasm.Module and the
// WebAssembly binary format: the Module Model's parse/serialize half
// (spec §4.1).
package binary

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/bytecodealliance/spidermonkey-embedding-splicer/internal/leb128"
	"github.com/bytecodealliance/spidermonkey-embedding-splicer/internal/wasm"
	"github.com/bytecodealliance/spidermonkey-embedding-splicer/splicererr"
)

var (
	magic   = []byte{0x00, 0x61, 0x73, 0x6d}
	version = []byte{0x01, 0x00, 0x00, 0x00}
)

// DecodeModule parses raw into a *wasm.Module, or fails with
// splicererr.MalformedBinary.
func DecodeModule(raw []byte) (*wasm.Module, error) {
	if len(raw) < 8 || string(raw[:4]) != string(magic) || string(raw[4:8]) != string(version) {
		return nil, errors.Wrap(splicererr.MalformedBinary, "missing or unsupported module header")
	}
	d := &decoder{buf: raw, pos: 8}
	m := &wasm.Module{}
	for d.pos < len(d.buf) {
		id, err := d.u8()
		if err != nil {
			return nil, errors.Wrap(splicererr.MalformedBinary, err.Error())
		}
		size, err := d.u32()
		if err != nil {
			return nil, errors.Wrap(splicererr.MalformedBinary, err.Error())
		}
		if d.pos+int(size) > len(d.buf) {
			return nil, errors.Wrap(splicererr.MalformedBinary, "section size exceeds module length")
		}
		section := d.buf[d.pos : d.pos+int(size)]
		d.pos += int(size)

		if err := decodeSection(m, id, section); err != nil {
			return nil, errors.Wrapf(splicererr.MalformedBinary, "section %#x: %s", id, err)
		}
	}
	return m, nil
}

func decodeSection(m *wasm.Module, id byte, section []byte) error {
	sd := &decoder{buf: section}
	switch id {
	case wasm.SectionIDCustom:
		name, err := sd.name()
		if err != nil {
			return err
		}
		m.CustomSections = append(m.CustomSections, &wasm.CustomSection{
			Name: name,
			Data: append([]byte{}, section[sd.pos:]...),
		})
	case wasm.SectionIDType:
		n, err := sd.u32()
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			ft, err := sd.functionType()
			if err != nil {
				return err
			}
			m.TypeSection = append(m.TypeSection, ft)
		}
	case wasm.SectionIDImport:
		n, err := sd.u32()
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			imp, err := sd.importEntry()
			if err != nil {
				return err
			}
			m.ImportSection = append(m.ImportSection, imp)
		}
	case wasm.SectionIDFunction:
		n, err := sd.u32()
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			idx, err := sd.u32()
			if err != nil {
				return err
			}
			m.FunctionSection = append(m.FunctionSection, idx)
		}
	case wasm.SectionIDTable:
		n, err := sd.u32()
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			tt, err := sd.tableType()
			if err != nil {
				return err
			}
			m.TableSection = append(m.TableSection, tt)
		}
	case wasm.SectionIDMemory:
		n, err := sd.u32()
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			lim, err := sd.limits()
			if err != nil {
				return err
			}
			m.MemorySection = append(m.MemorySection, &wasm.MemoryType{Limits: lim})
		}
	case wasm.SectionIDGlobal:
		n, err := sd.u32()
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			g, err := sd.global()
			if err != nil {
				return err
			}
			m.GlobalSection = append(m.GlobalSection, g)
		}
	case wasm.SectionIDExport:
		n, err := sd.u32()
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			e, err := sd.exportEntry()
			if err != nil {
				return err
			}
			m.ExportSection = append(m.ExportSection, e)
		}
	case wasm.SectionIDStart:
		idx, err := sd.u32()
		if err != nil {
			return err
		}
		m.StartSection = &idx
	case wasm.SectionIDElement:
		n, err := sd.u32()
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			seg, err := sd.elementSegment()
			if err != nil {
				return err
			}
			m.ElementSection = append(m.ElementSection, seg)
		}
	case wasm.SectionIDCode:
		n, err := sd.u32()
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			code, err := sd.codeEntry()
			if err != nil {
				return err
			}
			m.CodeSection = append(m.CodeSection, code)
		}
	case wasm.SectionIDData:
		n, err := sd.u32()
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			ds, err := sd.dataSegment()
			if err != nil {
				return err
			}
			m.DataSection = append(m.DataSection, ds)
		}
	default:
		return fmt.Errorf("unknown section id %#x", id)
	}
	return nil
}

type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) u8() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, fmt.Errorf("unexpected end of section")
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) bytes(n int) ([]byte, error) {
	if d.pos+n > len(d.buf) {
		return nil, fmt.Errorf("unexpected end of section")
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *decoder) u32() (uint32, error) {
	v, n, err := leb128.LoadUint32(d.buf[d.pos:])
	if err != nil {
		return 0, err
	}
	d.pos += int(n)
	return v, nil
}

func (d *decoder) i32() (int32, error) {
	v, n, err := leb128.LoadInt32(d.buf[d.pos:])
	if err != nil {
		return 0, err
	}
	d.pos += int(n)
	return v, nil
}

func (d *decoder) i64() (int64, error) {
	v, n, err := leb128.LoadInt64(d.buf[d.pos:])
	if err != nil {
		return 0, err
	}
	d.pos += int(n)
	return v, nil
}

func (d *decoder) name() (string, error) {
	n, err := d.u32()
	if err != nil {
		return "", err
	}
	b, err := d.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *decoder) valueType() (byte, error) { return d.u8() }

func (d *decoder) functionType() (*wasm.FunctionType, error) {
	tag, err := d.u8()
	if err != nil {
		return nil, err
	}
	if tag != 0x60 {
		return nil, fmt.Errorf("expected functype tag 0x60, got %#x", tag)
	}
	pn, err := d.u32()
	if err != nil {
		return nil, err
	}
	params := make([]byte, pn)
	for i := range params {
		if params[i], err = d.valueType(); err != nil {
			return nil, err
		}
	}
	rn, err := d.u32()
	if err != nil {
		return nil, err
	}
	results := make([]byte, rn)
	for i := range results {
		if results[i], err = d.valueType(); err != nil {
			return nil, err
		}
	}
	return &wasm.FunctionType{Params: params, Results: results}, nil
}

func (d *decoder) limits() (wasm.Limits, error) {
	flag, err := d.u8()
	if err != nil {
		return wasm.Limits{}, err
	}
	min, err := d.u32()
	if err != nil {
		return wasm.Limits{}, err
	}
	lim := wasm.Limits{Min: min}
	if flag == 1 {
		max, err := d.u32()
		if err != nil {
			return wasm.Limits{}, err
		}
		lim.Max = &max
	}
	return lim, nil
}

func (d *decoder) tableType() (*wasm.TableType, error) {
	elemType, err := d.u8()
	if err != nil {
		return nil, err
	}
	lim, err := d.limits()
	if err != nil {
		return nil, err
	}
	return &wasm.TableType{ElemType: elemType, Limits: lim}, nil
}

func (d *decoder) globalType() (*wasm.GlobalType, error) {
	vt, err := d.valueType()
	if err != nil {
		return nil, err
	}
	mutFlag, err := d.u8()
	if err != nil {
		return nil, err
	}
	return &wasm.GlobalType{ValType: vt, Mutable: mutFlag == 1}, nil
}

// constExpr decodes a constant initializer expression, returning its raw
// encoded bytes (including the trailing end opcode). The splicer never
// needs to interpret these semantically, only round-trip them.
func (d *decoder) constExpr() (wasm.ConstExpr, error) {
	start := d.pos
	for {
		op, err := d.u8()
		if err != nil {
			return wasm.ConstExpr{}, err
		}
		switch op {
		case 0x41: // i32.const
			if _, err := d.i32(); err != nil {
				return wasm.ConstExpr{}, err
			}
		case 0x42: // i64.const
			if _, err := d.i64(); err != nil {
				return wasm.ConstExpr{}, err
			}
		case 0x43: // f32.const
			if _, err := d.bytes(4); err != nil {
				return wasm.ConstExpr{}, err
			}
		case 0x44: // f64.const
			if _, err := d.bytes(8); err != nil {
				return wasm.ConstExpr{}, err
			}
		case 0x23: // global.get
			if _, err := d.u32(); err != nil {
				return wasm.ConstExpr{}, err
			}
		case 0x0b: // end
			return wasm.ConstExpr{Bytes: append([]byte{}, d.buf[start:d.pos]...)}, nil
		default:
			return wasm.ConstExpr{}, fmt.Errorf("unsupported const expr opcode %#x", op)
		}
	}
}

func (d *decoder) importEntry() (*wasm.Import, error) {
	mod, err := d.name()
	if err != nil {
		return nil, err
	}
	name, err := d.name()
	if err != nil {
		return nil, err
	}
	kind, err := d.u8()
	if err != nil {
		return nil, err
	}
	imp := &wasm.Import{Module: mod, Name: name, Type: kind}
	switch kind {
	case wasm.ExternTypeFunc:
		idx, err := d.u32()
		if err != nil {
			return nil, err
		}
		imp.DescFunc = idx
	case wasm.ExternTypeTable:
		tt, err := d.tableType()
		if err != nil {
			return nil, err
		}
		imp.DescTable = tt
	case wasm.ExternTypeMemory:
		lim, err := d.limits()
		if err != nil {
			return nil, err
		}
		imp.DescMem = &wasm.MemoryType{Limits: lim}
	case wasm.ExternTypeGlobal:
		gt, err := d.globalType()
		if err != nil {
			return nil, err
		}
		imp.DescGlobal = gt
	default:
		return nil, fmt.Errorf("unknown import kind %#x", kind)
	}
	return imp, nil
}

func (d *decoder) global() (*wasm.Global, error) {
	gt, err := d.globalType()
	if err != nil {
		return nil, err
	}
	init, err := d.constExpr()
	if err != nil {
		return nil, err
	}
	return &wasm.Global{Type: gt, Init: init}, nil
}

func (d *decoder) exportEntry() (*wasm.Export, error) {
	name, err := d.name()
	if err != nil {
		return nil, err
	}
	kind, err := d.u8()
	if err != nil {
		return nil, err
	}
	idx, err := d.u32()
	if err != nil {
		return nil, err
	}
	return &wasm.Export{Name: name, Type: kind, Index: idx}, nil
}

func (d *decoder) elementSegment() (*wasm.ElementSegment, error) {
	flag, err := d.u32()
	if err != nil {
		return nil, err
	}
	if flag != 0 {
		return nil, fmt.Errorf("unsupported element segment flag %d (only active segments for table 0 are supported)", flag)
	}
	offset, err := d.constExpr()
	if err != nil {
		return nil, err
	}
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	members := make([]*wasm.Index, n)
	for i := range members {
		fidx, err := d.u32()
		if err != nil {
			return nil, err
		}
		members[i] = &fidx
	}
	return &wasm.ElementSegment{TableIndex: 0, Offset: offset, Members: members}, nil
}

func (d *decoder) codeEntry() (*wasm.Code, error) {
	size, err := d.u32()
	if err != nil {
		return nil, err
	}
	if d.pos+int(size) > len(d.buf) {
		return nil, fmt.Errorf("code entry size exceeds section length")
	}
	body := d.buf[d.pos : d.pos+int(size)]
	d.pos += int(size)

	bd := &decoder{buf: body}
	localGroupCount, err := bd.u32()
	if err != nil {
		return nil, err
	}
	var locals []wasm.LocalGroup
	for i := uint32(0); i < localGroupCount; i++ {
		count, err := bd.u32()
		if err != nil {
			return nil, err
		}
		vt, err := bd.valueType()
		if err != nil {
			return nil, err
		}
		locals = append(locals, wasm.LocalGroup{Count: count, Type: vt})
	}
	return &wasm.Code{Locals: locals, Body: append([]byte{}, body[bd.pos:]...)}, nil
}

func (d *decoder) dataSegment() (*wasm.DataSegment, error) {
	flag, err := d.u32()
	if err != nil {
		return nil, err
	}
	if flag != 0 {
		return nil, fmt.Errorf("unsupported data segment flag %d", flag)
	}
	offset, err := d.constExpr()
	if err != nil {
		return nil, err
	}
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	init, err := d.bytes(int(n))
	if err != nil {
		return nil, err
	}
	return &wasm.DataSegment{MemoryIndex: 0, Offset: offset, Init: append([]byte{}, init...)}, nil
}
