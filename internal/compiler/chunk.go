package compiler

import "cosmo/internal/value"

// Globals is the compile-time name table backing GETGLOBAL/SETGLOBAL/
// INCGLOBAL's u16 slot operand. It is shared by every Compile call against one VM instance
// (and across REPL compiles against the same VM) so that a global
// declared in one compiled chunk is visible, by the same slot index, to
// the next.
type Globals struct {
	names []string
	index map[string]uint16
}

// NewGlobals returns an empty, growable global-name table.
func NewGlobals() *Globals {
	return &Globals{index: make(map[string]uint16)}
}

// Slot returns the slot index for name, allocating a new one if this is
// the first time name has been seen.
func (g *Globals) Slot(name string) uint16 {
	if idx, ok := g.index[name]; ok {
		return idx
	}
	idx := uint16(len(g.names))
	g.names = append(g.names, name)
	g.index[name] = idx
	return idx
}

// Len reports how many global slots have been allocated.
func (g *Globals) Len() int { return len(g.names) }

// Name returns the declared name for slot idx.
func (g *Globals) Name(idx uint16) string { return g.names[idx] }

// emit appends a single opcode byte with no operand and returns its
// offset.
func (fs *funcState) emitOp(op Opcode, line int) int {
	return fs.emitByte(byte(op), line)
}

func (fs *funcState) emitByte(b byte, line int) int {
	fs.chunk.Code = append(fs.chunk.Code, b)
	fs.chunk.Lines = append(fs.chunk.Lines, line)
	return len(fs.chunk.Code) - 1
}

// emitU16 appends v little-endian, the operand byte order every
// multibyte operand in a chunk uses.
func (fs *funcState) emitU16(v uint16, line int) int {
	start := fs.emitByte(byte(v), line)
	fs.emitByte(byte(v>>8), line)
	return start
}

// emitJump emits op followed by a 16-bit placeholder offset and returns
// the offset of the placeholder's first byte, to be passed to patchJump
// once the target is known.
func (fs *funcState) emitJump(op Opcode, line int) int {
	fs.emitOp(op, line)
	pos := len(fs.chunk.Code)
	fs.emitByte(0xFF, line)
	fs.emitByte(0xFF, line)
	return pos
}

// patchJump back-patches the placeholder at pos to jump to the current
// end of the chunk (a forward jump target).
func (fs *funcState) patchJump(pos int) {
	offset := len(fs.chunk.Code) - (pos + 2)
	if offset < 0 || offset > 0xFFFF {
		fs.errorAtCurrent("jump distance exceeds 16 bits")
		return
	}
	fs.chunk.Code[pos] = byte(offset)
	fs.chunk.Code[pos+1] = byte(offset >> 8)
}

// emitLoop emits JMPBACK with the offset back to loopStart.
func (fs *funcState) emitLoop(loopStart int, line int) {
	fs.emitOp(JMPBACK, line)
	offset := len(fs.chunk.Code) - loopStart + 2
	if offset > 0xFFFF {
		fs.errorAtCurrent("loop body exceeds 16-bit jump distance")
		offset = 0
	}
	fs.emitByte(byte(offset), line)
	fs.emitByte(byte(offset>>8), line)
}

// emitNext emits NEXT n followed by a 16-bit placeholder exit offset,
// returning the placeholder's position for patchJump.
func (fs *funcState) emitNext(n byte, line int) int {
	fs.emitOp(NEXT, line)
	fs.emitByte(n, line)
	pos := len(fs.chunk.Code)
	fs.emitByte(0xFF, line)
	fs.emitByte(0xFF, line)
	return pos
}

// addConstant adds v to the in-progress function's constant pool.
func (fs *funcState) addConstant(v value.Value) uint16 {
	idx := fs.chunk.AddConstant(v)
	if idx > 0xFFFF {
		fs.errorAtCurrent("too many constants in one function")
	}
	return uint16(idx)
}
