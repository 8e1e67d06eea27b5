package compiler

import (
	"fmt"

	"cosmo/internal/lexer"
	"cosmo/internal/token"
	"cosmo/internal/value"
)

// maxLocals and maxUpvalues bound the compile-time Local/Upvalue slot
// tables; both are addressed by a single u8 operand.
const (
	maxLocals   = 256
	maxUpvalues = 256
)

// Local is a compile-time-only record of a declared local variable.
type Local struct {
	name     string
	depth    int
	captured bool
}

// upvalSlot is a compile-time-only record describing how a closure's
// upvalue was resolved: directly from the enclosing frame's local
// (isLocal) or forwarded from the next-outer frame's own upvalue list.
type upvalSlot struct {
	index   uint8
	isLocal bool
}

// loopState tracks the bookkeeping a break/continue statement needs:
// the scope depth to unwind to, the loop's start offset (for
// continue's JMPBACK), and the list of break-jump patch points.
type loopState struct {
	depth      int
	breakDepth int
	start      int
	breakJumps []int
}

// funcState holds the compiler state for one function being compiled;
// funcStates are chained innermost-first via enclosing, one per nested
// function.
type funcState struct {
	enclosing *funcState
	owner     *Compiler
	chunk     *value.Chunk
	name      string
	arity     int
	variadic  bool

	locals     []Local
	upvalues   []upvalSlot
	scopeDepth int
	loops      []*loopState
}

// errorAtCurrent reports a compile error anchored at the current token,
// delegating to the owning Compiler's panic-mode bookkeeping; chunk.go's
// emit helpers use this to report jump-distance/constant-pool overflow
// without needing their own copy of error-reporting state.
func (fs *funcState) errorAtCurrent(msg string) { fs.owner.errorAtCurrent(msg) }

// Collector is the compiler's view of the garbage collector: object
// tracking plus the freeze counter that suppresses collection while
// compile-time intermediates are unrooted.
type Collector interface {
	value.GC
	Freeze()
	Unfreeze()
}

// Compiler is a single-pass Pratt parser/compiler: it consumes tokens
// from a Lexer and emits bytecode directly, with no intermediate AST.
type Compiler struct {
	lex *lexer.Lexer

	prev, cur token.Token
	hadError  bool
	panicMode bool

	globals    *Globals
	strings    *value.Strings
	gc         Collector
	moduleName string

	// firstError holds the first compile error's formatted message, the
	// only one of potentially several panic-mode-suppressed errors that
	// Compile's caller gets to see.
	firstError string

	fs *funcState

	// lastCallExpectedPos is the chunk offset of the `expected` operand
	// byte most recently emitted by call()/methodCall(), or -1 if the
	// expression just compiled by expression() was not a bare call.
	// Multi-name declarations use it to let a single trailing call
	// spread its results across several names.
	lastCallExpectedPos int
}

// Compile compiles src as a module named moduleName against the given
// (possibly already-populated, e.g. by a prior REPL compile) Globals
// table, interning string constants through strs and tracking every
// allocated heap object with gc. It returns the top-level Function and
// whether compilation succeeded; on failure the returned Function (if
// non-nil) must not be executed — frames are still closed, only the
// outcome flag tells the caller the chunk is unusable.
func Compile(src, moduleName string, globals *Globals, strs *value.Strings, gc Collector) (*value.Function, bool, string) {
	// The compiler routinely creates objects (interned strings, Functions,
	// constant pools) reachable from no VM root yet; collection stays
	// suppressed until the finished top-level Function is handed back,
	// on every exit path.
	gc.Freeze()
	defer gc.Unfreeze()

	c := &Compiler{
		lex:        lexer.New(src),
		globals:    globals,
		strings:    strs,
		gc:         gc,
		moduleName: moduleName,
	}
	c.pushFuncState("", false)
	c.advance()

	for !c.matchTok(token.EOF) {
		c.declaration()
	}

	fn := c.endFunction()
	return fn, !c.hadError, c.firstError
}

// --- token stream plumbing ---

func (c *Compiler) advance() {
	c.prev = c.cur
	for {
		c.cur = c.lex.Next()
		if c.cur.Kind != token.ERROR {
			break
		}
		c.errorAtCurrent(c.cur.Lit)
	}
}

func (c *Compiler) check(k token.Kind) bool { return c.cur.Kind == k }

func (c *Compiler) matchTok(k token.Kind) bool {
	if !c.check(k) {
		return false
	}
	c.advance()
	return true
}

func (c *Compiler) consume(k token.Kind, msg string) {
	if c.cur.Kind == k {
		c.advance()
		return
	}
	c.errorAtCurrent(msg)
}

func (c *Compiler) errorAtCurrent(msg string) { c.errorAt(c.cur, msg) }
func (c *Compiler) errorAtPrev(msg string)    { c.errorAt(c.prev, msg) }

func (c *Compiler) errorAt(tok token.Token, msg string) {
	if c.panicMode {
		return // suppress follow-on errors until resync
	}
	c.panicMode = true
	c.hadError = true
	formatted := fmt.Sprintf("line %d: %s near %q", tok.Line, msg, tok.Lit)
	if c.firstError == "" {
		c.firstError = formatted
	}
}

// synchronize implements panic-mode error recovery: skip tokens until a
// statement boundary (';' or a block-closing keyword) is found.
func (c *Compiler) synchronize() {
	c.panicMode = false
	for c.cur.Kind != token.EOF {
		if c.prev.Kind == token.SEMI {
			return
		}
		switch c.cur.Kind {
		case token.END, token.ELSE, token.ELSEIF, token.FUNCTION, token.VAR,
			token.LOCAL, token.FOR, token.WHILE, token.IF, token.RETURN, token.PROTO:
			return
		}
		c.advance()
	}
}

// --- frame management ---

func (c *Compiler) pushFuncState(name string, variadic bool) {
	fs := &funcState{
		enclosing: c.fs,
		owner:     c,
		chunk:     &value.Chunk{},
		name:      name,
		variadic:  variadic,
	}
	// Slot 0 is reserved for the function/receiver itself.
	fs.locals = append(fs.locals, Local{name: "", depth: 0})
	c.fs = fs
}

func (c *Compiler) endFunction() *value.Function {
	fs := c.fs
	// Trailing sentinel: NIL; RETURN 1.
	fs.emitOp(NIL, c.prev.Line)
	fs.emitOp(RETURN, c.prev.Line)
	fs.emitByte(1, c.prev.Line)

	fn := &value.Function{
		Chunk:      fs.chunk,
		Arity:      fs.arity,
		Variadic:   fs.variadic,
		NumUpvals:  len(fs.upvalues),
		ModuleName: c.moduleName,
		Name:       fs.name,
	}
	c.gc.Track(fn)
	c.fs = fs.enclosing
	return fn
}

func (c *Compiler) beginScope() { c.fs.scopeDepth++ }

// endScope pops locals whose depth exceeds the new depth: captured
// locals get CLOSE (after flushing any pending batched POP, since CLOSE
// addresses top-of-stack), the rest are merged into one POP n.
func (c *Compiler) endScope() {
	fs := c.fs
	fs.scopeDepth--
	line := c.prev.Line

	popCount := 0
	flush := func() {
		if popCount > 0 {
			fs.emitOp(POP, line)
			fs.emitByte(byte(popCount), line)
			popCount = 0
		}
	}
	for len(fs.locals) > 0 && fs.locals[len(fs.locals)-1].depth > fs.scopeDepth {
		local := fs.locals[len(fs.locals)-1]
		if local.captured {
			flush()
			fs.emitOp(CLOSE, line)
		} else {
			popCount++
		}
		fs.locals = fs.locals[:len(fs.locals)-1]
	}
	flush()
}

// emitPopsAbove emits the CLOSE/POP sequence for every local declared
// deeper than depth, without removing them from fs.locals: used by
// break/continue to unwind the stack along a jump that bypasses the
// scopes' normal endScope, while the logical scope continues for any
// code after the jump.
func (c *Compiler) emitPopsAbove(depth int) {
	fs := c.fs
	line := c.prev.Line
	popCount := 0
	flush := func() {
		if popCount > 0 {
			fs.emitOp(POP, line)
			fs.emitByte(byte(popCount), line)
			popCount = 0
		}
	}
	for i := len(fs.locals) - 1; i >= 0 && fs.locals[i].depth > depth; i-- {
		if fs.locals[i].captured {
			flush()
			fs.emitOp(CLOSE, line)
		} else {
			popCount++
		}
	}
	flush()
}

// --- variable resolution ---

func (fs *funcState) resolveLocal(name string) int {
	for i := len(fs.locals) - 1; i >= 0; i-- {
		if fs.locals[i].name == name {
			return i
		}
	}
	return -1
}

// resolveUpvalue walks outward through enclosing frames, synthesizing an
// upvalue chain as needed: each link records whether it captures the
// next-outer frame's local directly or forwards that frame's upvalue.
func (fs *funcState) resolveUpvalue(name string) int {
	if fs.enclosing == nil {
		return -1
	}
	if local := fs.enclosing.resolveLocal(name); local != -1 {
		fs.enclosing.locals[local].captured = true
		return fs.addUpvalue(uint8(local), true)
	}
	if up := fs.enclosing.resolveUpvalue(name); up != -1 {
		return fs.addUpvalue(uint8(up), false)
	}
	return -1
}

func (fs *funcState) addUpvalue(index uint8, isLocal bool) int {
	for i, uv := range fs.upvalues {
		if uv.index == index && uv.isLocal == isLocal {
			return i
		}
	}
	fs.upvalues = append(fs.upvalues, upvalSlot{index: index, isLocal: isLocal})
	return len(fs.upvalues) - 1
}

func (c *Compiler) declareLocal(name string) {
	fs := c.fs
	if len(fs.locals) >= maxLocals {
		c.errorAtPrev("too many local variables in function")
		return
	}
	for i := len(fs.locals) - 1; i >= 0; i-- {
		if fs.locals[i].depth != -1 && fs.locals[i].depth < fs.scopeDepth {
			break
		}
		if fs.locals[i].name == name {
			c.errorAtPrev("variable already declared in this scope")
			return
		}
	}
	fs.locals = append(fs.locals, Local{name: name, depth: fs.scopeDepth})
}

// isTopLevelGlobalScope reports whether a `var` declaration here binds a
// global: `var` declares in the current scope, which means globally at
// top level and locally anywhere else.
func (c *Compiler) isTopLevelGlobalScope() bool {
	return c.fs.enclosing == nil && c.fs.scopeDepth == 0
}

func (c *Compiler) internString(s string) *value.String { return c.strings.Intern(s) }
