package compiler

import "cosmo/internal/token"

// declaration compiles one top-level-or-block declaration/statement and
// resynchronizes after a compile error (panic-mode recovery).
func (c *Compiler) declaration() {
	switch {
	case c.matchTok(token.VAR):
		c.varDeclaration()
	case c.matchTok(token.LOCAL):
		c.localDeclaration()
	case c.check(token.FUNCTION):
		c.advance()
		c.functionDeclaration()
	case c.check(token.PROTO):
		c.advance()
		c.protoDeclaration()
	default:
		c.statement()
	}
	if c.panicMode {
		c.synchronize()
	}
}

func (c *Compiler) statement() {
	switch {
	case c.matchTok(token.IF):
		c.ifStatement()
	case c.matchTok(token.WHILE):
		c.whileStatement()
	case c.matchTok(token.FOR):
		c.forStatement()
	case c.matchTok(token.BREAK):
		c.breakStatement()
	case c.matchTok(token.CONTINUE):
		c.continueStatement()
	case c.matchTok(token.RETURN):
		c.returnStatement()
	case c.matchTok(token.DO):
		c.beginScope()
		c.block(token.END)
		c.consume(token.END, "expected 'end' to close 'do' block")
		c.endScope()
	case c.matchTok(token.SEMI):
		// A bare ';' (e.g. right after a block's `end`) is an empty statement.
	default:
		c.exprStatement()
	}
}

// block compiles statements until one of the terminator tokens (or EOF)
// is reached, without consuming the terminator.
func (c *Compiler) block(terminators ...token.Kind) {
	for {
		if c.check(token.EOF) {
			return
		}
		for _, t := range terminators {
			if c.check(t) {
				return
			}
		}
		c.declaration()
	}
}

func (c *Compiler) consumeSemiOpt() {
	c.matchTok(token.SEMI)
}

// varDeclaration implements `var name[, name...] = expr[, expr...]`,
// binding globally at top level and locally inside a function.
func (c *Compiler) varDeclaration() {
	c.varOrLocalDeclBody(c.isTopLevelGlobalScope())
}

func (c *Compiler) localDeclaration() {
	c.varOrLocalDeclBody(false)
}

// varOrLocalDeclBody parses `name[, name]* [= expr[, expr]*]` and emits
// the appropriate binding opcode for each name, padding with NIL or
// discarding extra values so declared-name-count == value-count.
func (c *Compiler) varOrLocalDeclBody(global bool) {
	c.consume(token.IDENT, "expected variable name")
	names := []string{c.prev.Lit}
	for c.matchTok(token.COMMA) {
		c.consume(token.IDENT, "expected variable name")
		names = append(names, c.prev.Lit)
	}

	nvalues := 0
	line := c.prev.Line
	if c.matchTok(token.ASSIGN) {
		for {
			c.expression()
			nvalues++
			if !c.matchTok(token.COMMA) {
				break
			}
		}
		nvalues += c.spreadLastCall(len(names) - nvalues)
	}
	for nvalues < len(names) {
		c.fs.emitOp(NIL, line)
		nvalues++
	}
	for nvalues > len(names) {
		c.fs.emitOp(POP, line)
		c.fs.emitByte(1, line)
		nvalues--
	}

	// Values are on the stack in declaration order; bind back to front
	// so each SETLOCAL/SETGLOBAL consumes the matching top-of-stack
	// value, or for locals simply let the pushed value become the slot.
	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]
		if global {
			slot := c.globals.Slot(name)
			c.fs.emitOp(SETGLOBAL, line)
			c.fs.emitU16(slot, line)
			c.fs.emitOp(POP, line)
			c.fs.emitByte(1, line)
		} else {
			c.declareLocal(name)
		}
	}
	if !global {
		// Locals bind in declaration order (first name = lowest slot),
		// but values were pushed left-to-right, so reverse the local
		// table entries we just appended to match push order.
		reverseTail(c.fs, len(names))
	}
	c.consumeSemiOpt()
}

// reverseTail reverses the last n entries of fs.locals in place so
// declaration order matches the stack push order of a multi-name var
// statement's value list.
func reverseTail(fs *funcState, n int) {
	locals := fs.locals
	start := len(locals) - n
	for i, j := start, len(locals)-1; i < j; i, j = i+1, j-1 {
		locals[i], locals[j] = locals[j], locals[i]
	}
}

// functionDeclaration compiles `function name(params) body end` as
// sugar for declaring name (global at top level, local in a function)
// and binding it to the compiled closure.
func (c *Compiler) functionDeclaration() {
	c.consume(token.IDENT, "expected function name")
	name := c.prev.Lit
	line := c.prev.Line
	global := c.isTopLevelGlobalScope()

	if !global {
		// Predeclare so the function can recurse by name.
		c.declareLocal(name)
	}

	c.compileFunctionBody(name)

	if global {
		slot := c.globals.Slot(name)
		c.fs.emitOp(SETGLOBAL, line)
		c.fs.emitU16(slot, line)
		c.fs.emitOp(POP, line)
		c.fs.emitByte(1, line)
	}
	// local case: the closure value just pushed occupies exactly the
	// slot declareLocal reserved for name, so no SETLOCAL is needed.
}

// protoDeclaration compiles `proto Name function m1(self,...) ... end
// ... end`, producing a user Object of methods and binding it like a
// function declaration.
func (c *Compiler) protoDeclaration() {
	c.consume(token.IDENT, "expected proto name")
	name := c.prev.Lit
	line := c.prev.Line
	global := c.isTopLevelGlobalScope()

	if !global {
		c.declareLocal(name)
	}
	c.protoMethods(line)

	if global {
		slot := c.globals.Slot(name)
		c.fs.emitOp(SETGLOBAL, line)
		c.fs.emitU16(slot, line)
		c.fs.emitOp(POP, line)
		c.fs.emitByte(1, line)
	}
}

// protoLiteral handles the anonymous expression form `proto function
// m(self) ... end end` used e.g. as `var P = proto ... end`.
func (c *Compiler) protoLiteral(bool) {
	c.protoMethods(c.prev.Line)
}

func (c *Compiler) protoMethods(line int) {
	n := 0
	for !c.check(token.END) && !c.check(token.EOF) {
		c.consume(token.FUNCTION, "expected 'function' inside proto body")
		c.consume(token.IDENT, "expected method name")
		methodName := c.prev.Lit
		key := c.internString(methodName)
		keyIdx := c.fs.addConstant(key)
		c.fs.emitOp(LOADCONST, line)
		c.fs.emitU16(keyIdx, line)
		c.compileFunctionBody(methodName)
		n++
	}
	c.consume(token.END, "expected 'end' to close proto")
	c.fs.emitOp(NEWOBJECT, line)
	c.fs.emitU16(uint16(n), line)
}

// functionLiteral handles the anonymous expression form `function(a, b)
// ... end` used as a first-class value.
func (c *Compiler) functionLiteral(bool) {
	c.compileFunctionBody("")
}

// compileFunctionBody parses `(params) block end` (the `function`
// keyword, and any name, already consumed by the caller) as a nested
// frame, then emits CLOSURE plus its upvalue-hint pairs into the
// enclosing frame, leaving the closure value on the stack.
func (c *Compiler) compileFunctionBody(name string) {
	line := c.prev.Line
	c.pushFuncState(name, false)
	c.consume(token.LPAREN, "expected '(' after function name")
	if !c.check(token.RPAREN) {
		for {
			if c.matchTok(token.ELLIPSIS) {
				c.fs.variadic = true
				// Reserve the slot the VM binds the collected extra
				// arguments into, as a Table. An identifier after `...`
				// names the table; without one the slot is only reachable
				// as `...` itself.
				name := "..."
				if c.check(token.IDENT) {
					c.advance()
					name = c.prev.Lit
				}
				c.declareLocal(name)
				break
			}
			c.consume(token.IDENT, "expected parameter name")
			c.declareLocal(c.prev.Lit)
			c.fs.arity++
			if !c.matchTok(token.COMMA) {
				break
			}
		}
	}
	c.consume(token.RPAREN, "expected ')' after parameters")

	c.block(token.END)
	c.consume(token.END, "expected 'end' to close function body")

	inner := c.fs
	fn := c.endFunction()

	idx := c.fs.addConstant(fn)
	c.fs.emitOp(CLOSURE, line)
	c.fs.emitU16(idx, line)
	for _, uv := range inner.upvalues {
		isLocal := byte(0)
		if uv.isLocal {
			isLocal = 1
		}
		c.fs.emitByte(isLocal, line)
		c.fs.emitByte(uv.index, line)
	}
}

// ifStatement compiles `if cond do block (elseif cond do block)* (else
// block)? end`.
func (c *Compiler) ifStatement() {
	line := c.prev.Line
	c.expression()
	c.consume(token.DO, "expected 'do' after condition")
	thenJump := c.fs.emitJump(PEJMP, line)

	c.beginScope()
	c.block(token.END, token.ELSE, token.ELSEIF)
	c.endScope()

	endJumps := []int{}
	for c.check(token.ELSEIF) {
		endJumps = append(endJumps, c.fs.emitJump(JMP, c.cur.Line))
		c.fs.patchJump(thenJump)
		c.advance() // consume 'elseif'
		elseifLine := c.prev.Line
		c.expression()
		c.consume(token.DO, "expected 'do' after condition")
		thenJump = c.fs.emitJump(PEJMP, elseifLine)
		c.beginScope()
		c.block(token.END, token.ELSE, token.ELSEIF)
		c.endScope()
	}

	if c.matchTok(token.ELSE) {
		endJumps = append(endJumps, c.fs.emitJump(JMP, c.prev.Line))
		c.fs.patchJump(thenJump)
		c.beginScope()
		c.block(token.END)
		c.endScope()
	} else {
		c.fs.patchJump(thenJump)
	}

	c.consume(token.END, "expected 'end' to close 'if'")
	for _, j := range endJumps {
		c.fs.patchJump(j)
	}
}

// whileStatement compiles `while cond do block end`.
func (c *Compiler) whileStatement() {
	fs := c.fs
	loopStart := len(fs.chunk.Code)
	line := c.prev.Line
	c.expression()
	c.consume(token.DO, "expected 'do' after condition")
	exitJump := fs.emitJump(PEJMP, line)

	fs.loops = append(fs.loops, &loopState{depth: fs.scopeDepth, breakDepth: fs.scopeDepth, start: loopStart})
	c.beginScope()
	c.block(token.END)
	c.endScope()
	loop := fs.loops[len(fs.loops)-1]
	fs.loops = fs.loops[:len(fs.loops)-1]

	fs.emitLoop(loopStart, c.prev.Line)
	fs.patchJump(exitJump)
	for _, b := range loop.breakJumps {
		fs.patchJump(b)
	}
	c.consume(token.END, "expected 'end' to close 'while'")
}

// forStatement dispatches between the C-style three-clause form
// (`for init; cond; iter do body end`) and the foreach form (`for
// v1, v2 in expr do body end`), distinguished by looksLikeForEach.
func (c *Compiler) forStatement() {
	// Both for-loop forms accept an optional C-style parenthesized
	// clause list, e.g. `for(var i=0; i<5; i=i+1) do ... end`; the
	// parens carry no grammatical meaning beyond grouping and are
	// consumed here so both branches stay agnostic to them.
	paren := c.matchTok(token.LPAREN)
	if c.looksLikeForEach() {
		c.forEachStatement(paren)
		return
	}
	c.cStyleForStatement(paren)
}

// looksLikeForEach decides the form from the current token alone, without
// lookahead: an identifier starts the foreach form, anything else (`var`,
// `local`, ';', ...) the C-style form. A C-style initializer that begins
// with an identifier (`for i = 0; ...`) is therefore parsed as foreach.
func (c *Compiler) looksLikeForEach() bool {
	return c.check(token.IDENT)
}

func (c *Compiler) forEachStatement(paren bool) {
	fs := c.fs
	outerDepth := fs.scopeDepth
	c.beginScope()

	c.consume(token.IDENT, "expected loop variable name")
	names := []string{c.prev.Lit}
	for c.matchTok(token.COMMA) {
		c.consume(token.IDENT, "expected loop variable name")
		names = append(names, c.prev.Lit)
	}
	c.consume(token.IN, "expected 'in' after loop variables")
	line := c.prev.Line
	c.expression() // iterable, becomes the iterator slot in place
	if paren {
		c.consume(token.RPAREN, "expected ')' to close 'for' clause")
	}
	fs.emitOp(ITER, line)
	c.declareLocal("<iter>")

	for _, n := range names {
		fs.emitOp(NIL, line)
		c.declareLocal(n)
	}
	c.consume(token.DO, "expected 'do' after loop variables")

	loopStart := len(fs.chunk.Code)
	exitPos := fs.emitNext(byte(len(names)), line)

	fs.loops = append(fs.loops, &loopState{depth: fs.scopeDepth, breakDepth: outerDepth, start: loopStart})
	c.beginScope()
	c.block(token.END)
	c.endScope()
	loop := fs.loops[len(fs.loops)-1]
	fs.loops = fs.loops[:len(fs.loops)-1]

	fs.emitLoop(loopStart, c.prev.Line)
	fs.patchJump(exitPos)
	for _, b := range loop.breakJumps {
		fs.patchJump(b)
	}
	c.consume(token.END, "expected 'end' to close 'for'")

	// The VM has already popped the iterator and loop-var slots along
	// the exhaustion path; forget them here without emitting POP/CLOSE.
	fs.locals = fs.locals[:len(fs.locals)-len(names)-1]
	fs.scopeDepth--
}

func (c *Compiler) cStyleForStatement(paren bool) {
	fs := c.fs
	c.beginScope()

	switch {
	case c.matchTok(token.VAR):
		c.varDeclaration()
	case c.matchTok(token.LOCAL):
		c.localDeclaration()
	case c.matchTok(token.SEMI):
		// no initializer
	default:
		c.exprStatement()
	}

	loopStart := len(fs.chunk.Code)
	exitJump := -1
	if !c.check(token.SEMI) {
		c.expression()
		line := c.prev.Line
		exitJump = fs.emitJump(PEJMP, line)
	}
	c.consume(token.SEMI, "expected ';' after loop condition")

	closeParen := func() {
		if paren {
			c.consume(token.RPAREN, "expected ')' to close 'for' clause")
		}
	}

	if !c.check(token.DO) && !(paren && c.check(token.RPAREN)) {
		bodyJump := fs.emitJump(JMP, c.prev.Line)
		incrStart := len(fs.chunk.Code)
		c.expression()
		closeParen()
		fs.emitOp(POP, c.prev.Line)
		fs.emitByte(1, c.prev.Line)
		fs.emitLoop(loopStart, c.prev.Line)
		loopStart = incrStart
		fs.patchJump(bodyJump)
	} else {
		closeParen()
	}
	c.consume(token.DO, "expected 'do' to begin loop body")

	fs.loops = append(fs.loops, &loopState{depth: fs.scopeDepth, breakDepth: fs.scopeDepth, start: loopStart})
	c.beginScope()
	c.block(token.END)
	c.endScope()
	loop := fs.loops[len(fs.loops)-1]
	fs.loops = fs.loops[:len(fs.loops)-1]

	fs.emitLoop(loopStart, c.prev.Line)
	if exitJump != -1 {
		fs.patchJump(exitJump)
	}
	for _, b := range loop.breakJumps {
		fs.patchJump(b)
	}
	c.consume(token.END, "expected 'end' to close 'for'")
	c.endScope()
}

func (c *Compiler) breakStatement() {
	if len(c.fs.loops) == 0 {
		c.errorAtPrev("'break' outside a loop")
		return
	}
	loop := c.fs.loops[len(c.fs.loops)-1]
	c.emitPopsAbove(loop.breakDepth)
	j := c.fs.emitJump(JMP, c.prev.Line)
	loop.breakJumps = append(loop.breakJumps, j)
	c.consumeSemiOpt()
}

func (c *Compiler) continueStatement() {
	if len(c.fs.loops) == 0 {
		c.errorAtPrev("'continue' outside a loop")
		return
	}
	loop := c.fs.loops[len(c.fs.loops)-1]
	c.emitPopsAbove(loop.depth)
	c.fs.emitLoop(loop.start, c.prev.Line)
	c.consumeSemiOpt()
}

// returnStatement compiles `return [expr[, expr]*]`.
func (c *Compiler) returnStatement() {
	line := c.prev.Line
	n := 0
	if !c.check(token.END) && !c.check(token.SEMI) && !c.check(token.EOF) &&
		!c.check(token.ELSE) && !c.check(token.ELSEIF) {
		for {
			c.expression()
			n++
			if !c.matchTok(token.COMMA) {
				break
			}
		}
	}
	c.fs.emitOp(RETURN, line)
	c.fs.emitByte(byte(n), line)
	c.consumeSemiOpt()
}

func (c *Compiler) exprStatement() {
	c.expression()
	c.fs.emitOp(POP, c.prev.Line)
	c.fs.emitByte(1, c.prev.Line)
	c.consumeSemiOpt()
}
