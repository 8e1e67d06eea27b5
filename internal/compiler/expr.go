package compiler

import (
	"strconv"

	"cosmo/internal/token"
	"cosmo/internal/value"
)

func init() {
	rules = map[token.Kind]rule{
		token.NUMBER: {prefix: (*Compiler).number},
		token.STRING: {prefix: (*Compiler).string},
		token.IDENT:  {prefix: (*Compiler).variable},
		token.TRUE:   {prefix: (*Compiler).literal},
		token.FALSE:  {prefix: (*Compiler).literal},
		token.NIL:    {prefix: (*Compiler).literal},

		token.LPAREN: {prefix: (*Compiler).grouping, infix: (*Compiler).call, precedence: PrecCall},
		token.LBRACK: {infix: (*Compiler).index, precedence: PrecCall},
		token.LBRACE: {prefix: (*Compiler).tableLiteral},
		token.DOT:    {infix: (*Compiler).dot, precedence: PrecCall},
		token.COLON:  {infix: (*Compiler).methodCall, precedence: PrecCall},

		token.MINUS:      {prefix: (*Compiler).unary, infix: (*Compiler).binary, precedence: PrecTerm},
		token.PLUS:       {infix: (*Compiler).binary, precedence: PrecTerm},
		token.STAR:       {infix: (*Compiler).binary, precedence: PrecFactor},
		token.SLASH:      {infix: (*Compiler).binary, precedence: PrecFactor},
		token.PERCENT:    {infix: (*Compiler).binary, precedence: PrecFactor},
		token.NOT:        {prefix: (*Compiler).unary},
		token.BANG:       {prefix: (*Compiler).unary},
		token.HASH:       {prefix: (*Compiler).unary},
		token.DOTDOT:     {infix: (*Compiler).concat, precedence: PrecConcat},
		token.AND:        {infix: (*Compiler).and, precedence: PrecAnd},
		token.OR:         {infix: (*Compiler).or, precedence: PrecOr},
		token.EQ:         {infix: (*Compiler).binary, precedence: PrecEquality},
		token.NEQ:        {infix: (*Compiler).binary, precedence: PrecEquality},
		token.LT:         {infix: (*Compiler).binary, precedence: PrecComparison},
		token.GT:         {infix: (*Compiler).binary, precedence: PrecComparison},
		token.LE:         {infix: (*Compiler).binary, precedence: PrecComparison},
		token.GE:         {infix: (*Compiler).binary, precedence: PrecComparison},
		token.FUNCTION:   {prefix: (*Compiler).functionLiteral},
		token.PROTO:      {prefix: (*Compiler).protoLiteral},
		token.PLUSPLUS:   {prefix: (*Compiler).prefixIncrement},
		token.MINUSMINUS: {prefix: (*Compiler).prefixIncrement},
	}
}

// expression compiles a full expression, including assignment. After it
// returns, c.lastCallExpectedPos names the `expected` operand byte of a
// trailing bare call, or -1 if the expression did not end in one.
func (c *Compiler) expression() {
	c.lastCallExpectedPos = -1
	c.parsePrecedence(PrecAssignment)
}

func (c *Compiler) parsePrecedence(limit Precedence) {
	c.advance()
	prefixRule := c.rule(c.prev.Kind).prefix
	if prefixRule == nil {
		c.errorAtPrev("expected an expression")
		return
	}
	canAssign := limit <= PrecAssignment
	prefixRule(c, canAssign)
	// Only a call or method call as the last operation leaves a spreadable
	// `expected` byte; every other handler clears the marker.
	c.lastCallExpectedPos = -1

	for limit <= c.rule(c.cur.Kind).precedence {
		c.advance()
		kind := c.prev.Kind
		infixRule := c.rule(kind).infix
		infixRule(c, canAssign)
		if kind != token.LPAREN && kind != token.COLON {
			c.lastCallExpectedPos = -1
		}
	}

	if canAssign && c.matchTok(token.ASSIGN) {
		c.errorAtPrev("invalid assignment target")
	}
}

func (c *Compiler) number(bool) {
	n, _ := strconv.ParseFloat(c.prev.Lit, 64)
	c.emitConstant(value.Number(n))
}

func (c *Compiler) string(bool) {
	s := c.internString(c.prev.Lit)
	c.emitConstant(s)
}

func (c *Compiler) literal(bool) {
	line := c.prev.Line
	switch c.prev.Kind {
	case token.TRUE:
		c.fs.emitOp(TRUE, line)
	case token.FALSE:
		c.fs.emitOp(FALSE, line)
	case token.NIL:
		c.fs.emitOp(NIL, line)
	}
}

func (c *Compiler) emitConstant(v value.Value) {
	idx := c.fs.addConstant(v)
	c.fs.emitOp(LOADCONST, c.prev.Line)
	c.fs.emitU16(idx, c.prev.Line)
}

func (c *Compiler) grouping(bool) {
	c.expression()
	c.consume(token.RPAREN, "expected ')' after expression")
}

func (c *Compiler) unary(bool) {
	op := c.prev.Kind
	line := c.prev.Line
	c.parsePrecedence(PrecUnary)
	switch op {
	case token.MINUS:
		c.fs.emitOp(NEGATE, line)
	case token.NOT, token.BANG:
		c.fs.emitOp(NOT, line)
	case token.HASH:
		c.fs.emitOp(COUNT, line)
	}
}

func (c *Compiler) binary(bool) {
	c.lastCallExpectedPos = -1
	op := c.prev.Kind
	line := c.prev.Line
	r := c.rule(op)
	c.parsePrecedence(r.precedence + 1)
	switch op {
	case token.PLUS:
		c.fs.emitOp(ADD, line)
	case token.MINUS:
		c.fs.emitOp(SUB, line)
	case token.STAR:
		c.fs.emitOp(MULT, line)
	case token.SLASH:
		c.fs.emitOp(DIV, line)
	case token.PERCENT:
		c.fs.emitOp(MOD, line)
	case token.EQ:
		c.fs.emitOp(EQUAL, line)
	case token.NEQ:
		c.fs.emitOp(EQUAL, line)
		c.fs.emitOp(NOT, line)
	case token.LT:
		c.fs.emitOp(LESS, line)
	case token.GT:
		c.fs.emitOp(GREATER, line)
	case token.LE:
		c.fs.emitOp(LESS_EQUAL, line)
	case token.GE:
		c.fs.emitOp(GREATER_EQUAL, line)
	}
}

// concat handles `..`, right-associative: the right operand is parsed at
// PrecConcat itself (not one level above), so `a .. b .. c` groups as
// `a .. (b .. c)`.
func (c *Compiler) concat(bool) {
	c.lastCallExpectedPos = -1
	line := c.prev.Line
	c.parsePrecedence(PrecConcat)
	c.fs.emitOp(CONCAT, line)
	c.fs.emitByte(2, line)
}

// and/or short-circuit via EJMP (peek, jump-if-falsy/truthy without
// popping) so the surviving operand is left on the stack.
func (c *Compiler) and(bool) {
	c.lastCallExpectedPos = -1
	line := c.prev.Line
	endJump := c.fs.emitJump(EJMP, line)
	c.fs.emitOp(POP, line)
	c.fs.emitByte(1, line)
	c.parsePrecedence(PrecAnd)
	c.fs.patchJump(endJump)
}

func (c *Compiler) or(bool) {
	c.lastCallExpectedPos = -1
	line := c.prev.Line
	falsyJump := c.fs.emitJump(EJMP, line)
	endJump := c.fs.emitJump(JMP, line)
	c.fs.patchJump(falsyJump)
	c.fs.emitOp(POP, line)
	c.fs.emitByte(1, line)
	c.parsePrecedence(PrecOr)
	c.fs.patchJump(endJump)
}

// variable compiles an identifier reference, resolving it local →
// upvalue → global, and handles `name = expr` assignment when
// canAssign.
func (c *Compiler) variable(canAssign bool) {
	name := c.prev.Lit
	line := c.prev.Line

	if canAssign && c.check(token.ASSIGN) {
		c.advance()
		c.assignTo(name, line)
		return
	}
	if canAssign && (c.check(token.PLUSPLUS) || c.check(token.MINUSMINUS)) {
		delta := byte(1)
		if c.cur.Kind == token.MINUSMINUS {
			delta = 0xFF // -1 as an unsigned byte delta, VM sign-extends
		}
		c.advance()
		c.emitIncrement(name, delta, line)
		return
	}
	c.emitVariableGet(name, line)
}

func (c *Compiler) emitVariableGet(name string, line int) {
	if idx := c.fs.resolveLocal(name); idx != -1 {
		c.fs.emitOp(GETLOCAL, line)
		c.fs.emitByte(byte(idx), line)
		return
	}
	if idx := c.fs.resolveUpvalue(name); idx != -1 {
		c.fs.emitOp(GETUPVAL, line)
		c.fs.emitByte(byte(idx), line)
		return
	}
	slot := c.globals.Slot(name)
	c.fs.emitOp(GETGLOBAL, line)
	c.fs.emitU16(slot, line)
}

func (c *Compiler) assignTo(name string, line int) {
	c.expression()
	if idx := c.fs.resolveLocal(name); idx != -1 {
		c.fs.emitOp(SETLOCAL, line)
		c.fs.emitByte(byte(idx), line)
		return
	}
	if idx := c.fs.resolveUpvalue(name); idx != -1 {
		c.fs.emitOp(SETUPVAL, line)
		c.fs.emitByte(byte(idx), line)
		return
	}
	slot := c.globals.Slot(name)
	c.fs.emitOp(SETGLOBAL, line)
	c.fs.emitU16(slot, line)
}

// emitIncrement compiles the `name++`/`name--` sugar directly to one of
// the INC* opcodes. The delta operand is a signed byte carried
// unsigned (0x01 = +1, 0xFF = -1); the VM sign-extends it back.
func (c *Compiler) emitIncrement(name string, delta byte, line int) {
	if idx := c.fs.resolveLocal(name); idx != -1 {
		c.fs.emitOp(INCLOCAL, line)
		c.fs.emitByte(delta, line)
		c.fs.emitByte(byte(idx), line)
		return
	}
	if idx := c.fs.resolveUpvalue(name); idx != -1 {
		c.fs.emitOp(INCUPVAL, line)
		c.fs.emitByte(delta, line)
		c.fs.emitByte(byte(idx), line)
		return
	}
	slot := c.globals.Slot(name)
	c.fs.emitOp(INCGLOBAL, line)
	c.fs.emitByte(delta, line)
	c.fs.emitU16(slot, line)
}

// prefixIncrement compiles `++name`/`--name`. Cosmo only supports a
// bare identifier as a prefix target — `++obj.field` and `++t[k]` are
// written postfix
// (`obj.field++`, `t[k]++`) instead, since the dot/index prefix
// handlers already own the lookahead needed to recognize them.
func (c *Compiler) prefixIncrement(bool) {
	op := c.prev.Kind
	line := c.prev.Line
	delta := byte(1)
	if op == token.MINUSMINUS {
		delta = 0xFF
	}
	c.consume(token.IDENT, "expected variable name after prefix '++'/'--'")
	c.emitIncrement(c.prev.Lit, delta, line)
}

// dot compiles `.field`, either as a read or — when followed by `=` and
// canAssign — as a field assignment, plus the `field++`/`field--` forms.
func (c *Compiler) dot(canAssign bool) {
	c.lastCallExpectedPos = -1
	line := c.prev.Line
	c.consume(token.IDENT, "expected field name after '.'")
	key := c.internString(c.prev.Lit)
	keyIdx := c.fs.addConstant(key)

	if canAssign && c.matchTok(token.ASSIGN) {
		c.expression()
		c.fs.emitOp(SETOBJECT, line)
		c.fs.emitU16(keyIdx, line)
		return
	}
	if canAssign && (c.check(token.PLUSPLUS) || c.check(token.MINUSMINUS)) {
		delta := byte(1)
		if c.cur.Kind == token.MINUSMINUS {
			delta = 0xFF
		}
		c.advance()
		c.fs.emitOp(INCOBJECT, line)
		c.fs.emitByte(delta, line)
		c.fs.emitU16(keyIdx, line)
		return
	}
	c.fs.emitOp(GETOBJECT, line)
	c.fs.emitU16(keyIdx, line)
}

// index compiles `a[k]`, a runtime-computed-key field access.
func (c *Compiler) index(canAssign bool) {
	c.lastCallExpectedPos = -1
	line := c.prev.Line
	c.expression()
	c.consume(token.RBRACK, "expected ']' after index expression")

	if canAssign && c.matchTok(token.ASSIGN) {
		c.expression()
		c.fs.emitOp(NEWINDEX, line)
		return
	}
	if canAssign && (c.check(token.PLUSPLUS) || c.check(token.MINUSMINUS)) {
		delta := byte(1)
		if c.cur.Kind == token.MINUSMINUS {
			delta = 0xFF
		}
		c.advance()
		c.fs.emitOp(INCINDEX, line)
		c.fs.emitByte(delta, line)
		return
	}
	c.fs.emitOp(INDEX, line)
}

// call compiles `(args...)` following a callee already on the stack. The
// `expected` operand defaults to 1 (a bare call expression yields one
// value); multi-name `var`/`local` declarations, the only callers that
// use more than one result of a trailing call, patch the byte at
// lastCallExpectedPos once they know how many they need.
func (c *Compiler) call(bool) {
	line := c.prev.Line
	argc := c.argumentList()
	c.fs.emitOp(CALL, line)
	c.fs.emitByte(argc, line)
	c.lastCallExpectedPos = c.fs.emitByte(1, line)
}

// methodCall compiles `recv:name(args...)` to a single INVOKE, which the
// VM resolves via the receiver's proto/field chain and calls with the
// receiver prepended to args.
func (c *Compiler) methodCall(bool) {
	line := c.prev.Line
	c.consume(token.IDENT, "expected method name after ':'")
	key := c.internString(c.prev.Lit)
	keyIdx := c.fs.addConstant(key)
	argc := c.argumentList()
	c.fs.emitOp(INVOKE, line)
	c.fs.emitU16(keyIdx, line)
	c.fs.emitByte(argc, line)
	c.lastCallExpectedPos = c.fs.emitByte(1, line)
}

// spreadLastCall widens a trailing bare call's `expected` operand to
// cover a shortfall of `want` extra values beyond the 1 it already
// produces, when the most recently compiled expression in a
// comma-separated list was exactly such a call. Returns the number of
// extra values now accounted for (0 if the last expression wasn't a
// call, or want <= 0).
func (c *Compiler) spreadLastCall(want int) int {
	if c.lastCallExpectedPos == -1 || want <= 0 {
		return 0
	}
	if want > 0xFF-1 {
		want = 0xFF - 1
	}
	c.fs.chunk.Code[c.lastCallExpectedPos] = byte(1 + want)
	c.lastCallExpectedPos = -1
	return want
}

func (c *Compiler) argumentList() byte {
	c.consume(token.LPAREN, "expected '(' to begin argument list")
	argc := 0
	if !c.check(token.RPAREN) {
		for {
			c.expression()
			argc++
			if !c.matchTok(token.COMMA) {
				break
			}
		}
	}
	c.consume(token.RPAREN, "expected ')' after arguments")
	return byte(argc)
}

// tableLiteral compiles `{ k: v, ... }` to NEWDICT. A bare identifier
// key (`{name: v}`) is sugar for the interned string "name"; any other
// key is a single operand (a literal such as `1` or `"k"`, or a
// parenthesized expression), parsed without infix operators so the ':'
// is not taken as a method call. A key that needs an operator, a unary
// minus included, must be parenthesized.
func (c *Compiler) tableLiteral(bool) {
	line := c.prev.Line
	n := 0
	if !c.check(token.RBRACE) {
		for {
			if c.check(token.IDENT) {
				c.advance()
				c.emitConstant(c.internString(c.prev.Lit))
			} else {
				c.parsePrecedence(PrecPrimary)
			}
			c.consume(token.COLON, "expected ':' between table key and value")
			c.expression()
			n++
			if !c.matchTok(token.COMMA) {
				break
			}
			if c.check(token.RBRACE) {
				break
			}
		}
	}
	c.consume(token.RBRACE, "expected '}' after table literal")
	c.fs.emitOp(NEWDICT, line)
	c.fs.emitU16(uint16(n), line)
}
