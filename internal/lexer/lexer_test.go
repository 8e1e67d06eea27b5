package lexer_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"cosmo/internal/lexer"
	"cosmo/internal/token"
)

func scanAll(src string) []token.Token {
	l := lexer.New(src)
	var toks []token.Token
	for {
		tok := l.Next()
		toks = append(toks, tok)
		if tok.Kind == token.EOF {
			return toks
		}
	}
}

func TestLexerBasics(t *testing.T) {
	toks := scanAll(`var x = 0; x = x + 1.5 // comment
x++`)
	kinds := make([]token.Kind, 0, len(toks))
	for _, tok := range toks {
		kinds = append(kinds, tok.Kind)
	}
	require.Equal(t, []token.Kind{
		token.VAR, token.IDENT, token.ASSIGN, token.NUMBER, token.SEMI,
		token.IDENT, token.ASSIGN, token.IDENT, token.PLUS, token.NUMBER,
		token.IDENT, token.PLUSPLUS, token.EOF,
	}, kinds)
}

func TestLexerString(t *testing.T) {
	toks := scanAll(`"hello\nworld"`)
	require.Equal(t, token.STRING, toks[0].Kind)
	require.Equal(t, "hello\nworld", toks[0].Lit)
}

func TestLexerOperators(t *testing.T) {
	toks := scanAll(`.. ... # ++ -- == != <= >=`)
	kinds := make([]token.Kind, 0, len(toks)-1)
	for _, tok := range toks[:len(toks)-1] {
		kinds = append(kinds, tok.Kind)
	}
	require.Equal(t, []token.Kind{
		token.DOTDOT, token.ELLIPSIS, token.HASH, token.PLUSPLUS,
		token.MINUSMINUS, token.EQ, token.NEQ, token.LE, token.GE,
	}, kinds)
}

// `--` must always lex as the decrement operator, never a comment
// opener; Cosmo's comments are C-style precisely to keep the two apart.
func TestLexerDecrementIsNotComment(t *testing.T) {
	toks := scanAll("x-- y")
	require.Equal(t, token.IDENT, toks[0].Kind)
	require.Equal(t, token.MINUSMINUS, toks[1].Kind)
	require.Equal(t, token.IDENT, toks[2].Kind)
}

func TestLexerBlockComment(t *testing.T) {
	toks := scanAll("a /* span\nlines */ b")
	require.Equal(t, token.IDENT, toks[0].Kind)
	require.Equal(t, token.IDENT, toks[1].Kind)
	require.Equal(t, "b", toks[1].Lit)
	require.Equal(t, 2, toks[1].Line)
}

func TestLexerErrorToken(t *testing.T) {
	toks := scanAll(`"unterminated`)
	require.Equal(t, token.ERROR, toks[0].Kind)
}

func TestLexerLineTracking(t *testing.T) {
	toks := scanAll("var a = 1\nvar b = 2")
	require.Equal(t, 1, toks[0].Line)
	var found bool
	for _, tok := range toks {
		if tok.Kind == token.IDENT && tok.Lit == "b" {
			require.Equal(t, 2, tok.Line)
			found = true
		}
	}
	require.True(t, found)
}
