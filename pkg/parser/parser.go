// Package parser implements the recursive-descent parser described in
// spec §4.2, turning a lexer.Token stream into a pkg/ast.Program.
package parser

import (
	"strconv"

	"github.com/fraudscore/rex/pkg/ast"
	"github.com/fraudscore/rex/pkg/lexer"
	"github.com/fraudscore/rex/pkg/logging"
	"github.com/fraudscore/rex/pkg/value"
)

// Parser consumes a pre-lexed token slice. Grounded on the shape of the
// Rust original's parser/parser.rs (single current-token lookahead,
// expect/advance helpers) but adapted to Go's error-return idiom instead
// of panics, and to a real `let` token instead of a string comparison hack.
type Parser struct {
	toks []lexer.Token
	pos  int

	seenFuncs map[string]bool
	seenRules map[string]bool
}

// Parse tokenizes and parses source in one call.
func Parse(source string) (*ast.Program, error) {
	toks, err := lexer.New(source).Tokenize()
	if err != nil {
		return nil, err
	}
	return NewParser(toks).ParseProgram()
}

func NewParser(toks []lexer.Token) *Parser {
	return &Parser{toks: toks, seenFuncs: map[string]bool{}, seenRules: map[string]bool{}}
}

func (p *Parser) cur() lexer.Token  { return p.toks[p.pos] }
func (p *Parser) peekAt(n int) lexer.Token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}
func (p *Parser) advance() lexer.Token {
	t := p.cur()
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) errAt(t lexer.Token, msg string) error {
	return logging.NewParseError(msg, t.Line, t.Column)
}

func (p *Parser) expect(k lexer.Kind) (lexer.Token, error) {
	if p.cur().Kind != k {
		return lexer.Token{}, p.errAt(p.cur(), "expected "+k.String()+", got "+p.cur().Kind.String())
	}
	return p.advance(), nil
}

// ParseProgram parses the whole token stream into a Program.
func (p *Parser) ParseProgram() (*ast.Program, error) {
	prog := &ast.Program{}
	for p.cur().Kind != lexer.EOF {
		switch p.cur().Kind {
		case lexer.FUNCTION:
			fn, err := p.parseFunction()
			if err != nil {
				return nil, err
			}
			if p.seenFuncs[fn.Name] {
				return nil, p.errAt(lexer.Token{Line: fn.Pos.Line, Column: fn.Pos.Column}, "duplicate function name \""+fn.Name+"\"")
			}
			p.seenFuncs[fn.Name] = true
			prog.Functions = append(prog.Functions, fn)
		case lexer.RULE:
			r, err := p.parseRule()
			if err != nil {
				return nil, err
			}
			if p.seenRules[r.Name] {
				return nil, p.errAt(lexer.Token{Line: r.Pos.Line, Column: r.Pos.Column}, "duplicate rule name \""+r.Name+"\"")
			}
			p.seenRules[r.Name] = true
			prog.Rules = append(prog.Rules, r)
		default:
			return nil, p.errAt(p.cur(), "expected 'function' or 'rule' declaration")
		}
	}
	return prog, nil
}

func (p *Parser) parseFunction() (*ast.FunctionDecl, error) {
	kw := p.advance() // 'function'
	nameTok, err := p.expect(lexer.IDENT)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.LPAREN); err != nil {
		return nil, err
	}
	var params []string
	for p.cur().Kind != lexer.RPAREN {
		id, err := p.expect(lexer.IDENT)
		if err != nil {
			return nil, err
		}
		params = append(params, id.Lit)
		if p.cur().Kind == lexer.COMMA {
			p.advance()
		}
	}
	p.advance() // ')'
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &ast.FunctionDecl{Pos: pos(kw), Name: nameTok.Lit, Params: params, Body: body}, nil
}

func (p *Parser) parseRule() (*ast.RuleDecl, error) {
	kw := p.advance() // 'rule'
	nameTok, err := p.expect(lexer.STRING)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.LBRACE); err != nil {
		return nil, err
	}

	rule := &ast.RuleDecl{Pos: pos(kw), Name: nameTok.Lit, Priority: 100, Enabled: true}

	for p.cur().Kind == lexer.PRIORITY || p.cur().Kind == lexer.ENABLED {
		key := p.advance()
		if _, err := p.expect(lexer.COLON); err != nil {
			return nil, err
		}
		switch key.Kind {
		case lexer.PRIORITY:
			numTok, err := p.expect(lexer.INT)
			if err != nil {
				return nil, err
			}
			n, convErr := strconv.ParseInt(numTok.Lit, 10, 32)
			if convErr != nil {
				return nil, p.errAt(numTok, "invalid priority value")
			}
			rule.Priority = int32(n)
		case lexer.ENABLED:
			switch p.cur().Kind {
			case lexer.TRUE:
				rule.Enabled = true
				p.advance()
			case lexer.FALSE:
				rule.Enabled = false
				p.advance()
			default:
				return nil, p.errAt(p.cur(), "expected true or false for 'enabled'")
			}
		}
		if p.cur().Kind == lexer.COMMA {
			p.advance()
		}
	}

	for p.cur().Kind != lexer.RBRACE {
		if p.cur().Kind == lexer.EOF {
			return nil, p.errAt(p.cur(), "unterminated rule body")
		}
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		rule.Body = append(rule.Body, stmt)
	}
	p.advance() // '}'
	return rule, nil
}

func (p *Parser) parseBlock() ([]ast.Stmt, error) {
	if _, err := p.expect(lexer.LBRACE); err != nil {
		return nil, err
	}
	var stmts []ast.Stmt
	for p.cur().Kind != lexer.RBRACE {
		if p.cur().Kind == lexer.EOF {
			return nil, p.errAt(p.cur(), "unterminated block")
		}
		s, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
	}
	p.advance() // '}'
	return stmts, nil
}

func (p *Parser) parseStatement() (ast.Stmt, error) {
	switch p.cur().Kind {
	case lexer.LET:
		return p.parseLet()
	case lexer.IF:
		return p.parseIf()
	case lexer.RETURN:
		return p.parseReturn()
	case lexer.IDENT:
		return p.parseIdentLedStatement()
	default:
		return p.parseExprStatement()
	}
}

func (p *Parser) parseLet() (ast.Stmt, error) {
	kw := p.advance() // 'let'
	name, err := p.expect(lexer.IDENT)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.ASSIGN); err != nil {
		return nil, err
	}
	val, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.SEMI); err != nil {
		return nil, err
	}
	return &ast.LetStmt{Pos: pos(kw), Name: name.Lit, Value: val}, nil
}

func (p *Parser) parseIf() (ast.Stmt, error) {
	kw := p.advance() // 'if'
	if _, err := p.expect(lexer.LPAREN); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.RPAREN); err != nil {
		return nil, err
	}
	thenBlock, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	stmt := &ast.IfStmt{Pos: pos(kw), Cond: cond, Then: thenBlock}
	if p.cur().Kind == lexer.ELSE {
		p.advance()
		if p.cur().Kind == lexer.IF {
			elseIf, err := p.parseIf()
			if err != nil {
				return nil, err
			}
			stmt.ElseIf = elseIf.(*ast.IfStmt)
		} else {
			elseBlock, err := p.parseBlock()
			if err != nil {
				return nil, err
			}
			stmt.ElseBlock = elseBlock
		}
	}
	return stmt, nil
}

func (p *Parser) parseReturn() (ast.Stmt, error) {
	kw := p.advance() // 'return'
	if p.cur().Kind == lexer.SEMI {
		p.advance()
		return &ast.ReturnStmt{Pos: pos(kw)}, nil
	}
	val, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.SEMI); err != nil {
		return nil, err
	}
	return &ast.ReturnStmt{Pos: pos(kw), Value: val}, nil
}

// parseIdentLedStatement disambiguates `ident = expr;`, `base.field = expr;`,
// and a bare expression statement (call or field read), all of which start
// with IDENT.
func (p *Parser) parseIdentLedStatement() (ast.Stmt, error) {
	start := p.cur()
	if p.peekAt(1).Kind == lexer.ASSIGN {
		name := p.advance()
		p.advance() // '='
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.SEMI); err != nil {
			return nil, err
		}
		return &ast.AssignStmt{Pos: pos(start), Name: name.Lit, Value: val}, nil
	}
	if p.peekAt(1).Kind == lexer.DOT && p.peekAt(3).Kind == lexer.ASSIGN {
		base := p.advance()
		p.advance() // '.'
		field, err := p.expect(lexer.IDENT)
		if err != nil {
			return nil, err
		}
		p.advance() // '='
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.SEMI); err != nil {
			return nil, err
		}
		return &ast.AssignStmt{Pos: pos(start), Base: base.Lit, Name: field.Lit, Value: val}, nil
	}
	return p.parseExprStatement()
}

func (p *Parser) parseExprStatement() (ast.Stmt, error) {
	start := p.cur()
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.SEMI); err != nil {
		return nil, err
	}
	return &ast.ExprStmt{Pos: pos(start), Expr: e}, nil
}

// --- expressions, precedence low to high: || && == != < <= > >= + - * / % unary primary ---

func (p *Parser) parseExpr() (ast.Expr, error) { return p.parseLogicalOr() }

func (p *Parser) parseLogicalOr() (ast.Expr, error) {
	left, err := p.parseLogicalAnd()
	if err != nil {
		return nil, err
	}
	for p.cur().Kind == lexer.OR {
		op := p.advance()
		right, err := p.parseLogicalAnd()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryExpr{Pos: pos(op), Op: "||", X: left, Y: right}
	}
	return left, nil
}

func (p *Parser) parseLogicalAnd() (ast.Expr, error) {
	left, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for p.cur().Kind == lexer.AND {
		op := p.advance()
		right, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryExpr{Pos: pos(op), Op: "&&", X: left, Y: right}
	}
	return left, nil
}

func (p *Parser) parseEquality() (ast.Expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.cur().Kind == lexer.EQ || p.cur().Kind == lexer.NEQ {
		op := p.advance()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryExpr{Pos: pos(op), Op: op.Kind.String(), X: left, Y: right}
	}
	return left, nil
}

func (p *Parser) parseComparison() (ast.Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.cur().Kind == lexer.LT || p.cur().Kind == lexer.LTE || p.cur().Kind == lexer.GT || p.cur().Kind == lexer.GTE {
		op := p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryExpr{Pos: pos(op), Op: op.Kind.String(), X: left, Y: right}
	}
	return left, nil
}

func (p *Parser) parseAdditive() (ast.Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.cur().Kind == lexer.PLUS || p.cur().Kind == lexer.MINUS {
		op := p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryExpr{Pos: pos(op), Op: op.Kind.String(), X: left, Y: right}
	}
	return left, nil
}

func (p *Parser) parseMultiplicative() (ast.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur().Kind == lexer.STAR || p.cur().Kind == lexer.SLASH || p.cur().Kind == lexer.PERCENT {
		op := p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryExpr{Pos: pos(op), Op: op.Kind.String(), X: left, Y: right}
	}
	return left, nil
}

func (p *Parser) parseUnary() (ast.Expr, error) {
	if p.cur().Kind == lexer.BANG || p.cur().Kind == lexer.MINUS {
		op := p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		sym := "!"
		if op.Kind == lexer.MINUS {
			sym = "-"
		}
		return &ast.UnaryExpr{Pos: pos(op), Op: sym, X: x}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (ast.Expr, error) {
	t := p.cur()
	switch t.Kind {
	case lexer.INT:
		p.advance()
		n, err := strconv.ParseInt(t.Lit, 10, 64)
		if err != nil {
			return nil, p.errAt(t, "invalid integer literal")
		}
		return &ast.LiteralExpr{Pos: pos(t), Val: value.FromInt(n)}, nil
	case lexer.FLOAT:
		p.advance()
		f, err := strconv.ParseFloat(t.Lit, 64)
		if err != nil {
			return nil, p.errAt(t, "invalid float literal")
		}
		return &ast.LiteralExpr{Pos: pos(t), Val: value.FromFloat(f)}, nil
	case lexer.STRING:
		p.advance()
		return &ast.LiteralExpr{Pos: pos(t), Val: value.FromStr(t.Lit)}, nil
	case lexer.TRUE:
		p.advance()
		return &ast.LiteralExpr{Pos: pos(t), Val: value.FromBool(true)}, nil
	case lexer.FALSE:
		p.advance()
		return &ast.LiteralExpr{Pos: pos(t), Val: value.FromBool(false)}, nil
	case lexer.NULL:
		p.advance()
		return &ast.LiteralExpr{Pos: pos(t), Val: value.Nil}, nil
	case lexer.LPAREN:
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.RPAREN); err != nil {
			return nil, err
		}
		return e, nil
	case lexer.IDENT:
		p.advance()
		if p.cur().Kind == lexer.LPAREN {
			return p.parseCall(t)
		}
		if p.cur().Kind == lexer.DOT {
			p.advance()
			field, err := p.expect(lexer.IDENT)
			if err != nil {
				return nil, err
			}
			if p.cur().Kind == lexer.DOT {
				return nil, p.errAt(p.cur(), "nested field access is not supported")
			}
			return &ast.FieldExpr{Pos: pos(t), Base: t.Lit, Name: field.Lit}, nil
		}
		return &ast.IdentExpr{Pos: pos(t), Name: t.Lit}, nil
	default:
		return nil, p.errAt(t, "unexpected token in expression: "+t.Kind.String())
	}
}

func (p *Parser) parseCall(name lexer.Token) (ast.Expr, error) {
	p.advance() // '('
	var args []ast.Expr
	for p.cur().Kind != lexer.RPAREN {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.cur().Kind == lexer.COMMA {
			p.advance()
		}
	}
	p.advance() // ')'
	return &ast.CallExpr{Pos: pos(name), Name: name.Lit, Args: args}, nil
}

func pos(t lexer.Token) ast.Pos { return ast.Pos{Line: t.Line, Column: t.Column} }
