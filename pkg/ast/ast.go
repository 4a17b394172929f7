// Package ast defines the syntax tree produced by pkg/parser, per spec §4.2.
package ast

import "github.com/fraudscore/rex/pkg/value"

// Pos is a source position retained on declarations for diagnostics.
type Pos struct {
	Line   int
	Column int
}

// Program is the top-level parse result: an unordered mix of function and
// rule declarations, in source order.
type Program struct {
	Functions []*FunctionDecl
	Rules     []*RuleDecl
}

type FunctionDecl struct {
	Pos    Pos
	Name   string
	Params []string
	Body   []Stmt
}

type RuleDecl struct {
	Pos      Pos
	Name     string
	Priority int32
	Enabled  bool
	Body     []Stmt
}

// Stmt is implemented by every statement node.
type Stmt interface{ stmtNode() }

type LetStmt struct {
	Pos   Pos
	Name  string
	Value Expr
}

type IfStmt struct {
	Pos       Pos
	Cond      Expr
	Then      []Stmt
	ElseBlock []Stmt   // mutually exclusive with ElseIf
	ElseIf    *IfStmt  // non-nil for `else if`
}

type ReturnStmt struct {
	Pos   Pos
	Value Expr // nil for a bare `return;`
}

// AssignStmt covers both `ident = expr;` (local) and `base.field = expr;`
// (record field) assignment; Base is empty for the local form.
type AssignStmt struct {
	Pos   Pos
	Base  string // "" (local), "txn", "profile", or a record parameter
	Name  string
	Value Expr
}

type ExprStmt struct {
	Pos  Pos
	Expr Expr
}

func (*LetStmt) stmtNode()    {}
func (*IfStmt) stmtNode()     {}
func (*ReturnStmt) stmtNode() {}
func (*AssignStmt) stmtNode() {}
func (*ExprStmt) stmtNode()   {}

// Expr is implemented by every expression node.
type Expr interface{ exprNode() }

type LiteralExpr struct {
	Pos Pos
	Val value.Value
}

type IdentExpr struct {
	Pos  Pos
	Name string
}

// FieldExpr is `base.name`, where base is the reserved binding "txn" or
// "profile", or a record parameter of a function that the compiler
// inlines at its call site (any other base is a compile error, checked by
// the compiler since the parser doesn't yet know which identifiers are
// records).
type FieldExpr struct {
	Pos  Pos
	Base string
	Name string
}

type UnaryExpr struct {
	Pos Pos
	Op  string // "!" or "-"
	X   Expr
}

type BinaryExpr struct {
	Pos Pos
	Op  string
	X   Expr
	Y   Expr
}

type CallExpr struct {
	Pos  Pos
	Name string
	Args []Expr
}

func (*LiteralExpr) exprNode() {}
func (*IdentExpr) exprNode()   {}
func (*FieldExpr) exprNode()   {}
func (*UnaryExpr) exprNode()   {}
func (*BinaryExpr) exprNode()  {}
func (*CallExpr) exprNode()    {}
