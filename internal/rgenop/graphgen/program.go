// Package graphgen 是内存中的代码生成后端
//
// 它把特化器的调用记录成一个残余程序，可以检查、打印、导出为 JSON，
// 也可以直接解释执行。
package graphgen

import (
	"fmt"

	"github.com/tangzhangming/timeshift/internal/flowgraph"
	"github.com/tangzhangming/timeshift/internal/rgenop"
)

// ============================================================================
// 残余程序
// ============================================================================

// Var 残余程序中的值：块输入、操作结果或常量
type Var struct {
	ID    int
	Type  *flowgraph.Type
	Const *flowgraph.Value
	block *Block
}

func (v *Var) String() string {
	if v.Const != nil {
		return "$" + v.Const.String()
	}
	return fmt.Sprintf("v%d", v.ID)
}

// IsConst 是否是常量
func (v *Var) IsConst() bool {
	return v.Const != nil
}

// Op 残余操作
type Op struct {
	Name   string
	Args   []*Var
	Field  string
	Type   *flowgraph.Type
	Result *Var
}

// Block 残余块
type Block struct {
	ID         int
	Inputs     []*Var
	Ops        []*Op
	ExitSwitch *Var
	Exits      []*Link
	closed     bool
}

func (b *Block) String() string {
	return fmt.Sprintf("block%d", b.ID)
}

// Link 残余出边
type Link struct {
	From   *Block
	Case   int // flowgraph.ExitAlways / ExitFalse / ExitTrue
	Target *Block
	Args   []*Var
	Return bool
	Value  *Var // 返回值；无返回值的函数为 nil

	closed bool
}

func (l *Link) String() string {
	switch {
	case !l.closed:
		return fmt.Sprintf("%s:open", l.From)
	case l.Return:
		return fmt.Sprintf("%s:return", l.From)
	}
	return fmt.Sprintf("%s->%s", l.From, l.Target)
}

// Program 残余程序；第一个创建的块是入口
type Program struct {
	Name   string
	Blocks []*Block

	nextVar int
	numOps  int
}

// New 创建空程序
func New(name string) *Program {
	return &Program{Name: name}
}

var _ rgenop.Backend = (*Program)(nil)

// Entry 入口块
func (p *Program) Entry() *Block {
	if len(p.Blocks) == 0 {
		return nil
	}
	return p.Blocks[0]
}

func (p *Program) newVar(t *flowgraph.Type, b *Block) *Var {
	v := &Var{ID: p.nextVar, Type: t, block: b}
	p.nextVar++
	return v
}

func asBlock(b rgenop.Block) *Block {
	blk, ok := b.(*Block)
	if !ok {
		panic(fmt.Sprintf("graphgen: foreign block %v", b))
	}
	return blk
}

func asVar(v rgenop.GenVar) *Var {
	gv, ok := v.(*Var)
	if !ok {
		panic(fmt.Sprintf("graphgen: foreign value %v", v))
	}
	return gv
}

func asLink(l rgenop.Link) *Link {
	link, ok := l.(*Link)
	if !ok {
		panic(fmt.Sprintf("graphgen: foreign link %v", l))
	}
	return link
}

// ============================================================================
// 后端接口
// ============================================================================

// NewBlock 打开新块
func (p *Program) NewBlock() rgenop.Block {
	b := &Block{ID: len(p.Blocks)}
	p.Blocks = append(p.Blocks, b)
	return b
}

// GenInputArg 追加输入参数
func (p *Program) GenInputArg(b rgenop.Block, t *flowgraph.Type) rgenop.GenVar {
	blk := asBlock(b)
	v := p.newVar(t, blk)
	blk.Inputs = append(blk.Inputs, v)
	return v
}

// GenConst 常量
func (p *Program) GenConst(v flowgraph.Value) rgenop.GenVar {
	c := v
	return &Var{ID: -1, Type: v.Type, Const: &c}
}

// GenOp 追加操作，结果类型必须与操作码推导的一致
func (p *Program) GenOp(b rgenop.Block, opname string, args []rgenop.GenVar, field string, typ *flowgraph.Type, result *flowgraph.Type) (rgenop.GenVar, error) {
	blk := asBlock(b)
	if blk.closed {
		return nil, fmt.Errorf("%s: block already closed", blk)
	}
	vars := make([]*Var, len(args))
	types := make([]*flowgraph.Type, len(args))
	for i, a := range args {
		vars[i] = asVar(a)
		types[i] = vars[i].Type
	}
	rt, err := flowgraph.ResultType(opname, types, field, typ)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", blk, err)
	}
	if rt != result {
		return nil, fmt.Errorf("%s: %s yields %s, requested %s", blk, opname, rt, result)
	}

	op := &Op{Name: opname, Args: vars, Field: field, Type: typ}
	blk.Ops = append(blk.Ops, op)
	p.numOps++
	if result == flowgraph.Void {
		return nil, nil
	}
	op.Result = p.newVar(result, blk)
	return op.Result, nil
}

// CloseBlock1 以单一出口关闭块
func (p *Program) CloseBlock1(b rgenop.Block) rgenop.Link {
	blk := asBlock(b)
	blk.closed = true
	l := &Link{From: blk, Case: flowgraph.ExitAlways}
	blk.Exits = []*Link{l}
	return l
}

// CloseBlock2 以条件出口关闭块
func (p *Program) CloseBlock2(b rgenop.Block, exitSwitch rgenop.GenVar) (rgenop.Link, rgenop.Link) {
	blk := asBlock(b)
	blk.closed = true
	blk.ExitSwitch = asVar(exitSwitch)
	ifFalse := &Link{From: blk, Case: flowgraph.ExitFalse}
	ifTrue := &Link{From: blk, Case: flowgraph.ExitTrue}
	blk.Exits = []*Link{ifFalse, ifTrue}
	return ifFalse, ifTrue
}

// CloseLink 连接出边
func (p *Program) CloseLink(l rgenop.Link, args []rgenop.GenVar, target rgenop.Block) {
	link := asLink(l)
	link.Target = asBlock(target)
	link.Args = make([]*Var, len(args))
	for i, a := range args {
		link.Args[i] = asVar(a)
	}
	link.closed = true
}

// CloseReturnLink 出边作为返回
func (p *Program) CloseReturnLink(l rgenop.Link, v rgenop.GenVar) {
	link := asLink(l)
	link.Return = true
	if v != nil {
		link.Value = asVar(v)
	}
	link.closed = true
}

// ============================================================================
// 统计
// ============================================================================

// NumBlocks 块数量
func (p *Program) NumBlocks() int {
	return len(p.Blocks)
}

// NumOps 操作总数
func (p *Program) NumOps() int {
	return p.numOps
}

// CountOps 指定操作码的数量
func (p *Program) CountOps(name string) int {
	count := 0
	for _, b := range p.Blocks {
		for _, op := range b.Ops {
			if op.Name == name {
				count++
			}
		}
	}
	return count
}

// ReturnLinks 全部返回出边
func (p *Program) ReturnLinks() []*Link {
	var out []*Link
	for _, b := range p.Blocks {
		for _, l := range b.Exits {
			if l.Return {
				out = append(out, l)
			}
		}
	}
	return out
}
