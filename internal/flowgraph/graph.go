package flowgraph

import (
	"fmt"
	"strings"
	"sync"
)

// ============================================================================
// 图结构
// ============================================================================

// Var 图变量（每个变量只被定义一次）
type Var struct {
	ID   int
	Name string
	Type *Type
}

func (v *Var) String() string {
	return v.Name
}

// Op 一条操作
type Op struct {
	Name   string
	Args   []*Var
	Value  Value  // const 的常量值
	Field  string // 字段操作的字段名
	Type   *Type  // malloc 的分配类型
	Result *Var   // 无返回值的操作为 nil
}

// ExitCase 链接对应的出口
const (
	ExitAlways = -1
	ExitFalse  = 0
	ExitTrue   = 1
)

// Link 块之间的控制流边
type Link struct {
	Prev     *Block
	Target   *Block
	Args     []*Var
	ExitCase int
}

// Block 基本块
type Block struct {
	ID         int
	Name       string
	InputArgs  []*Var
	Ops        []*Op
	ExitSwitch *Var
	Exits      []*Link

	graph *Graph
}

// IsReturn 是否是图的返回块
func (b *Block) IsReturn() bool {
	return b.graph != nil && b.graph.Return == b
}

// Graph 一个函数的控制流图
type Graph struct {
	Name   string
	Start  *Block
	Return *Block
	Blocks []*Block
	Result *Type

	nextVar int

	// 前驱与合并点分析，构图修改时失效，首次查询时计算
	mu     sync.Mutex
	preds  map[*Block][]*Link
	merges map[*Block]bool
}

// Args 返回图的形参（即入口块的输入参数）
func (g *Graph) Args() []*Var {
	return g.Start.InputArgs
}

// ============================================================================
// 图构建
// ============================================================================

// NewGraph 创建图，同时创建入口块和返回块
func NewGraph(name string, result *Type) *Graph {
	g := &Graph{Name: name, Result: result}
	g.Start = g.NewBlock("start")
	g.Return = g.NewBlock("return")
	if result != Void {
		g.Return.Input("result", result)
	}
	return g
}

// NewBlock 创建新块
func (g *Graph) NewBlock(name string) *Block {
	b := &Block{ID: len(g.Blocks), Name: name, graph: g}
	g.Blocks = append(g.Blocks, b)
	g.invalidate()
	return b
}

// Block 按名称查找块
func (g *Graph) Block(name string) *Block {
	for _, b := range g.Blocks {
		if b.Name == name {
			return b
		}
	}
	return nil
}

func (g *Graph) newVar(name string, t *Type) *Var {
	v := &Var{ID: g.nextVar, Name: name, Type: t}
	g.nextVar++
	if v.Name == "" {
		v.Name = fmt.Sprintf("v%d", v.ID)
	}
	return v
}

// Input 为块添加输入参数
func (b *Block) Input(name string, t *Type) *Var {
	v := b.graph.newVar(name, t)
	b.InputArgs = append(b.InputArgs, v)
	return v
}

// Emit 追加一条操作并返回结果变量；结果类型为 Void 时返回 nil
//
// 类型错误直接 panic，这是构图代码的编程错误。加载外部输入时请用 EmitChecked。
func (b *Block) Emit(name string, args ...*Var) *Var {
	return b.must(b.EmitChecked(&Op{Name: name, Args: args}))
}

// EmitChecked 追加一条操作，推导并检查结果类型
func (b *Block) EmitChecked(op *Op) (*Var, error) {
	argTypes := make([]*Type, len(op.Args))
	for i, a := range op.Args {
		argTypes[i] = a.Type
	}
	typ := op.Type
	if op.Name == "const" {
		typ = op.Value.Type
	}
	rt, err := ResultType(op.Name, argTypes, op.Field, typ)
	if err != nil {
		return nil, fmt.Errorf("block %s: %w", b.Name, err)
	}
	if rt != Void && op.Result == nil {
		op.Result = b.graph.newVar("", rt)
	}
	if op.Result != nil && op.Result.Type != rt {
		return nil, fmt.Errorf("block %s: %s result declared as %s, inferred %s", b.Name, op.Name, op.Result.Type, rt)
	}
	b.Ops = append(b.Ops, op)
	return op.Result, nil
}

// NewVar 创建一个尚未定义的变量（加载器先声明结果名再 EmitChecked）
func (g *Graph) NewVar(name string, t *Type) *Var {
	return g.newVar(name, t)
}

func (b *Block) must(v *Var, err error) *Var {
	if err != nil {
		panic(err)
	}
	return v
}

// Const 常量
func (b *Block) Const(v Value) *Var {
	return b.must(b.EmitChecked(&Op{Name: "const", Value: v}))
}

// Malloc 分配聚合对象
func (b *Block) Malloc(t *Type) *Var {
	return b.must(b.EmitChecked(&Op{Name: "malloc", Type: t}))
}

// GetField 读字段
func (b *Block) GetField(p *Var, field string) *Var {
	return b.must(b.EmitChecked(&Op{Name: "getfield", Args: []*Var{p}, Field: field}))
}

// SetField 写字段
func (b *Block) SetField(p *Var, field string, v *Var) {
	b.must(b.EmitChecked(&Op{Name: "setfield", Args: []*Var{p, v}, Field: field}))
}

// GetSubstruct 取内联子结构的指针
func (b *Block) GetSubstruct(p *Var, field string) *Var {
	return b.must(b.EmitChecked(&Op{Name: "getsubstruct", Args: []*Var{p}, Field: field}))
}

// GetArrayItem 读数组元素
func (b *Block) GetArrayItem(p, index *Var) *Var {
	return b.Emit("getarrayitem", p, index)
}

// SetArrayItem 写数组元素
func (b *Block) SetArrayItem(p, index, v *Var) {
	b.must(b.EmitChecked(&Op{Name: "setarrayitem", Args: []*Var{p, index, v}}))
}

// Jump 无条件跳转
func (b *Block) Jump(target *Block, args ...*Var) *Link {
	link := &Link{Prev: b, Target: target, Args: args, ExitCase: ExitAlways}
	b.Exits = []*Link{link}
	b.ExitSwitch = nil
	b.graph.invalidate()
	return link
}

// Branch 条件跳转
func (b *Block) Branch(cond *Var, ifTrue *Block, trueArgs []*Var, ifFalse *Block, falseArgs []*Var) {
	b.ExitSwitch = cond
	b.Exits = []*Link{
		{Prev: b, Target: ifFalse, Args: falseArgs, ExitCase: ExitFalse},
		{Prev: b, Target: ifTrue, Args: trueArgs, ExitCase: ExitTrue},
	}
	b.graph.invalidate()
}

// Return 跳转到返回块
func (b *Block) Return(v *Var) *Link {
	if v == nil {
		return b.Jump(b.graph.Return)
	}
	return b.Jump(b.graph.Return, v)
}

// ============================================================================
// 前驱与合并点
// ============================================================================

func (g *Graph) invalidate() {
	g.mu.Lock()
	g.preds, g.merges = nil, nil
	g.mu.Unlock()
}

// analyze 计算前驱和合并点；多个特化可以并发查询同一张图
func (g *Graph) analyze() (map[*Block][]*Link, map[*Block]bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.preds != nil {
		return g.preds, g.merges
	}
	preds := make(map[*Block][]*Link)
	merges := make(map[*Block]bool)
	for _, b := range g.Blocks {
		for _, l := range b.Exits {
			preds[l.Target] = append(preds[l.Target], l)
		}
	}

	// 深度优先找回边：目标在当前 DFS 栈上
	const (
		white = iota
		grey
		black
	)
	color := make(map[*Block]int)
	var visit func(b *Block)
	visit = func(b *Block) {
		color[b] = grey
		for _, l := range b.Exits {
			switch color[l.Target] {
			case white:
				visit(l.Target)
			case grey:
				merges[l.Target] = true
			}
		}
		color[b] = black
	}
	visit(g.Start)

	for b, ls := range preds {
		if len(ls) > 1 {
			merges[b] = true
		}
	}
	g.preds, g.merges = preds, merges
	return preds, merges
}

// Predecessors 返回指向 b 的全部链接
func (g *Graph) Predecessors(b *Block) []*Link {
	preds, _ := g.analyze()
	return preds[b]
}

// IsMergePoint 块是否是控制流汇合点（多个前驱或回边目标）
func (g *Graph) IsMergePoint(b *Block) bool {
	_, merges := g.analyze()
	return merges[b]
}

// ============================================================================
// 打印
// ============================================================================

func (op *Op) String() string {
	var sb strings.Builder
	if op.Result != nil {
		sb.WriteString(fmt.Sprintf("%s = ", op.Result))
	}
	sb.WriteString(op.Name)
	switch op.Name {
	case "const":
		sb.WriteString(" " + op.Value.String())
	case "malloc":
		sb.WriteString(" " + op.Type.Name)
	}
	for _, a := range op.Args {
		sb.WriteString(" " + a.Name)
	}
	if op.Field != "" {
		sb.WriteString(" ." + op.Field)
	}
	return sb.String()
}

func (l *Link) String() string {
	names := make([]string, len(l.Args))
	for i, a := range l.Args {
		names[i] = a.Name
	}
	return fmt.Sprintf("%s(%s)", l.Target.Name, strings.Join(names, ", "))
}

// String 打印图
func (g *Graph) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("graph %s -> %s\n", g.Name, g.Result))
	for _, b := range g.Blocks {
		args := make([]string, len(b.InputArgs))
		for i, a := range b.InputArgs {
			args[i] = a.Name + ": " + a.Type.Name
		}
		sb.WriteString(fmt.Sprintf("  %s(%s):\n", b.Name, strings.Join(args, ", ")))
		for _, op := range b.Ops {
			sb.WriteString("    " + op.String() + "\n")
		}
		switch {
		case b.IsReturn():
			sb.WriteString("    return\n")
		case b.ExitSwitch != nil:
			sb.WriteString(fmt.Sprintf("    if %s goto %s else %s\n", b.ExitSwitch, b.Exits[1], b.Exits[0]))
		case len(b.Exits) == 1:
			sb.WriteString(fmt.Sprintf("    goto %s\n", b.Exits[0]))
		}
	}
	return sb.String()
}
