// Package ssaconv 把 Go 函数的 SSA 形式转换成源图
//
// 支持的子集：int/bool/float64/string 标量，结构体和定长数组的指针，
// 整数和浮点算术、比较、条件分支、循环，以及两个提示函数
//
//	func hint_concrete(x T) T
//	func hint_variable(x T) T
//
// 函数体只需原样返回参数，转换时按名字识别。其它调用、切片、映射、
// 接口和闭包都会报告为不支持。
package ssaconv

import (
	"fmt"
	"go/constant"
	"go/token"
	"go/types"

	"go.uber.org/multierr"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/types/typeutil"

	"github.com/tangzhangming/timeshift/internal/flowgraph"
)

// ============================================================================
// 转换器
// ============================================================================

type converter struct {
	fn     *ssa.Function
	graph  *flowgraph.Graph
	live   *liveness
	types  typeutil.Map // types.Type -> *flowgraph.Type
	blocks map[*ssa.BasicBlock]*flowgraph.Block
	errs   error
}

// blockEnv 一个块内 SSA 值到图变量的映射
type blockEnv struct {
	c    *converter
	src  *ssa.BasicBlock
	dst  *flowgraph.Block
	vars map[ssa.Value]*flowgraph.Var
}

// Convert 转换一个函数；所有不支持的构造一次性汇总报告
func Convert(fn *ssa.Function) (g *flowgraph.Graph, err error) {
	c := &converter{fn: fn, blocks: make(map[*ssa.BasicBlock]*flowgraph.Block)}
	defer func() {
		// 类型推导失败由 Emit 抛出，统一转成错误
		if r := recover(); r != nil {
			g, err = nil, multierr.Append(c.errs, fmt.Errorf("%s: %v", fn.Name(), r))
		}
	}()

	if len(fn.Blocks) == 0 {
		return nil, fmt.Errorf("%s: function has no body", fn.Name())
	}
	if len(fn.Blocks[0].Preds) > 0 {
		return nil, c.errorf(fn.Pos(), "entry block has predecessors")
	}

	results := fn.Signature.Results()
	result := flowgraph.Void
	switch results.Len() {
	case 0:
	case 1:
		result = c.typeOf(results.At(0).Type(), fn.Pos())
	default:
		return nil, c.errorf(fn.Pos(), "multiple results are not supported")
	}
	if c.errs != nil {
		return nil, c.errs
	}

	c.graph = flowgraph.NewGraph(fn.Name(), result)
	c.live = computeLiveness(fn)

	envs := make([]*blockEnv, len(fn.Blocks))
	for i, b := range fn.Blocks {
		env := &blockEnv{c: c, src: b, vars: make(map[ssa.Value]*flowgraph.Var)}
		if i == 0 {
			env.dst = c.graph.Start
			for _, p := range fn.Params {
				env.vars[p] = env.dst.Input(p.Name(), c.typeOf(p.Type(), p.Pos()))
			}
		} else {
			env.dst = c.graph.NewBlock(blockName(b))
			for _, instr := range b.Instrs {
				phi, ok := instr.(*ssa.Phi)
				if !ok {
					break
				}
				env.vars[phi] = env.dst.Input(phi.Name(), c.typeOf(phi.Type(), phi.Pos()))
			}
			for _, v := range c.live.liveIn[b] {
				env.vars[v] = env.dst.Input(v.Name(), c.typeOf(v.Type(), v.Pos()))
			}
		}
		c.blocks[b] = env.dst
		envs[i] = env
	}
	if c.errs != nil {
		return nil, c.errs
	}

	for _, env := range envs {
		for _, instr := range env.src.Instrs {
			env.convert(instr)
		}
	}
	if c.errs != nil {
		return nil, c.errs
	}
	if err := flowgraph.Validate(c.graph); err != nil {
		return nil, err
	}
	return c.graph, nil
}

func blockName(b *ssa.BasicBlock) string {
	if b.Comment != "" {
		return fmt.Sprintf("b%d.%s", b.Index, b.Comment)
	}
	return fmt.Sprintf("b%d", b.Index)
}

func (c *converter) errorf(pos token.Pos, format string, args ...interface{}) error {
	where := c.fn.Name()
	if pos.IsValid() && c.fn.Prog != nil {
		where = c.fn.Prog.Fset.Position(pos).String()
	}
	c.errs = multierr.Append(c.errs, fmt.Errorf("%s: "+format, append([]interface{}{where}, args...)...))
	return c.errs
}

// ============================================================================
// 类型
// ============================================================================

func isAggregate(t types.Type) bool {
	switch t.Underlying().(type) {
	case *types.Struct, *types.Array:
		return true
	}
	return false
}

// typeOf 把 Go 类型映射到图类型；失败时记录错误并返回 Void
func (c *converter) typeOf(t types.Type, pos token.Pos) *flowgraph.Type {
	if cached := c.types.At(t); cached != nil {
		return cached.(*flowgraph.Type)
	}

	switch u := t.Underlying().(type) {
	case *types.Basic:
		switch {
		case u.Info()&types.IsInteger != 0:
			return flowgraph.Int
		case u.Info()&types.IsBoolean != 0:
			return flowgraph.Bool
		case u.Kind() == types.Float64 || u.Kind() == types.UntypedFloat:
			return flowgraph.Float
		case u.Info()&types.IsString != 0:
			return flowgraph.String
		}
	case *types.Pointer:
		if !isAggregate(u.Elem()) {
			break
		}
		return flowgraph.PtrTo(c.typeOf(u.Elem(), pos))
	case *types.Struct:
		// 先登记再填字段，允许 type node struct { next *node }
		st := flowgraph.NewStruct(types.TypeString(t, types.RelativeTo(c.pkg())))
		c.types.Set(t, st)
		for i := 0; i < u.NumFields(); i++ {
			f := u.Field(i)
			st.Fields = append(st.Fields, flowgraph.Field{Name: f.Name(), Type: c.typeOf(f.Type(), f.Pos())})
		}
		return st
	case *types.Array:
		elem := c.typeOf(u.Elem(), pos)
		if elem.IsAggregate() {
			c.errorf(pos, "arrays of %s are not supported", u.Elem())
			return flowgraph.Void
		}
		at := flowgraph.NewArray(elem, int(u.Len()))
		c.types.Set(t, at)
		return at
	}
	c.errorf(pos, "unsupported type %s", t)
	return flowgraph.Void
}

func (c *converter) pkg() *types.Package {
	if c.fn.Pkg == nil {
		return nil
	}
	return c.fn.Pkg.Pkg
}

// ============================================================================
// 指令
// ============================================================================

var intOps = map[token.Token]string{
	token.ADD: "int_add",
	token.SUB: "int_sub",
	token.MUL: "int_mul",
	token.AND: "int_and",
	token.OR:  "int_or",
	token.XOR: "int_xor",
	token.SHL: "int_lshift",
	token.SHR: "int_rshift",
	token.LSS: "int_lt",
	token.LEQ: "int_le",
	token.EQL: "int_eq",
	token.NEQ: "int_ne",
	token.GTR: "int_gt",
	token.GEQ: "int_ge",
}

var floatOps = map[token.Token]string{
	token.ADD: "float_add",
	token.SUB: "float_sub",
	token.MUL: "float_mul",
	token.QUO: "float_truediv",
	token.LSS: "float_lt",
	token.EQL: "float_eq",
}

func (e *blockEnv) errorf(pos token.Pos, format string, args ...interface{}) {
	e.c.errorf(pos, format, args...)
}

func (e *blockEnv) define(v ssa.Value, gv *flowgraph.Var) {
	if gv != nil {
		e.vars[v] = gv
	}
}

func (e *blockEnv) convert(instr ssa.Instruction) {
	switch x := instr.(type) {
	case *ssa.Phi, *ssa.DebugRef:
		// phi 已经是块输入
	case *ssa.FieldAddr:
		if isAggregate(fieldType(x)) {
			e.define(x, e.emit(x.Pos(), &flowgraph.Op{Name: "getsubstruct", Args: []*flowgraph.Var{e.value(x.X)}, Field: fieldName(x)}))
		}
		// 标量字段的地址在读写处展开
	case *ssa.IndexAddr:
		if _, ok := x.X.Type().Underlying().(*types.Pointer); !ok {
			e.errorf(x.Pos(), "indexing %s is not supported", x.X.Type())
		}
	case *ssa.Alloc:
		elem := x.Type().(*types.Pointer).Elem()
		if !isAggregate(elem) {
			e.errorf(x.Pos(), "taking the address of a %s is not supported", elem)
			return
		}
		e.define(x, e.emit(x.Pos(), &flowgraph.Op{Name: "malloc", Type: e.c.typeOf(elem, x.Pos())}))
	case *ssa.BinOp:
		e.define(x, e.binop(x))
	case *ssa.UnOp:
		e.define(x, e.unop(x))
	case *ssa.Store:
		e.store(x)
	case *ssa.Convert:
		e.define(x, e.convertValue(x, x.X))
	case *ssa.ChangeType:
		e.define(x, e.emit(x.Pos(), &flowgraph.Op{Name: "same_as", Args: []*flowgraph.Var{e.value(x.X)}}))
	case *ssa.Call:
		e.define(x, e.call(x))
	case *ssa.If:
		cond := e.value(x.Cond)
		succs := e.src.Succs
		e.dst.Branch(cond,
			e.c.blocks[succs[0]], e.linkArgs(succs[0]),
			e.c.blocks[succs[1]], e.linkArgs(succs[1]))
	case *ssa.Jump:
		s := e.src.Succs[0]
		e.dst.Jump(e.c.blocks[s], e.linkArgs(s)...)
	case *ssa.Return:
		if len(x.Results) == 0 {
			e.dst.Return(nil)
		} else {
			e.dst.Return(e.value(x.Results[0]))
		}
	default:
		e.errorf(instr.Pos(), "unsupported instruction %T: %s", instr, instr)
	}
}

// emit 追加操作；类型错误记录后返回 nil
func (e *blockEnv) emit(pos token.Pos, op *flowgraph.Op) *flowgraph.Var {
	for _, a := range op.Args {
		if a == nil {
			return nil
		}
	}
	v, err := e.dst.EmitChecked(op)
	if err != nil {
		e.errorf(pos, "%v", err)
		return nil
	}
	return v
}

func (e *blockEnv) binop(x *ssa.BinOp) *flowgraph.Var {
	lhs, rhs := e.value(x.X), e.value(x.Y)
	t := x.X.Type().Underlying()

	if _, ok := t.(*types.Pointer); ok {
		if x.Op != token.EQL && x.Op != token.NEQ {
			e.errorf(x.Pos(), "pointer operator %s is not supported", x.Op)
			return nil
		}
		return e.pointerCompare(x, lhs, rhs)
	}

	basic, ok := t.(*types.Basic)
	if !ok {
		e.errorf(x.Pos(), "operator %s on %s is not supported", x.Op, x.X.Type())
		return nil
	}
	switch {
	case basic.Info()&types.IsInteger != 0:
		if x.Op == token.QUO || x.Op == token.REM {
			// 图的整数除法向下取整，Go 向零截断
			e.errorf(x.Pos(), "integer %s is not supported, Go truncates toward zero", x.Op)
			return nil
		}
		if name, ok := intOps[x.Op]; ok {
			return e.emit(x.Pos(), &flowgraph.Op{Name: name, Args: []*flowgraph.Var{lhs, rhs}})
		}
	case basic.Info()&types.IsFloat != 0:
		switch x.Op {
		case token.GTR:
			return e.emit(x.Pos(), &flowgraph.Op{Name: "float_lt", Args: []*flowgraph.Var{rhs, lhs}})
		case token.NEQ:
			eq := e.emit(x.Pos(), &flowgraph.Op{Name: "float_eq", Args: []*flowgraph.Var{lhs, rhs}})
			return e.emit(x.Pos(), &flowgraph.Op{Name: "bool_not", Args: []*flowgraph.Var{eq}})
		}
		if name, ok := floatOps[x.Op]; ok {
			return e.emit(x.Pos(), &flowgraph.Op{Name: name, Args: []*flowgraph.Var{lhs, rhs}})
		}
	}
	e.errorf(x.Pos(), "operator %s on %s is not supported", x.Op, x.X.Type())
	return nil
}

// pointerCompare 只支持与 nil 比较
func (e *blockEnv) pointerCompare(x *ssa.BinOp, lhs, rhs *flowgraph.Var) *flowgraph.Var {
	operand := lhs
	if c, ok := x.X.(*ssa.Const); ok && c.IsNil() {
		operand = rhs
	} else if c, ok := x.Y.(*ssa.Const); !ok || !c.IsNil() {
		e.errorf(x.Pos(), "pointers can only be compared with nil")
		return nil
	}
	name := "ptr_iszero"
	if x.Op == token.NEQ {
		name = "ptr_nonzero"
	}
	return e.emit(x.Pos(), &flowgraph.Op{Name: name, Args: []*flowgraph.Var{operand}})
}

func (e *blockEnv) unop(x *ssa.UnOp) *flowgraph.Var {
	switch x.Op {
	case token.MUL:
		return e.load(x)
	case token.NOT:
		return e.emit(x.Pos(), &flowgraph.Op{Name: "bool_not", Args: []*flowgraph.Var{e.value(x.X)}})
	case token.SUB:
		operand := e.value(x.X)
		if operand != nil && operand.Type == flowgraph.Float {
			zero := e.dst.Const(flowgraph.FloatValue(0))
			return e.emit(x.Pos(), &flowgraph.Op{Name: "float_sub", Args: []*flowgraph.Var{zero, operand}})
		}
		return e.emit(x.Pos(), &flowgraph.Op{Name: "int_neg", Args: []*flowgraph.Var{operand}})
	case token.XOR:
		ones := e.dst.Const(flowgraph.IntValue(-1))
		return e.emit(x.Pos(), &flowgraph.Op{Name: "int_xor", Args: []*flowgraph.Var{e.value(x.X), ones}})
	}
	e.errorf(x.Pos(), "unary %s is not supported", x.Op)
	return nil
}

// load 读标量字段或数组元素
func (e *blockEnv) load(x *ssa.UnOp) *flowgraph.Var {
	switch addr := x.X.(type) {
	case *ssa.FieldAddr:
		return e.emit(x.Pos(), &flowgraph.Op{Name: "getfield", Args: []*flowgraph.Var{e.value(addr.X)}, Field: fieldName(addr)})
	case *ssa.IndexAddr:
		return e.emit(x.Pos(), &flowgraph.Op{Name: "getarrayitem", Args: []*flowgraph.Var{e.value(addr.X), e.value(addr.Index)}})
	}
	e.errorf(x.Pos(), "loading %s is not supported, use pointers to structs", x.Type())
	return nil
}

func (e *blockEnv) store(x *ssa.Store) {
	if c, ok := x.Val.(*ssa.Const); ok && isAggregate(c.Type()) {
		e.zeroFields(x.Pos(), e.value(x.Addr))
		return
	}
	switch addr := x.Addr.(type) {
	case *ssa.FieldAddr:
		e.emit(x.Pos(), &flowgraph.Op{Name: "setfield", Args: []*flowgraph.Var{e.value(addr.X), e.value(x.Val)}, Field: fieldName(addr)})
	case *ssa.IndexAddr:
		e.emit(x.Pos(), &flowgraph.Op{Name: "setarrayitem", Args: []*flowgraph.Var{e.value(addr.X), e.value(addr.Index), e.value(x.Val)}})
	default:
		e.errorf(x.Pos(), "storing %s is not supported", x.Val.Type())
	}
}

// zeroFields 逐字段清零 p 指向的聚合对象
func (e *blockEnv) zeroFields(pos token.Pos, p *flowgraph.Var) {
	if p == nil {
		return
	}
	gt := p.Type.Elem
	switch gt.Kind {
	case flowgraph.KindStruct:
		for _, f := range gt.Fields {
			if f.Type.IsAggregate() {
				e.zeroFields(pos, e.emit(pos, &flowgraph.Op{Name: "getsubstruct", Args: []*flowgraph.Var{p}, Field: f.Name}))
				continue
			}
			e.emit(pos, &flowgraph.Op{Name: "setfield", Args: []*flowgraph.Var{p, e.dst.Const(flowgraph.Zero(f.Type))}, Field: f.Name})
		}
	case flowgraph.KindArray:
		zero := e.dst.Const(flowgraph.Zero(gt.Elem))
		for i := 0; i < gt.Len; i++ {
			e.emit(pos, &flowgraph.Op{Name: "setarrayitem", Args: []*flowgraph.Var{p, e.dst.Const(flowgraph.IntValue(int64(i))), zero}})
		}
	}
}

func (e *blockEnv) convertValue(x ssa.Value, from ssa.Value) *flowgraph.Var {
	src, dst := e.c.typeOf(from.Type(), x.Pos()), e.c.typeOf(x.Type(), x.Pos())
	if src != dst || src == flowgraph.Void {
		e.errorf(x.Pos(), "conversion from %s to %s is not supported", from.Type(), x.Type())
		return nil
	}
	if !sameWidth(from.Type(), x.Type()) {
		e.errorf(x.Pos(), "narrowing conversion from %s to %s is not supported", from.Type(), x.Type())
		return nil
	}
	return e.emit(x.Pos(), &flowgraph.Op{Name: "same_as", Args: []*flowgraph.Var{e.value(from)}})
}

// sameWidth 整数转换只接受 64 位之间的转换
func sameWidth(from, to types.Type) bool {
	wide := func(t types.Type) bool {
		b, ok := t.Underlying().(*types.Basic)
		if !ok || b.Info()&types.IsInteger == 0 {
			return true
		}
		switch b.Kind() {
		case types.Int, types.Int64, types.Uint, types.Uint64, types.Uintptr, types.UntypedInt:
			return true
		}
		return false
	}
	return wide(from) && wide(to)
}

// call 只识别两个提示函数
func (e *blockEnv) call(x *ssa.Call) *flowgraph.Var {
	callee := x.Call.StaticCallee()
	if callee == nil {
		e.errorf(x.Pos(), "dynamic calls are not supported")
		return nil
	}
	name := callee.Name()
	if origin := callee.Origin(); origin != nil {
		name = origin.Name()
	}
	switch name {
	case "hint_concrete", "hint_variable":
		if len(x.Call.Args) != 1 {
			e.errorf(x.Pos(), "%s takes one argument", name)
			return nil
		}
		return e.emit(x.Pos(), &flowgraph.Op{Name: name, Args: []*flowgraph.Var{e.value(x.Call.Args[0])}})
	}
	e.errorf(x.Pos(), "call to %s is not supported", name)
	return nil
}

// ============================================================================
// 值与链接
// ============================================================================

// value 取 SSA 值在当前块中的变量，常量在块内就地生成
func (e *blockEnv) value(v ssa.Value) *flowgraph.Var {
	if gv, ok := e.vars[v]; ok {
		return gv
	}
	switch x := v.(type) {
	case *ssa.Const:
		val, ok := e.constant(x)
		if !ok {
			return nil
		}
		gv := e.dst.Const(val)
		e.vars[v] = gv
		return gv
	case *ssa.FieldAddr, *ssa.IndexAddr:
		e.errorf(v.Pos(), "the address %s escapes, only aggregate addresses can be passed around", v.Name())
		return nil
	}
	e.errorf(v.Pos(), "value %s (%T) is not available in block %s", v.Name(), v, e.dst.Name)
	return nil
}

func (e *blockEnv) constant(x *ssa.Const) (flowgraph.Value, bool) {
	t := e.c.typeOf(x.Type(), x.Pos())
	if x.IsNil() {
		if t.Kind != flowgraph.KindPtr {
			e.errorf(x.Pos(), "nil %s is not supported", x.Type())
			return flowgraph.Value{}, false
		}
		return flowgraph.NullValue(t), true
	}
	switch t {
	case flowgraph.Int:
		if x.Value.Kind() != constant.Int {
			break
		}
		i, exact := constant.Int64Val(x.Value)
		if !exact {
			u, _ := constant.Uint64Val(x.Value)
			i = int64(u)
		}
		return flowgraph.IntValue(i), true
	case flowgraph.Bool:
		return flowgraph.BoolValue(constant.BoolVal(x.Value)), true
	case flowgraph.Float:
		f, _ := constant.Float64Val(constant.ToFloat(x.Value))
		return flowgraph.FloatValue(f), true
	case flowgraph.String:
		return flowgraph.StringValue(constant.StringVal(x.Value)), true
	}
	e.errorf(x.Pos(), "constant %s of type %s is not supported", x, x.Type())
	return flowgraph.Value{}, false
}

// linkArgs 跳向 s 的实参：先是 s 的 phi 在本边上的值，再是 s 的活跃输入
func (e *blockEnv) linkArgs(s *ssa.BasicBlock) []*flowgraph.Var {
	edge := predIndex(s, e.src)
	var args []*flowgraph.Var
	for _, instr := range s.Instrs {
		phi, ok := instr.(*ssa.Phi)
		if !ok {
			break
		}
		args = append(args, e.value(phi.Edges[edge]))
	}
	for _, v := range e.c.live.liveIn[s] {
		args = append(args, e.value(v))
	}
	return args
}

func fieldName(x *ssa.FieldAddr) string {
	st := x.X.Type().Underlying().(*types.Pointer).Elem().Underlying().(*types.Struct)
	return st.Field(x.Field).Name()
}

func fieldType(x *ssa.FieldAddr) types.Type {
	st := x.X.Type().Underlying().(*types.Pointer).Elem().Underlying().(*types.Struct)
	return st.Field(x.Field).Type()
}
