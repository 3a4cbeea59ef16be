package timeshift

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tangzhangming/timeshift/internal/errors"
	"github.com/tangzhangming/timeshift/internal/flowgraph"
	"github.com/tangzhangming/timeshift/internal/hint"
	"github.com/tangzhangming/timeshift/internal/rgenop/graphgen"
)

var (
	pairType  = flowgraph.NewStruct("Pair", flowgraph.Field{Name: "a", Type: flowgraph.Int}, flowgraph.Field{Name: "b", Type: flowgraph.Int})
	innerType = flowgraph.NewStruct("Inner", flowgraph.Field{Name: "x", Type: flowgraph.Int})
	outerType = flowgraph.NewStruct("Outer",
		flowgraph.Field{Name: "in", Type: innerType},
		flowgraph.Field{Name: "y", Type: flowgraph.Int},
	)
	holderType = flowgraph.NewStruct("Holder", flowgraph.Field{Name: "ptr", Type: flowgraph.PtrTo(innerType)})
)

// specialize 标注并特化，返回残余程序
func specialize(t *testing.T, g *flowgraph.Graph, inputs []hint.Value, args []Arg) (*graphgen.Program, *Result) {
	t.Helper()
	prog, res, err := trySpecialize(t, g, inputs, args, 0)
	if err != nil {
		t.Fatalf("specialize %s: %v", g.Name, err)
	}
	if err := prog.Validate(); err != nil {
		t.Fatalf("residual program is invalid: %v\n%s", err, prog)
	}
	return prog, res
}

func trySpecialize(t *testing.T, g *flowgraph.Graph, inputs []hint.Value, args []Arg, maxBlocks int) (*graphgen.Program, *Result, error) {
	t.Helper()
	if err := flowgraph.Validate(g); err != nil {
		t.Fatalf("source graph is invalid: %v", err)
	}
	ann, err := hint.NewAnnotator(0, nil).Annotate(g, inputs)
	if err != nil {
		t.Fatalf("annotate %s: %v", g.Name, err)
	}
	prog := graphgen.New(g.Name)
	s := New(ann, prog, nil)
	if maxBlocks > 0 {
		s.MaxBlocks = maxBlocks
	}
	res, err := s.Run(args)
	return prog, res, err
}

func run(t *testing.T, prog *graphgen.Program, args ...flowgraph.Value) flowgraph.Value {
	t.Helper()
	v, err := prog.Run(args)
	if err != nil {
		t.Fatalf("run residual: %v\n%s", err, prog)
	}
	return v
}

func lastBlock(prog *graphgen.Program) *graphgen.Block {
	return prog.Blocks[len(prog.Blocks)-1]
}

// ============================================================================
// 端到端场景
// ============================================================================

// TestStraightLineFold 测试直线代码的常量折叠
func TestStraightLineFold(t *testing.T) {
	g := flowgraph.NewGraph("add", flowgraph.Int)
	x := g.Start.Input("x", flowgraph.Int)
	y := g.Start.Input("y", flowgraph.Int)
	g.Start.Return(g.Start.Emit("int_add", x, y))

	prog, res := specialize(t, g,
		[]hint.Value{hint.Constant(flowgraph.Int), hint.Constant(flowgraph.Int)},
		[]Arg{KnownArg(flowgraph.IntValue(3)), KnownArg(flowgraph.IntValue(4))})

	if res.Constant == nil || res.Constant.I != 7 {
		t.Fatalf("expected constant 7, got %v", res.Constant)
	}
	if prog.NumOps() != 0 {
		t.Errorf("expected no residual operations, got %d\n%s", prog.NumOps(), prog)
	}
	if got := run(t, prog); got.I != 7 {
		t.Errorf("residual returned %s, expected 7", got)
	}
	if res.Stats.Folded != 1 {
		t.Errorf("expected 1 folded operation, got %d", res.Stats.Folded)
	}
}

// diamond f(cond, x, y) = cond ? x+y : x-y
func diamond() *flowgraph.Graph {
	g := flowgraph.NewGraph("diamond", flowgraph.Int)
	cond := g.Start.Input("cond", flowgraph.Bool)
	x := g.Start.Input("x", flowgraph.Int)
	y := g.Start.Input("y", flowgraph.Int)

	then := g.NewBlock("then")
	tx, ty := then.Input("x", flowgraph.Int), then.Input("y", flowgraph.Int)
	then.Return(then.Emit("int_add", tx, ty))

	els := g.NewBlock("else")
	ex, ey := els.Input("x", flowgraph.Int), els.Input("y", flowgraph.Int)
	els.Return(els.Emit("int_sub", ex, ey))

	g.Start.Branch(cond, then, []*flowgraph.Var{x, y}, els, []*flowgraph.Var{x, y})
	return g
}

// TestBranchJoin 测试运行时条件保留分支，两边折叠后在最终块汇合
func TestBranchJoin(t *testing.T) {
	g := diamond()
	prog, res := specialize(t, g,
		[]hint.Value{hint.Variable(flowgraph.Bool), hint.Constant(flowgraph.Int), hint.Constant(flowgraph.Int)},
		[]Arg{UnknownArg(), KnownArg(flowgraph.IntValue(3)), KnownArg(flowgraph.IntValue(4))})

	if res.Constant != nil {
		t.Errorf("branches return different constants, got common constant %s", res.Constant)
	}
	if prog.NumOps() != 0 {
		t.Errorf("both branches should fold, got %d ops\n%s", prog.NumOps(), prog)
	}
	if res.Returns != 2 || res.Stats.Forks != 1 {
		t.Errorf("expected 2 returns and 1 fork, got %d and %d", res.Returns, res.Stats.Forks)
	}
	final := lastBlock(prog)
	if len(final.Inputs) != 1 || final.Inputs[0].Type != flowgraph.Int {
		t.Errorf("final block should take one int input, got %v", final.Inputs)
	}
	if got := run(t, prog, flowgraph.BoolValue(true)); got.I != 7 {
		t.Errorf("true branch returned %s, expected 7", got)
	}
	if got := run(t, prog, flowgraph.BoolValue(false)); got.I != -1 {
		t.Errorf("false branch returned %s, expected -1", got)
	}
}

// TestVirtualStructNeverEscapes 测试不逃逸的分配完全消失
func TestVirtualStructNeverEscapes(t *testing.T) {
	g := flowgraph.NewGraph("pair", flowgraph.Int)
	p := g.Start.Malloc(pairType)
	g.Start.SetField(p, "a", g.Start.Const(flowgraph.IntValue(1)))
	g.Start.SetField(p, "b", g.Start.Const(flowgraph.IntValue(2)))
	a := g.Start.GetField(p, "a")
	b := g.Start.GetField(p, "b")
	g.Start.Return(g.Start.Emit("int_add", a, b))

	prog, res := specialize(t, g, nil, nil)

	if res.Constant == nil || res.Constant.I != 3 {
		t.Fatalf("expected constant 3, got %v", res.Constant)
	}
	for _, name := range []string{"malloc", "getfield", "setfield"} {
		if n := prog.CountOps(name); n != 0 {
			t.Errorf("expected no %s, got %d", name, n)
		}
	}
	if res.Stats.Forced != 0 {
		t.Errorf("nothing should be forced, got %d", res.Stats.Forced)
	}
	if got := run(t, prog); got.I != 3 {
		t.Errorf("residual returned %s, expected 3", got)
	}
}

// TestDeadBranch 测试常量条件只特化一边
func TestDeadBranch(t *testing.T) {
	g := flowgraph.NewGraph("select", flowgraph.Int)
	k := g.Start.Input("k", flowgraph.Int)
	y := g.Start.Input("y", flowgraph.Int)
	zero := g.Start.Const(flowgraph.IntValue(0))
	pos := g.Start.Emit("int_gt", k, zero)

	double := g.NewBlock("double")
	dy := double.Input("y", flowgraph.Int)
	two := double.Const(flowgraph.IntValue(2))
	double.Return(double.Emit("int_mul", dy, two))

	inc := g.NewBlock("inc")
	iy := inc.Input("y", flowgraph.Int)
	one := inc.Const(flowgraph.IntValue(1))
	inc.Return(inc.Emit("int_add", iy, one))

	g.Start.Branch(pos, double, []*flowgraph.Var{y}, inc, []*flowgraph.Var{y})

	prog, res := specialize(t, g,
		[]hint.Value{hint.Constant(flowgraph.Int), hint.Variable(flowgraph.Int)},
		[]Arg{KnownArg(flowgraph.IntValue(5)), UnknownArg()})

	if prog.CountOps("int_mul") != 1 || prog.CountOps("int_add") != 0 {
		t.Errorf("only the taken branch should be emitted:\n%s", prog)
	}
	if res.Stats.Forks != 0 {
		t.Errorf("constant switch must not fork, got %d forks", res.Stats.Forks)
	}
	if got := run(t, prog, flowgraph.IntValue(4)); got.I != 8 {
		t.Errorf("expected 8, got %s", got)
	}
}

// ============================================================================
// 循环与汇合
// ============================================================================

// sumLoop sum(0..n-1)
func sumLoop() *flowgraph.Graph {
	g := flowgraph.NewGraph("sum", flowgraph.Int)
	n := g.Start.Input("n", flowgraph.Int)

	header := g.NewBlock("header")
	i := header.Input("i", flowgraph.Int)
	acc := header.Input("acc", flowgraph.Int)
	hn := header.Input("n", flowgraph.Int)

	body := g.NewBlock("body")
	bi := body.Input("i", flowgraph.Int)
	bacc := body.Input("acc", flowgraph.Int)
	bn := body.Input("n", flowgraph.Int)

	exit := g.NewBlock("exit")
	eacc := exit.Input("acc", flowgraph.Int)

	zero := g.Start.Const(flowgraph.IntValue(0))
	g.Start.Jump(header, zero, zero, n)

	cond := header.Emit("int_lt", i, hn)
	header.Branch(cond, body, []*flowgraph.Var{i, acc, hn}, exit, []*flowgraph.Var{acc})

	sum := body.Emit("int_add", bacc, bi)
	one := body.Const(flowgraph.IntValue(1))
	next := body.Emit("int_add", bi, one)
	body.Jump(header, next, sum, bn)

	exit.Return(eacc)
	return g
}

// TestLoopMatchesInterpreter 测试运行时循环的残余程序与源图解释结果一致
func TestLoopMatchesInterpreter(t *testing.T) {
	g := sumLoop()
	prog, _ := specialize(t, g, []hint.Value{hint.Variable(flowgraph.Int)}, []Arg{UnknownArg()})

	var want, got []int64
	for n := int64(0); n < 8; n++ {
		expected, err := flowgraph.Interpret(g, []flowgraph.Value{flowgraph.IntValue(n)})
		if err != nil {
			t.Fatalf("interpret: %v", err)
		}
		want = append(want, expected.I)
		got = append(got, run(t, prog, flowgraph.IntValue(n)).I)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("residual and source disagree (-source +residual):\n%s", diff)
	}
}

// TestJoinMinimality 测试泛化只把不一致的位置变成运行时值
//
// 第一次回到循环头时只有 i 改变，acc 仍是 0；第二次 acc 才被泛化。
func TestJoinMinimality(t *testing.T) {
	g := sumLoop()
	prog, res := specialize(t, g, []hint.Value{hint.Variable(flowgraph.Int)}, []Arg{UnknownArg()})

	if res.Stats.Generalizations != 2 {
		t.Errorf("expected 2 generalizations, got %d\n%s", res.Stats.Generalizations, prog)
	}
	if res.Stats.Absorbed != 1 {
		t.Errorf("expected the back edge to be absorbed once, got %d", res.Stats.Absorbed)
	}

	var widths []int
	for _, b := range prog.Blocks {
		widths = append(widths, len(b.Inputs))
	}
	// 第一次泛化后的块：n 和 i 是输入，acc 仍为常量
	found := false
	for _, w := range widths {
		if w == 2 {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a generalized block with 2 inputs, got input widths %v", widths)
	}
}

// TestJoinMinimalityScalars 测试三个标量输入中只有一个不一致时只增加一个形参
//
//	start(x) -> header(a=1, b=2, i=0)
//	header: if i < x goto body else return a + b + i
//	body: goto header(a, b, i + 1)
func TestJoinMinimalityScalars(t *testing.T) {
	g := flowgraph.NewGraph("scalars", flowgraph.Int)
	x := g.Start.Input("x", flowgraph.Int)

	header := g.NewBlock("header")
	ha := header.Input("a", flowgraph.Int)
	hb := header.Input("b", flowgraph.Int)
	hi := header.Input("i", flowgraph.Int)
	hx := header.Input("x", flowgraph.Int)

	body := g.NewBlock("body")
	ba := body.Input("a", flowgraph.Int)
	bb := body.Input("b", flowgraph.Int)
	bi := body.Input("i", flowgraph.Int)
	bx := body.Input("x", flowgraph.Int)

	exit := g.NewBlock("exit")
	ea := exit.Input("a", flowgraph.Int)
	eb := exit.Input("b", flowgraph.Int)
	ei := exit.Input("i", flowgraph.Int)

	g.Start.Jump(header,
		g.Start.Const(flowgraph.IntValue(1)),
		g.Start.Const(flowgraph.IntValue(2)),
		g.Start.Const(flowgraph.IntValue(0)),
		x)
	cond := header.Emit("int_lt", hi, hx)
	header.Branch(cond, body, []*flowgraph.Var{ha, hb, hi, hx}, exit, []*flowgraph.Var{ha, hb, hi})
	next := body.Emit("int_add", bi, body.Const(flowgraph.IntValue(1)))
	body.Jump(header, ba, bb, next, bx)
	ab := exit.Emit("int_add", ea, eb)
	exit.Return(exit.Emit("int_add", ab, ei))

	prog, res := specialize(t, g, []hint.Value{hint.Variable(flowgraph.Int)}, []Arg{UnknownArg()})

	if res.Stats.Generalizations != 1 {
		t.Errorf("only i disagrees, expected 1 generalization, got %d\n%s", res.Stats.Generalizations, prog)
	}
	var widths []int
	for _, b := range prog.Blocks {
		widths = append(widths, len(b.Inputs))
		if len(b.Inputs) > 2 {
			t.Errorf("a and b agree on every arrival and must stay constants, got input widths %v\n%s", widths, prog)
			break
		}
	}
	// a + b 折叠为 3，剩下 i + 1 和 3 + i
	if got := prog.CountOps("int_add"); got != 2 {
		t.Errorf("expected 2 additions, got %d\n%s", got, prog)
	}
	for _, n := range []int64{0, 1, 4} {
		if got := run(t, prog, flowgraph.IntValue(n)); got.I != 3+n {
			t.Errorf("x=%d: expected %d, got %s", n, 3+n, got)
		}
	}
}

// TestKnownBoundLoop 测试已知上界的循环与解释结果一致
func TestKnownBoundLoop(t *testing.T) {
	g := sumLoop()
	prog, res := specialize(t, g, []hint.Value{hint.Constant(flowgraph.Int)}, []Arg{KnownArg(flowgraph.IntValue(4))})

	if len(prog.Entry().Inputs) != 0 {
		t.Errorf("entry block should take no inputs, got %d", len(prog.Entry().Inputs))
	}
	if got := run(t, prog); got.I != 6 {
		t.Errorf("sum(0..3) = %s, expected 6", got)
	}
	if res.Stats.Generalizations == 0 {
		t.Error("a red loop counter should be generalized at the header")
	}
}

// TestVirtualMergeAbsorbed 测试两个分支的虚拟对象在汇合点合并
func TestVirtualMergeAbsorbed(t *testing.T) {
	g := flowgraph.NewGraph("union", flowgraph.Int)
	c := g.Start.Input("c", flowgraph.Bool)
	v := g.Start.Input("v", flowgraph.Int)

	then := g.NewBlock("then")
	tv := then.Input("v", flowgraph.Int)
	els := g.NewBlock("else")
	join := g.NewBlock("join")
	jp := join.Input("p", flowgraph.PtrTo(innerType))
	g.Start.Branch(c, then, []*flowgraph.Var{v}, els, nil)

	p1 := then.Malloc(innerType)
	then.SetField(p1, "x", tv)
	then.Jump(join, p1)

	p2 := els.Malloc(innerType)
	els.SetField(p2, "x", els.Const(flowgraph.IntValue(7)))
	els.Jump(join, p2)

	join.Return(join.GetField(jp, "x"))

	prog, res := specialize(t, g,
		[]hint.Value{hint.Variable(flowgraph.Bool), hint.Variable(flowgraph.Int)},
		[]Arg{UnknownArg(), UnknownArg()})

	if prog.CountOps("malloc") != 0 || prog.NumOps() != 0 {
		t.Errorf("the merged object should stay virtual:\n%s", prog)
	}
	if res.Stats.Absorbed != 1 {
		t.Errorf("second arrival should jump into the recorded block, absorbed=%d", res.Stats.Absorbed)
	}
	if got := run(t, prog, flowgraph.BoolValue(true), flowgraph.IntValue(5)); got.I != 5 {
		t.Errorf("then branch: expected 5, got %s", got)
	}
	if got := run(t, prog, flowgraph.BoolValue(false), flowgraph.IntValue(5)); got.I != 7 {
		t.Errorf("else branch: expected 7, got %s", got)
	}
}

// TestNestedEscape 测试子结构逃逸时外层对象真实分配
func TestNestedEscape(t *testing.T) {
	g := flowgraph.NewGraph("escape", flowgraph.Int)
	h := g.Start.Input("h", flowgraph.PtrTo(holderType))
	v := g.Start.Input("v", flowgraph.Int)
	p := g.Start.Malloc(outerType)
	q := g.Start.GetSubstruct(p, "in")
	g.Start.SetField(q, "x", v)
	g.Start.SetField(h, "ptr", q)
	q2 := g.Start.GetSubstruct(p, "in")
	g.Start.Return(g.Start.GetField(q2, "x"))

	prog, _ := specialize(t, g,
		[]hint.Value{hint.Variable(flowgraph.PtrTo(holderType)), hint.Variable(flowgraph.Int)},
		[]Arg{UnknownArg(), UnknownArg()})

	if prog.CountOps("malloc") != 1 || prog.CountOps("getfield") != 1 {
		t.Errorf("escaped object must be allocated and read for real:\n%s", prog)
	}

	holder := flowgraph.Value{Type: flowgraph.PtrTo(holderType), Obj: flowgraph.NewObject(holderType)}
	if got := run(t, prog, holder, flowgraph.IntValue(9)); got.I != 9 {
		t.Errorf("expected 9, got %s", got)
	}
}

// TestSubstructJoinedWithRuntime 测试子结构在汇合点与运行时指针合并
//
// then 传入 p.in，else 传入运行时的 *Inner。汇合后 p.in 不再虚拟，外层
// 对象随之真实分配，两次读字段都留在残余程序里。
func TestSubstructJoinedWithRuntime(t *testing.T) {
	g := flowgraph.NewGraph("subjoin", flowgraph.Int)
	c := g.Start.Input("c", flowgraph.Bool)
	r := g.Start.Input("r", flowgraph.PtrTo(innerType))
	v := g.Start.Input("v", flowgraph.Int)
	p := g.Start.Malloc(outerType)
	q := g.Start.GetSubstruct(p, "in")
	g.Start.SetField(q, "x", v)

	then := g.NewBlock("then")
	tq := then.Input("q", flowgraph.PtrTo(innerType))
	tp := then.Input("p", flowgraph.PtrTo(outerType))
	els := g.NewBlock("else")
	er := els.Input("r", flowgraph.PtrTo(innerType))
	ep := els.Input("p", flowgraph.PtrTo(outerType))
	join := g.NewBlock("join")
	jq := join.Input("q", flowgraph.PtrTo(innerType))
	jp := join.Input("p", flowgraph.PtrTo(outerType))

	g.Start.Branch(c, then, []*flowgraph.Var{q, p}, els, []*flowgraph.Var{r, p})
	then.Jump(join, tq, tp)
	els.Jump(join, er, ep)

	x1 := join.GetField(jq, "x")
	x2 := join.GetField(join.GetSubstruct(jp, "in"), "x")
	join.Return(join.Emit("int_add", x1, x2))

	prog, _ := specialize(t, g,
		[]hint.Value{hint.Variable(flowgraph.Bool), hint.Variable(flowgraph.PtrTo(innerType)), hint.Variable(flowgraph.Int)},
		[]Arg{UnknownArg(), UnknownArg(), UnknownArg()})

	if prog.CountOps("malloc") != 1 {
		t.Errorf("outer object must be allocated once:\n%s", prog)
	}
	if prog.CountOps("getfield") != 2 {
		t.Errorf("both field reads must stay in the residual program:\n%s", prog)
	}

	inner := flowgraph.Value{Type: flowgraph.PtrTo(innerType), Obj: flowgraph.NewObject(innerType)}
	if got := run(t, prog, flowgraph.BoolValue(true), inner, flowgraph.IntValue(6)); got.I != 12 {
		t.Errorf("then branch: expected 12, got %s", got)
	}
	if got := run(t, prog, flowgraph.BoolValue(false), inner, flowgraph.IntValue(6)); got.I != 6 {
		t.Errorf("else branch: expected 6, got %s", got)
	}
}

// ============================================================================
// 错误
// ============================================================================

// TestGreenArgumentRequired 测试绿色形参必须给出常量
func TestGreenArgumentRequired(t *testing.T) {
	g := flowgraph.NewGraph("commit", flowgraph.Int)
	x := g.Start.Input("x", flowgraph.Int)
	k := g.Start.Emit("hint_concrete", x)
	g.Start.Return(k)

	_, _, err := trySpecialize(t, g, []hint.Value{hint.Constant(flowgraph.Int)}, []Arg{UnknownArg()}, 0)
	if !errors.HasCode(err, errors.H0004) {
		t.Errorf("expected H0004, got %v", err)
	}
}

// TestArgumentCount 测试参数个数不一致
func TestArgumentCount(t *testing.T) {
	g := diamond()
	_, _, err := trySpecialize(t, g,
		[]hint.Value{hint.Variable(flowgraph.Bool), hint.Variable(flowgraph.Int), hint.Variable(flowgraph.Int)},
		[]Arg{UnknownArg()}, 0)
	if !errors.HasCode(err, errors.I0002) {
		t.Errorf("expected I0002, got %v", err)
	}
}

// TestBlockLimit 测试残余块上限
func TestBlockLimit(t *testing.T) {
	g := diamond()
	_, _, err := trySpecialize(t, g,
		[]hint.Value{hint.Variable(flowgraph.Bool), hint.Variable(flowgraph.Int), hint.Variable(flowgraph.Int)},
		[]Arg{UnknownArg(), UnknownArg(), UnknownArg()}, 2)
	if !errors.HasCode(err, errors.I0004) {
		t.Errorf("expected I0004, got %v", err)
	}
	if !errors.IsInternal(err) {
		t.Errorf("block limit should be an internal error, got %v", err)
	}
}
