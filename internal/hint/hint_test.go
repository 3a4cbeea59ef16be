package hint

import (
	"bytes"
	"strings"
	"testing"

	"github.com/tangzhangming/timeshift/internal/errors"
	"github.com/tangzhangming/timeshift/internal/flowgraph"
	"github.com/tangzhangming/timeshift/internal/origin"
)

func sampleValues() []Value {
	g := flowgraph.NewGraph("f", flowgraph.Int)
	tr := origin.NewTracker()
	o1 := tr.OriginAt(origin.Pos(g, g.Start, 0))
	o2 := tr.OriginAt(origin.Pos(g, g.Start, 1))
	return []Value{
		KnownConstant(flowgraph.IntValue(1), o1),
		KnownConstant(flowgraph.IntValue(2), o2),
		KnownConstant(flowgraph.IntValue(1), o2),
		Constant(flowgraph.Int, o1, o2),
		Concrete(flowgraph.Int),
		Variable(flowgraph.Int),
	}
}

// TestJoinLaws 测试合并的交换律和幂等律
func TestJoinLaws(t *testing.T) {
	values := sampleValues()
	for _, a := range values {
		aa, err := Join(a, a)
		if err != nil || !Equal(aa, a) {
			t.Errorf("join(%s, %s) = %s, want %s", a, a, aa, a)
		}
		for _, b := range values {
			ab, err1 := Join(a, b)
			ba, err2 := Join(b, a)
			if err1 != nil || err2 != nil {
				t.Fatalf("unexpected join errors: %v, %v", err1, err2)
			}
			if !Equal(ab, ba) {
				t.Errorf("join(%s, %s) = %s but join(%s, %s) = %s", a, b, ab, b, a, ba)
			}
		}
	}
}

// TestJoinConstants 测试常量合并的来源并集和已知值
func TestJoinConstants(t *testing.T) {
	v := sampleValues()

	same, _ := Join(v[0], v[2])
	if !same.HasKnown || same.Known.I != 1 {
		t.Errorf("joining equal constants should keep the known value, got %s", same)
	}
	if len(same.Origins) != 2 {
		t.Errorf("expected origin union of 2, got %d", len(same.Origins))
	}

	diff, _ := Join(v[0], v[1])
	if diff.Kind != KindConstant || diff.HasKnown {
		t.Errorf("joining different constants should drop the known value, got %s", diff)
	}

	if j, _ := Join(v[0], v[4]); j.Kind != KindConcrete {
		t.Errorf("concrete should absorb constants, got %s", j)
	}
	if j, _ := Join(v[4], v[5]); j.Kind != KindConcrete {
		t.Errorf("concrete should absorb variables, got %s", j)
	}
	if j, _ := Join(v[3], v[5]); j.Kind != KindVariable {
		t.Errorf("variable should absorb constants, got %s", j)
	}
}

// TestJoinTypeMismatch 测试不同类型标量的合并
func TestJoinTypeMismatch(t *testing.T) {
	_, err := Join(Variable(flowgraph.Int), Variable(flowgraph.Bool))
	if !errors.HasCode(err, errors.I0006) {
		t.Errorf("expected I0006, got %v", err)
	}
}

// commitGraph f(x, y) = hint_concrete(x + 1) * y
func commitGraph() (*flowgraph.Graph, map[string]*flowgraph.Var) {
	g := flowgraph.NewGraph("commit", flowgraph.Int)
	x := g.Start.Input("x", flowgraph.Int)
	y := g.Start.Input("y", flowgraph.Int)
	one := g.Start.Const(flowgraph.IntValue(1))
	c := g.Start.Emit("int_add", x, one)
	k := g.Start.Emit("hint_concrete", c)
	r := g.Start.Emit("int_mul", k, y)
	g.Start.Return(r)
	return g, map[string]*flowgraph.Var{"x": x, "y": y, "c": c, "k": k, "r": r}
}

// TestAnnotateCommit 测试提交沿来源链回溯固定
func TestAnnotateCommit(t *testing.T) {
	g, vars := commitGraph()
	ann, err := NewAnnotator(0, nil).Annotate(g, []Value{Constant(flowgraph.Int), Variable(flowgraph.Int)})
	if err != nil {
		t.Fatalf("annotate: %v", err)
	}

	for name, green := range map[string]bool{"x": true, "y": false, "c": true, "k": true, "r": false} {
		if ann.IsGreen(vars[name]) != green {
			t.Errorf("%s: green=%v, expected %v (%s)", name, !green, green, ann.Binding(vars[name]))
		}
	}
	if ann.Binding(vars["k"]).Kind != KindConcrete {
		t.Errorf("committed value should be concrete, got %s", ann.Binding(vars["k"]))
	}
	if got := ann.GreenInputs(); !got[0] || got[1] {
		t.Errorf("unexpected green inputs %v", got)
	}
}

// TestDumpColors 测试打印标注时按开关着色
func TestDumpColors(t *testing.T) {
	defer errors.SetColorsEnabled(errors.ColorsEnabled())
	g, _ := commitGraph()
	ann, err := NewAnnotator(0, nil).Annotate(g, []Value{Constant(flowgraph.Int), Variable(flowgraph.Int)})
	if err != nil {
		t.Fatalf("annotate: %v", err)
	}

	var plain bytes.Buffer
	errors.SetColorsEnabled(false)
	ann.Dump(&plain)
	if strings.Contains(plain.String(), "\033[") {
		t.Errorf("dump should not contain escape codes when colors are off:\n%s", plain.String())
	}
	if !strings.Contains(plain.String(), "graph commit") {
		t.Errorf("dump should name the graph:\n%s", plain.String())
	}

	var colored bytes.Buffer
	errors.SetColorsEnabled(true)
	ann.Dump(&colored)
	if !strings.Contains(colored.String(), string(errors.ColorGreen)) || !strings.Contains(colored.String(), string(errors.ColorRed)) {
		t.Errorf("dump should color both green and red values:\n%s", colored.String())
	}
}

// TestCommitErrors 测试非法提交
func TestCommitErrors(t *testing.T) {
	tests := []struct {
		name  string
		build func(g *flowgraph.Graph, x *flowgraph.Var)
		input Value
		code  string
	}{
		{
			name: "variable",
			build: func(g *flowgraph.Graph, x *flowgraph.Var) {
				g.Start.Return(g.Start.Emit("hint_concrete", x))
			},
			input: Variable(flowgraph.Int),
			code:  errors.H0002,
		},
		{
			name: "concrete",
			build: func(g *flowgraph.Graph, x *flowgraph.Var) {
				k := g.Start.Emit("hint_concrete", x)
				g.Start.Return(g.Start.Emit("hint_concrete", k))
			},
			input: Constant(flowgraph.Int),
			code:  errors.H0002,
		},
		{
			name: "twice",
			build: func(g *flowgraph.Graph, x *flowgraph.Var) {
				a := g.Start.Emit("hint_concrete", x)
				b := g.Start.Emit("hint_concrete", x)
				g.Start.Return(g.Start.Emit("int_add", a, b))
			},
			input: Constant(flowgraph.Int),
			code:  errors.H0003,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := flowgraph.NewGraph(tt.name, flowgraph.Int)
			x := g.Start.Input("x", flowgraph.Int)
			tt.build(g, x)

			_, err := NewAnnotator(0, nil).Annotate(g, []Value{tt.input})
			if !errors.IsClassification(err) {
				t.Fatalf("expected classification error, got %v", err)
			}
			if !errors.HasCode(err, tt.code) {
				t.Errorf("expected %s, got %v", tt.code, errors.Codes(err))
			}
		})
	}
}

// TestMissingRulesCollected 测试多个分类错误一并报告
func TestMissingRulesCollected(t *testing.T) {
	g := flowgraph.NewGraph("unknown", flowgraph.Int)
	x := g.Start.Input("x", flowgraph.Int)
	y := g.NewVar("y", flowgraph.Int)
	g.Start.Ops = append(g.Start.Ops, &flowgraph.Op{Name: "frobnicate", Args: []*flowgraph.Var{x}, Result: y})
	g.Start.Emit("hint_concrete", y)
	g.Start.Return(y)

	_, err := NewAnnotator(0, nil).Annotate(g, []Value{Variable(flowgraph.Int)})
	codes := errors.Codes(err)
	if len(codes) != 2 || codes[0] != errors.H0001 || codes[1] != errors.H0002 {
		t.Errorf("expected [H0001 H0002], got %v", codes)
	}
}

// TestCommitAfterAbsorb 测试被吸收固定的常量仍可提交
//
// join 的 y 在一条路径上是 Concrete，另一条路径上是 k，合并时 k 的来源被
// 固定。之后对 k 的提交不算重复提交。
func TestCommitAfterAbsorb(t *testing.T) {
	g := flowgraph.NewGraph("absorb", flowgraph.Int)
	c := g.Start.Input("c", flowgraph.Bool)
	k := g.Start.Input("k", flowgraph.Int)
	m := g.Start.Input("m", flowgraph.Int)

	then := g.NewBlock("then")
	tk := then.Input("k", flowgraph.Int)
	tm := then.Input("m", flowgraph.Int)
	els := g.NewBlock("else")
	ek := els.Input("k", flowgraph.Int)
	join := g.NewBlock("join")
	y := join.Input("y", flowgraph.Int)
	jk := join.Input("k", flowgraph.Int)

	g.Start.Branch(c, then, []*flowgraph.Var{k, m}, els, []*flowgraph.Var{k})
	x := then.Emit("hint_concrete", tm)
	then.Jump(join, x, tk)
	els.Jump(join, ek, ek)

	z := join.Emit("hint_concrete", jk)
	join.Return(join.Emit("int_add", y, z))

	ann, err := NewAnnotator(0, nil).Annotate(g, []Value{Variable(flowgraph.Bool), Constant(flowgraph.Int), Constant(flowgraph.Int)})
	if err != nil {
		t.Fatalf("committing an absorbed constant should succeed: %v", err)
	}
	if got := ann.Binding(y); got.Kind != KindConcrete {
		t.Errorf("y should absorb k, got %s", got)
	}
	if got := ann.Binding(z); got.Kind != KindConcrete {
		t.Errorf("committed k should be concrete, got %s", got)
	}
	for _, n := range ann.Binding(k).Origins {
		if !n.Fixed || n.ByCommit {
			t.Errorf("k's origin should be fixed by absorption, got fixed=%v byCommit=%v", n.Fixed, n.ByCommit)
		}
	}
}

// sumLoop sum(0..n-1)，n 在入口提交
func sumLoop(commit bool) *flowgraph.Graph {
	g := flowgraph.NewGraph("sum", flowgraph.Int)
	n := g.Start.Input("n", flowgraph.Int)
	if commit {
		n = g.Start.Emit("hint_concrete", n)
	}

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

// TestLoopFixpoint 测试循环的不动点
func TestLoopFixpoint(t *testing.T) {
	g := sumLoop(true)
	ann, err := NewAnnotator(0, nil).Annotate(g, []Value{Constant(flowgraph.Int)})
	if err != nil {
		t.Fatalf("annotate: %v", err)
	}
	header := g.Block("header")
	if ann.Iterations <= len(g.Blocks)-1 {
		t.Errorf("loop should need more than one visit per block, got %d iterations", ann.Iterations)
	}
	if !ann.IsGreen(header.InputArgs[2]) {
		t.Errorf("committed n should stay green in the loop: %s", ann.Binding(header.InputArgs[2]))
	}
	i := ann.Binding(header.InputArgs[0])
	if i.Kind != KindConstant || i.HasKnown || i.IsGreen() {
		t.Errorf("loop counter should be a red constant without known value, got %s", i)
	}
	if ann.Reached(g.Return) == false {
		t.Error("return block should be reached")
	}
}

// TestMaxIterations 测试迭代上限
func TestMaxIterations(t *testing.T) {
	g := sumLoop(false)
	_, err := NewAnnotator(2, nil).Annotate(g, []Value{Variable(flowgraph.Int)})
	if !errors.HasCode(err, errors.I0005) {
		t.Errorf("expected I0005, got %v", err)
	}
}
