package hint

import (
	"fmt"
	"io"
	"strings"

	"github.com/tangzhangming/timeshift/internal/errors"
	"github.com/tangzhangming/timeshift/internal/flowgraph"
	"github.com/tangzhangming/timeshift/internal/origin"
)

// Annotation 分析结果
type Annotation struct {
	Graph      *flowgraph.Graph
	Iterations int
	Warnings   []error // 合并不兼容等可恢复问题

	bindings map[*flowgraph.Var]Value
	entries  map[*flowgraph.Block][]Value
	bk       *Bookkeeper
}

// Binding 变量的绑定时间值；不可达块中的变量返回无效值
func (a *Annotation) Binding(v *flowgraph.Var) Value {
	return a.bindings[v].Resolve()
}

// IsGreen 变量是否是编译期值
func (a *Annotation) IsGreen(v *flowgraph.Var) bool {
	return a.Binding(v).IsGreen()
}

// Reached 块是否可达
func (a *Annotation) Reached(b *flowgraph.Block) bool {
	_, ok := a.entries[b]
	return ok
}

// IsVirtual 分配操作是否保持虚拟（实例从未退化）
func (a *Annotation) IsVirtual(b *flowgraph.Block, index int) bool {
	vc, ok := a.bk.Site(origin.Pos(a.Graph, b, index))
	return ok && !vc.Degenerated()
}

// GreenInputs 每个形参是否是编译期值
func (a *Annotation) GreenInputs() []bool {
	args := a.Graph.Args()
	greens := make([]bool, len(args))
	for i, v := range args {
		greens[i] = a.IsGreen(v)
	}
	return greens
}

// GreenMask 块的输入参数中哪些是编译期值
func (a *Annotation) GreenMask(b *flowgraph.Block) []bool {
	mask := make([]bool, len(b.InputArgs))
	for i, v := range b.InputArgs {
		mask[i] = a.IsGreen(v)
	}
	return mask
}

// Stats 分析统计
type Stats struct {
	Origins       int
	FixedOrigins  int
	Containers    int
	Unions        int
	Degenerations int
}

// Stats 返回统计
func (a *Annotation) Stats() Stats {
	return Stats{
		Origins:       a.bk.Tracker.NumNodes(),
		FixedOrigins:  a.bk.Tracker.NumFixed(),
		Containers:    a.bk.containers,
		Unions:        a.bk.unions,
		Degenerations: a.bk.degenerations,
	}
}

// Dump 打印带绑定时间的图，绿色值和红色值分别着色
func (a *Annotation) Dump(w io.Writer) {
	color := func(v *flowgraph.Var) string {
		s := fmt.Sprintf("%s: %s", v.Name, a.Binding(v))
		if a.IsGreen(v) {
			return errors.Green(s)
		}
		return errors.Red(s)
	}

	fmt.Fprintf(w, "graph %s (%d iterations)\n", a.Graph.Name, a.Iterations)
	for _, b := range a.Graph.Blocks {
		if !a.Reached(b) {
			fmt.Fprintf(w, "  %s: unreachable\n", b.Name)
			continue
		}
		inputs := make([]string, len(b.InputArgs))
		for i, v := range b.InputArgs {
			inputs[i] = color(v)
		}
		fmt.Fprintf(w, "  %s(%s)\n", b.Name, strings.Join(inputs, ", "))
		for i, op := range b.Ops {
			line := op.String()
			if op.Result != nil {
				line = color(op.Result) + " <- " + line
			}
			if op.Name == "malloc" && a.IsVirtual(b, i) {
				line += " [virtual]"
			}
			fmt.Fprintf(w, "    %s\n", line)
		}
	}
}
