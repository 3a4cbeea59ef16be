package ssaconv

import (
	"sort"

	"golang.org/x/tools/go/ssa"
)

// ============================================================================
// 块间活跃性
// ============================================================================
//
// 源 SSA 的值可以在支配块中定义、在后继块中使用；flowgraph 要求每个块只用
// 自己的输入参数和操作结果。活跃性分析给出每个块需要由链接传入的值。
//
//	liveIn(b)  = uses(b) ∪ (liveOut(b) − defs(b))
//	liveOut(b) = ∪ 后继 s: liveIn(s) ∪ s 中 phi 在 b 这条边上的操作数

type liveness struct {
	order  map[ssa.Value]int // 定义顺序，用于稳定排序
	liveIn map[*ssa.BasicBlock][]ssa.Value
}

// operands 把 v 归结为需要跨块传递的值：标量字段和数组元素的地址
// 在读写处展开，所以传递的是它们的基址和下标；常量和函数不参与
func operands(v ssa.Value, out []ssa.Value) []ssa.Value {
	switch x := v.(type) {
	case nil, *ssa.Const, *ssa.Function, *ssa.Global, *ssa.Builtin:
		return out
	case *ssa.FieldAddr:
		if isAggregate(fieldType(x)) {
			return append(out, v)
		}
		return operands(x.X, out)
	case *ssa.IndexAddr:
		return operands(x.Index, operands(x.X, out))
	}
	return append(out, v)
}

func computeLiveness(fn *ssa.Function) *liveness {
	lv := &liveness{
		order:  make(map[ssa.Value]int),
		liveIn: make(map[*ssa.BasicBlock][]ssa.Value),
	}
	for _, p := range fn.Params {
		lv.order[p] = len(lv.order)
	}

	defs := make(map[*ssa.BasicBlock]map[ssa.Value]bool)
	uses := make(map[*ssa.BasicBlock]map[ssa.Value]bool)
	for _, b := range fn.Blocks {
		d := make(map[ssa.Value]bool)
		u := make(map[ssa.Value]bool)
		if b == fn.Blocks[0] {
			for _, p := range fn.Params {
				d[p] = true
			}
		}
		var rands []*ssa.Value
		for _, instr := range b.Instrs {
			if v, ok := instr.(ssa.Value); ok {
				lv.order[v] = len(lv.order)
				d[v] = true
			}
			if _, ok := instr.(*ssa.Phi); ok {
				continue
			}
			rands = instr.Operands(rands[:0])
			for _, r := range rands {
				for _, v := range operands(*r, nil) {
					if !d[v] {
						u[v] = true
					}
				}
			}
		}
		defs[b] = d
		uses[b] = u
	}

	in := make(map[*ssa.BasicBlock]map[ssa.Value]bool)
	for _, b := range fn.Blocks {
		in[b] = make(map[ssa.Value]bool)
	}

	for changed := true; changed; {
		changed = false
		for i := len(fn.Blocks) - 1; i >= 0; i-- {
			b := fn.Blocks[i]
			out := make(map[ssa.Value]bool)
			for _, s := range b.Succs {
				for v := range in[s] {
					out[v] = true
				}
				for _, v := range phiOperands(s, b) {
					out[v] = true
				}
			}

			live := in[b]
			add := func(v ssa.Value) {
				if !live[v] {
					live[v] = true
					changed = true
				}
			}
			for v := range uses[b] {
				add(v)
			}
			for v := range out {
				if !defs[b][v] {
					add(v)
				}
			}
		}
	}

	for b, set := range in {
		values := make([]ssa.Value, 0, len(set))
		for v := range set {
			values = append(values, v)
		}
		sort.Slice(values, func(i, j int) bool { return lv.order[values[i]] < lv.order[values[j]] })
		lv.liveIn[b] = values
	}
	return lv
}

// phiOperands s 中的 phi 在来自 pred 的边上使用的值
func phiOperands(s, pred *ssa.BasicBlock) []ssa.Value {
	edge := predIndex(s, pred)
	var out []ssa.Value
	for _, instr := range s.Instrs {
		phi, ok := instr.(*ssa.Phi)
		if !ok {
			break
		}
		out = operands(phi.Edges[edge], out)
	}
	return out
}

func predIndex(s, pred *ssa.BasicBlock) int {
	for i, p := range s.Preds {
		if p == pred {
			return i
		}
	}
	return -1
}
