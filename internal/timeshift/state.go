package timeshift

import (
	"fmt"
	"strings"

	"github.com/tangzhangming/timeshift/internal/errors"
	"github.com/tangzhangming/timeshift/internal/flowgraph"
	"github.com/tangzhangming/timeshift/internal/origin"
	"github.com/tangzhangming/timeshift/internal/rgenop"
)

// ============================================================================
// 合并键与记录的状态
// ============================================================================

// MergeKey 汇合点的键：源位置加上绿色值
type MergeKey struct {
	Pos    origin.PositionKey
	Greens string
}

func greensKey(values []flowgraph.Value) string {
	parts := make([]string, len(values))
	for i, v := range values {
		if v.Type.Kind == flowgraph.KindPtr {
			parts[i] = fmt.Sprintf("%s:%p", v.Type, v.Obj)
			continue
		}
		parts[i] = fmt.Sprintf("%s:%s", v.Type, v)
	}
	return strings.Join(parts, "|")
}

// mergeState 汇合点上记录的红色盒子和对应的残余块
//
// inputs 是 boxes 中运行时值盒子，顺序与残余块的输入参数一致。
// 记录后的盒子不再被修改。
type mergeState struct {
	boxes  []Box
	inputs []*VariableBox
	block  rgenop.Block
}

// ============================================================================
// 精确匹配
// ============================================================================

// matcher 判断进入的盒子能否直接跳入记录的块
//
// 记录的运行时值匹配任何盒子；常量要求同一常量；虚拟对象要求同一描述符
// 且共享关系一致。
type matcher struct {
	vars   map[*VariableBox]Box
	fwd    map[*VirtualBox]*VirtualBox
	back   map[*VirtualBox]*VirtualBox
	forced map[*VirtualBox]bool // 绑定到记录的运行时值、跳转时要强制的对象
}

func newMatcher() *matcher {
	return &matcher{
		vars:   make(map[*VariableBox]Box),
		fwd:    make(map[*VirtualBox]*VirtualBox),
		back:   make(map[*VirtualBox]*VirtualBox),
		forced: make(map[*VirtualBox]bool),
	}
}

func (m *matcher) match(old, in Box) (bool, error) {
	if old.Type() != in.Type() {
		return false, errors.NewInternal(errors.I0003, "incompatible shapes at merge: %s vs %s", old.Type(), in.Type())
	}
	switch o := old.(type) {
	case *ConstantBox:
		return SameConstant(o, in), nil
	case *VariableBox:
		if prev, ok := m.vars[o]; ok {
			return prev == in, nil
		}
		if iv, ok := in.(*VirtualBox); ok && iv.IsVirtual() {
			if _, shared := m.back[iv]; shared {
				return false, nil
			}
			m.forced[iv.Root()] = true
		}
		m.vars[o] = in
		return true, nil
	case *VirtualBox:
		iv, ok := in.(*VirtualBox)
		if !ok || !iv.IsVirtual() || iv.Desc != o.Desc || m.forced[iv.Root()] {
			return false, nil
		}
		if prev, ok := m.fwd[o]; ok {
			return prev == iv, nil
		}
		if prev, ok := m.back[iv]; ok && prev != o {
			return false, nil
		}
		m.fwd[o] = iv
		m.back[iv] = o

		if (o.parent == nil) != (iv.parent == nil) {
			return false, nil
		}
		if o.parent != nil {
			if o.parentField != iv.parentField {
				return false, nil
			}
			if ok, err := m.match(o.parent, iv.parent); !ok || err != nil {
				return false, err
			}
		}
		for i := range o.Content {
			if ok, err := m.match(o.Content[i], iv.Content[i]); !ok || err != nil {
				return false, err
			}
		}
		return true, nil
	}
	return false, errors.NewInternal(errors.I0003, "unknown box %T", old)
}

// ============================================================================
// 泛化
// ============================================================================

// generalizer 由记录状态和进入状态构造新状态
//
// 两边一致的常量保持常量，两边都是同形虚拟对象的递归处理，其余位置
// 变成新块的输入参数，链接实参是进入盒子强制后的值。old 为 nil 时只把
// 运行时值换成新块的输入参数。
type generalizer struct {
	s         *Specializer
	block     rgenop.Block
	mustForce map[*VirtualBox]bool
	memo      map[Box]Box
	inputs    []*VariableBox
	args      []rgenop.GenVar
}

func newGeneralizer(s *Specializer, block rgenop.Block) *generalizer {
	return &generalizer{
		s:         s,
		block:     block,
		mustForce: make(map[*VirtualBox]bool),
		memo:      make(map[Box]Box),
	}
}

// markForced 找出必须强制的进入虚拟对象，直到不再变化
//
// 与记录状态形状不同或共享关系不一致的虚拟对象必须强制；强制总是作用于
// 最外层对象。
func (g *generalizer) markForced(olds, ins []Box) {
	for {
		changed := false
		fwd := make(map[*VirtualBox]*VirtualBox)
		back := make(map[*VirtualBox]Box)

		var walk func(old, in Box)
		walk = func(old, in Box) {
			iv, ok := in.(*VirtualBox)
			if !ok || !iv.IsVirtual() || g.mustForce[iv.Root()] {
				return
			}
			ov, ok := old.(*VirtualBox)
			conflict := !ok || !ov.IsVirtual() || ov.Desc != iv.Desc ||
				(ov.parent == nil) != (iv.parent == nil) ||
				(ov.parent != nil && ov.parentField != iv.parentField)
			if !conflict {
				if prev, seen := back[iv]; seen {
					conflict = prev != Box(ov)
				} else if prev, seen := fwd[ov]; seen && prev != iv {
					conflict = true
				}
			}
			if conflict {
				g.mustForce[iv.Root()] = true
				changed = true
				return
			}
			if _, seen := back[iv]; seen {
				return
			}
			back[iv] = ov
			fwd[ov] = iv
			if iv.parent != nil {
				walk(ov.parent, iv.parent)
			}
			for i := range iv.Content {
				walk(ov.Content[i], iv.Content[i])
			}
		}
		for i := range ins {
			walk(olds[i], ins[i])
		}
		if !changed {
			return
		}
	}
}

func (g *generalizer) gen(old, in Box) (Box, error) {
	if prev, ok := g.memo[in]; ok {
		return prev, nil
	}

	switch b := in.(type) {
	case *ConstantBox:
		if old == nil || SameConstant(old, b) {
			return b, nil
		}
		return g.variable(in)
	case *VariableBox:
		return g.variable(in)
	case *VirtualBox:
		if !b.IsVirtual() || g.mustForce[b.Root()] {
			return g.variable(in)
		}
		var ov *VirtualBox
		if old != nil {
			o, ok := old.(*VirtualBox)
			if !ok || !o.IsVirtual() || o.Desc != b.Desc {
				return g.variable(in)
			}
			ov = o
		}
		if b.parent != nil {
			var op Box
			if ov != nil {
				op = ov.parent
			}
			np, err := g.gen(op, b.parent)
			if err != nil {
				return nil, err
			}
			parent, ok := np.(*VirtualBox)
			if !ok {
				return nil, errors.NewInternal(errors.I0003, "substructure %s lost its parent", b.Desc)
			}
			return parent.Content[b.parentField], nil
		}
		nb := &VirtualBox{Desc: b.Desc}
		g.memo[in] = nb
		return nb, g.fill(ov, b, nb)
	}
	return nil, errors.NewInternal(errors.I0003, "unknown box %T", in)
}

func (g *generalizer) fill(old, in, dst *VirtualBox) error {
	dst.Content = make([]Box, len(in.Content))
	for i, item := range in.Content {
		var oldItem Box
		if old != nil {
			oldItem = old.Content[i]
		}
		child, ok := item.(*VirtualBox)
		if ok && child.parent == in {
			var oldChild *VirtualBox
			if oc, ok := oldItem.(*VirtualBox); ok {
				oldChild = oc
			}
			nc := &VirtualBox{Desc: child.Desc, parent: dst, parentField: i}
			g.memo[child] = nc
			if err := g.fill(oldChild, child, nc); err != nil {
				return err
			}
			dst.Content[i] = nc
			continue
		}
		nb, err := g.gen(oldItem, item)
		if err != nil {
			return err
		}
		dst.Content[i] = nb
	}
	return nil
}

// variable 新块的一个输入参数；进入盒子在当前块强制后作为链接实参
func (g *generalizer) variable(in Box) (Box, error) {
	gv, err := g.s.Force(in)
	if err != nil {
		return nil, err
	}
	nv := NewVariable(in.Type(), g.s.backend.GenInputArg(g.block, in.Type()))
	g.inputs = append(g.inputs, nv)
	g.args = append(g.args, gv)
	g.memo[in] = nv
	return nv, nil
}

// build 生成整组盒子的新状态
func (g *generalizer) build(olds, ins []Box) ([]Box, error) {
	if olds != nil {
		g.markForced(olds, ins)
	}
	out := make([]Box, len(ins))
	for i, in := range ins {
		var old Box
		if olds != nil {
			old = olds[i]
		}
		nb, err := g.gen(old, in)
		if err != nil {
			return nil, err
		}
		out[i] = nb
	}
	return out, nil
}
