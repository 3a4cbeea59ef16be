// Package hint 实现绑定时间分析
//
// 分析在源图上做迭代数据流，给每个变量一个绑定时间值：
//
//	Constant   编译期常量候选，带来源集合；来源全部固定后才是绿色
//	Concrete   已提交为编译期常量（绿色）
//	Variable   运行时值（红色）
//	Container  指向虚拟聚合实例的指针；实例退化后等同 Variable
//
// 结果由特化器使用：绿色变量进入合并键，红色变量装箱。
package hint

import (
	"fmt"
	"strings"

	"github.com/tangzhangming/timeshift/internal/errors"
	"github.com/tangzhangming/timeshift/internal/flowgraph"
	"github.com/tangzhangming/timeshift/internal/origin"
)

// ============================================================================
// 绑定时间值
// ============================================================================

// Kind 绑定时间种类
type Kind int

const (
	KindInvalid Kind = iota
	KindConstant
	KindConcrete
	KindVariable
	KindContainer
)

func (k Kind) String() string {
	switch k {
	case KindConstant:
		return "const"
	case KindConcrete:
		return "concrete"
	case KindVariable:
		return "var"
	case KindContainer:
		return "virtual"
	default:
		return "invalid"
	}
}

// Value 绑定时间值（不可变）
type Value struct {
	Kind     Kind
	Type     *flowgraph.Type
	Known    flowgraph.Value // 分析期已知的常量值
	HasKnown bool
	Origins  []*origin.Node // 按 ID 排序
	box      *VirtualContainer
}

// Constant 抽象常量
func Constant(t *flowgraph.Type, origins ...*origin.Node) Value {
	nodes := append([]*origin.Node(nil), origins...)
	origin.SortNodes(nodes)
	return Value{Kind: KindConstant, Type: t, Origins: nodes}
}

// KnownConstant 已知值的抽象常量
func KnownConstant(v flowgraph.Value, origins ...*origin.Node) Value {
	c := Constant(v.Type, origins...)
	c.Known = v
	c.HasKnown = true
	return c
}

// Concrete 具体值
func Concrete(t *flowgraph.Type) Value {
	return Value{Kind: KindConcrete, Type: t}
}

// Variable 运行时变量
func Variable(t *flowgraph.Type) Value {
	return Value{Kind: KindVariable, Type: t}
}

// ContainerValue 指向虚拟实例的指针
func ContainerValue(vc *VirtualContainer) Value {
	return Value{Kind: KindContainer, Type: vc.Desc.PtrType(), box: vc}
}

// IsValid 是否已赋值
func (v Value) IsValid() bool {
	return v.Kind != KindInvalid
}

// Container 指向的实例代表；不是容器或已退化时返回 nil
func (v Value) Container() *VirtualContainer {
	if v.Kind != KindContainer {
		return nil
	}
	rep := v.box.find()
	if rep.degenerated {
		return nil
	}
	return rep
}

// Resolve 退化实例的指针视为 Variable，其余原样返回
func (v Value) Resolve() Value {
	if v.Kind == KindContainer && v.Container() == nil {
		return Variable(v.Type)
	}
	if v.Kind == KindContainer {
		return ContainerValue(v.box.find())
	}
	return v
}

// IsGreen 是否是编译期值：Concrete，或来源全部固定的 Constant
func (v Value) IsGreen() bool {
	switch v.Kind {
	case KindConcrete:
		return true
	case KindConstant:
		return origin.AllFixed(v.Origins)
	}
	return false
}

// Equal 两个值是否相同（容器按代表比较）
func Equal(a, b Value) bool {
	a, b = a.Resolve(), b.Resolve()
	if a.Kind != b.Kind || a.Type != b.Type {
		return false
	}
	switch a.Kind {
	case KindConstant:
		if a.HasKnown != b.HasKnown || (a.HasKnown && !a.Known.Equal(b.Known)) {
			return false
		}
		return origin.SameSet(a.Origins, b.Origins)
	case KindContainer:
		return a.box == b.box
	}
	return true
}

func (v Value) String() string {
	v = v.Resolve()
	switch v.Kind {
	case KindConstant:
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("const(%s)", v.Type))
		if v.HasKnown {
			sb.WriteString("=" + v.Known.String())
		}
		if len(v.Origins) > 0 {
			ids := make([]string, len(v.Origins))
			for i, n := range v.Origins {
				ids[i] = fmt.Sprintf("o%d", n.ID)
				if n.Fixed {
					ids[i] += "!"
				}
			}
			sb.WriteString("{" + strings.Join(ids, ",") + "}")
		}
		return sb.String()
	case KindContainer:
		return fmt.Sprintf("virtual(%s@%s)", v.box.Desc.Type.Name, v.box.Pos)
	case KindInvalid:
		return "<unset>"
	}
	return fmt.Sprintf("%s(%s)", v.Kind, v.Type)
}

// ============================================================================
// 合并
// ============================================================================

// Join 格上的合并
//
//   - 不同静态类型：标量是内部错误；涉及容器时两侧退化并返回合并不兼容
//   - 容器与容器：实例合并
//   - 容器与非容器：容器退化，再按 Variable 参与合并
//   - Concrete 吸收一切，其次是 Variable
//   - Constant 与 Constant：来源取并集，已知值相同才保留
func Join(a, b Value) (Value, error) {
	if !a.IsValid() {
		return b.Resolve(), nil
	}
	if !b.IsValid() {
		return a.Resolve(), nil
	}
	a, b = a.Resolve(), b.Resolve()

	if a.Type != b.Type {
		if a.Kind == KindContainer || b.Kind == KindContainer {
			degenerate(a)
			degenerate(b)
			return Variable(a.Type), errors.NewMergeIncompatibility("cannot merge %s with %s", a.Type, b.Type)
		}
		return Value{}, errors.NewInternal(errors.I0006, "cannot merge %s with %s", a.Type, b.Type)
	}

	if a.Kind == KindContainer && b.Kind == KindContainer {
		if err := a.box.Union(b.box); err != nil {
			return Variable(a.Type), err
		}
		return a.Resolve(), nil
	}
	if a.Kind == KindContainer {
		degenerate(a)
		a = Variable(a.Type)
	}
	if b.Kind == KindContainer {
		degenerate(b)
		b = Variable(b.Type)
	}

	switch {
	case a.Kind == KindConcrete || b.Kind == KindConcrete:
		return Concrete(a.Type), nil
	case a.Kind == KindVariable || b.Kind == KindVariable:
		return Variable(a.Type), nil
	}

	c := Constant(a.Type)
	c.Origins = origin.Union(a.Origins, b.Origins)
	if a.HasKnown && b.HasKnown && a.Known.Equal(b.Known) {
		c.Known = a.Known
		c.HasKnown = true
	}
	return c, nil
}

func degenerate(v Value) {
	if vc := v.Container(); vc != nil {
		vc.MarkDegenerated()
	}
}
