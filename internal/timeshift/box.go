// Package timeshift 把标注过的源图特化为残余程序
//
// 特化器按源图逐块执行，每个变量对应一个运行时盒子：
//
//	ConstantBox  特化时已知的常量
//	VariableBox  残余代码中的运行时值
//	VirtualBox   尚未分配的聚合对象，字段内容保存在盒子里
//
// 盒子只通过 rgenop.Backend 生成代码。控制流汇合点上的状态由合并逻辑
// 决定保持特化还是泛化为运行时变量。
package timeshift

import (
	"fmt"
	"strings"

	"github.com/tangzhangming/timeshift/internal/container"
	"github.com/tangzhangming/timeshift/internal/flowgraph"
	"github.com/tangzhangming/timeshift/internal/rgenop"
)

// ============================================================================
// 盒子
// ============================================================================

// Box 运行时盒子：*ConstantBox、*VariableBox 或 *VirtualBox
type Box interface {
	Type() *flowgraph.Type
	String() string
	isBox()
}

// ConstantBox 已知常量
type ConstantBox struct {
	Value  flowgraph.Value
	genvar rgenop.GenVar
}

// VariableBox 运行时值
type VariableBox struct {
	typ    *flowgraph.Type
	GenVar rgenop.GenVar
}

// VirtualBox 虚拟聚合对象
//
// 强制之前独占 Content；强制之后 Content 为 nil，只剩 genvar。
// 嵌套子结构的盒子通过 parent 指向外层盒子。
type VirtualBox struct {
	Desc    *container.Descriptor
	Content []Box
	genvar  rgenop.GenVar

	parent      *VirtualBox
	parentField int
}

func (*ConstantBox) isBox() {}
func (*VariableBox) isBox() {}
func (*VirtualBox) isBox()  {}

// NewConstant 常量盒子
func NewConstant(v flowgraph.Value) *ConstantBox {
	return &ConstantBox{Value: v}
}

// NewVariable 运行时值盒子
func NewVariable(t *flowgraph.Type, gv rgenop.GenVar) *VariableBox {
	return &VariableBox{typ: t, GenVar: gv}
}

// NewVirtual 虚拟对象；标量字段初始为零值常量，子结构是带 parent 的虚拟盒子
func NewVirtual(desc *container.Descriptor) *VirtualBox {
	return newVirtual(desc, nil, 0)
}

func newVirtual(desc *container.Descriptor, parent *VirtualBox, field int) *VirtualBox {
	vb := &VirtualBox{Desc: desc, parent: parent, parentField: field}
	vb.Content = make([]Box, desc.NumSlots())
	for i := range vb.Content {
		if desc.Kind != container.Array && desc.Fields[i].IsNested() {
			vb.Content[i] = newVirtual(desc.Fields[i].Nested, vb, i)
			continue
		}
		vb.Content[i] = NewConstant(flowgraph.Zero(desc.SlotType(i)))
	}
	return vb
}

func (b *ConstantBox) Type() *flowgraph.Type { return b.Value.Type }
func (b *VariableBox) Type() *flowgraph.Type { return b.typ }
func (b *VirtualBox) Type() *flowgraph.Type  { return b.Desc.PtrType() }

// IsVirtual 是否尚未强制
func (b *VirtualBox) IsVirtual() bool {
	return b.genvar == nil
}

// Root 最外层盒子
func (b *VirtualBox) Root() *VirtualBox {
	for b.parent != nil {
		b = b.parent
	}
	return b
}

// SameConstant 两个盒子是否是同一常量（类型相同且值相等）
func SameConstant(a, b Box) bool {
	ca, ok1 := a.(*ConstantBox)
	cb, ok2 := b.(*ConstantBox)
	return ok1 && ok2 && ca.Value.Type == cb.Value.Type && ca.Value.Equal(cb.Value)
}

func (b *ConstantBox) String() string {
	return "const " + b.Value.String()
}

func (b *VariableBox) String() string {
	return fmt.Sprintf("var %s", b.GenVar)
}

func (b *VirtualBox) String() string {
	if !b.IsVirtual() {
		return fmt.Sprintf("forced %s %s", b.Desc.Type.Name, b.genvar)
	}
	parts := make([]string, len(b.Content))
	for i, c := range b.Content {
		if _, ok := c.(*VirtualBox); ok {
			parts[i] = "{...}"
		} else {
			parts[i] = c.String()
		}
	}
	return fmt.Sprintf("virtual %s{%s}", b.Desc.Type.Name, strings.Join(parts, ", "))
}

// ============================================================================
// 复制
// ============================================================================

// cloner 深复制虚拟盒子并保持共享关系；常量和运行时值不可变，直接共享
type cloner struct {
	memo map[*VirtualBox]*VirtualBox
}

func newCloner() *cloner {
	return &cloner{memo: make(map[*VirtualBox]*VirtualBox)}
}

func (c *cloner) clone(b Box) Box {
	vb, ok := b.(*VirtualBox)
	if !ok || !vb.IsVirtual() {
		return b
	}
	return c.cloneVirtual(vb)
}

func (c *cloner) cloneVirtual(vb *VirtualBox) *VirtualBox {
	if nb, ok := c.memo[vb]; ok {
		return nb
	}
	if vb.parent != nil {
		np := c.cloneVirtual(vb.parent)
		return np.Content[vb.parentField].(*VirtualBox)
	}
	nb := &VirtualBox{Desc: vb.Desc}
	c.memo[vb] = nb
	c.fill(vb, nb)
	return nb
}

// fill 复制内容；子结构在这里随外层一起复制
func (c *cloner) fill(src, dst *VirtualBox) {
	dst.Content = make([]Box, len(src.Content))
	for i, item := range src.Content {
		child, ok := item.(*VirtualBox)
		if ok && child.parent == src {
			nc := &VirtualBox{Desc: child.Desc, parent: dst, parentField: i}
			c.memo[child] = nc
			c.fill(child, nc)
			dst.Content[i] = nc
			continue
		}
		dst.Content[i] = c.clone(item)
	}
}

// cloneAll 用同一份 memo 复制一组盒子
func cloneAll(boxes []Box) []Box {
	c := newCloner()
	out := make([]Box, len(boxes))
	for i, b := range boxes {
		out[i] = c.clone(b)
	}
	return out
}
