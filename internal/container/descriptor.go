// Package container 提供聚合类型的静态描述符
//
// 描述符按类型身份缓存，创建后不再修改，分析器和特化器共用。
package container

import (
	"fmt"
	"sync"

	"github.com/tangzhangming/timeshift/internal/flowgraph"
)

// Kind 聚合种类
type Kind int

const (
	Struct Kind = iota
	Union
	Array
)

func (k Kind) String() string {
	switch k {
	case Struct:
		return "struct"
	case Union:
		return "union"
	case Array:
		return "array"
	default:
		return "unknown"
	}
}

// FieldDesc 字段描述
type FieldDesc struct {
	Name   string
	Index  int
	Type   *flowgraph.Type
	Nested *Descriptor // 内联子结构的描述符；标量字段为 nil
}

// IsNested 字段是否是内联子结构
func (f *FieldDesc) IsNested() bool {
	return f.Nested != nil
}

// Descriptor 聚合类型描述符
type Descriptor struct {
	Type   *flowgraph.Type
	Kind   Kind
	Fields []*FieldDesc // struct/union
	Item   *FieldDesc   // array 的统一元素
	Length int          // array 长度
}

var cache sync.Map // map[*flowgraph.Type]*Descriptor

// Describe 返回聚合类型的描述符；非聚合类型返回 nil
func Describe(t *flowgraph.Type) *Descriptor {
	if t == nil || !t.IsAggregate() {
		return nil
	}
	if d, ok := cache.Load(t); ok {
		return d.(*Descriptor)
	}

	d := build(t)
	actual, _ := cache.LoadOrStore(t, d)
	return actual.(*Descriptor)
}

func build(t *flowgraph.Type) *Descriptor {
	d := &Descriptor{Type: t}
	switch t.Kind {
	case flowgraph.KindStruct, flowgraph.KindUnion:
		d.Kind = Struct
		if t.Kind == flowgraph.KindUnion {
			d.Kind = Union
		}
		d.Fields = make([]*FieldDesc, len(t.Fields))
		for i, f := range t.Fields {
			d.Fields[i] = &FieldDesc{Name: f.Name, Index: i, Type: f.Type, Nested: Describe(f.Type)}
		}
	case flowgraph.KindArray:
		d.Kind = Array
		d.Length = t.Len
		d.Item = &FieldDesc{Name: "item", Type: t.Elem, Nested: Describe(t.Elem)}
	}
	return d
}

// Field 按名称查找字段
func (d *Descriptor) Field(name string) (*FieldDesc, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// FieldIndex 字段下标，不存在时返回 -1
func (d *Descriptor) FieldIndex(name string) int {
	if f, ok := d.Field(name); ok {
		return f.Index
	}
	return -1
}

// PtrType 指向该聚合的指针类型
func (d *Descriptor) PtrType() *flowgraph.Type {
	return flowgraph.PtrTo(d.Type)
}

// NumSlots 内容槽数量：struct/union 为字段数，array 为长度
func (d *Descriptor) NumSlots() int {
	if d.Kind == Array {
		return d.Length
	}
	return len(d.Fields)
}

// SlotType 第 i 个内容槽的类型
func (d *Descriptor) SlotType(i int) *flowgraph.Type {
	if d.Kind == Array {
		return d.Item.Type
	}
	return d.Fields[i].Type
}

func (d *Descriptor) String() string {
	return fmt.Sprintf("%s %s", d.Kind, d.Type.Name)
}
