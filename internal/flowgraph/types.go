// Package flowgraph 定义特化器的输入：带类型的控制流图
//
// 图由基本块组成，每个块有一组输入参数、一串操作和 0/1/2 个出口链接。
// 链接携带的实参与目标块的输入参数一一对应（块参数形式的 SSA）。
package flowgraph

import (
	"fmt"
	"strings"
	"sync"
)

// ============================================================================
// 静态类型
// ============================================================================

// TypeKind 类型种类
type TypeKind int

const (
	KindVoid TypeKind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindPtr
	KindStruct
	KindUnion
	KindArray
)

func (k TypeKind) String() string {
	switch k {
	case KindVoid:
		return "void"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindPtr:
		return "ptr"
	case KindStruct:
		return "struct"
	case KindUnion:
		return "union"
	case KindArray:
		return "array"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Field 聚合类型的字段
type Field struct {
	Name string
	Type *Type
}

// Type 静态类型
//
// 类型的身份就是 *Type 指针本身：基本类型是单例，指针类型经 PtrTo 缓存。
type Type struct {
	Kind   TypeKind
	Name   string
	Fields []Field // struct / union
	Elem   *Type   // ptr 的目标类型，array 的元素类型
	Len    int     // array 长度
}

// 基本类型单例
var (
	Void   = &Type{Kind: KindVoid, Name: "void"}
	Bool   = &Type{Kind: KindBool, Name: "bool"}
	Int    = &Type{Kind: KindInt, Name: "int"}
	Float  = &Type{Kind: KindFloat, Name: "float"}
	String = &Type{Kind: KindString, Name: "string"}
)

var ptrCache sync.Map // map[*Type]*Type

// PtrTo 返回指向 t 的指针类型（同一个 t 总是得到同一个指针类型）
func PtrTo(t *Type) *Type {
	if p, ok := ptrCache.Load(t); ok {
		return p.(*Type)
	}
	p, _ := ptrCache.LoadOrStore(t, &Type{Kind: KindPtr, Name: "*" + t.Name, Elem: t})
	return p.(*Type)
}

// NewStruct 创建结构体类型
func NewStruct(name string, fields ...Field) *Type {
	return &Type{Kind: KindStruct, Name: name, Fields: fields}
}

// NewUnion 创建联合体类型
func NewUnion(name string, fields ...Field) *Type {
	return &Type{Kind: KindUnion, Name: name, Fields: fields}
}

// NewArray 创建定长数组类型
func NewArray(elem *Type, length int) *Type {
	return &Type{
		Kind: KindArray,
		Name: fmt.Sprintf("%s[%d]", elem.Name, length),
		Elem: elem,
		Len:  length,
	}
}

// IsAggregate 是否是聚合类型（struct/union/array）
func (t *Type) IsAggregate() bool {
	switch t.Kind {
	case KindStruct, KindUnion, KindArray:
		return true
	default:
		return false
	}
}

// IsPtrToAggregate 是否是指向聚合类型的指针
func (t *Type) IsPtrToAggregate() bool {
	return t.Kind == KindPtr && t.Elem.IsAggregate()
}

// FieldIndex 查找字段下标，不存在返回 -1
func (t *Type) FieldIndex(name string) int {
	for i, f := range t.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// FieldType 返回字段类型，不存在返回 nil
func (t *Type) FieldType(name string) *Type {
	if i := t.FieldIndex(name); i >= 0 {
		return t.Fields[i].Type
	}
	return nil
}

func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	return t.Name
}

// Describe 返回带字段的完整描述（用于打印类型定义）
func (t *Type) Describe() string {
	switch t.Kind {
	case KindStruct, KindUnion:
		parts := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			parts[i] = f.Name + ": " + f.Type.Name
		}
		return fmt.Sprintf("%s %s{%s}", t.Kind, t.Name, strings.Join(parts, ", "))
	default:
		return t.Name
	}
}
