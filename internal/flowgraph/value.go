package flowgraph

import (
	"fmt"
	"strconv"
)

// ============================================================================
// 常量值
// ============================================================================

// Value 某个静态类型的值
//
// 图中的常量和解释器中的运行时值共用这个表示。指针值要么为空，
// 要么指向一个 Object（只在解释执行时出现）。
type Value struct {
	Type *Type
	I    int64
	F    float64
	S    string
	B    bool
	Obj  *Object // 指针目标；nil 表示空指针
}

// IntValue 创建整数值
func IntValue(i int64) Value { return Value{Type: Int, I: i} }

// BoolValue 创建布尔值
func BoolValue(b bool) Value { return Value{Type: Bool, B: b} }

// FloatValue 创建浮点值
func FloatValue(f float64) Value { return Value{Type: Float, F: f} }

// StringValue 创建字符串值
func StringValue(s string) Value { return Value{Type: String, S: s} }

// NullValue 创建空指针
func NullValue(t *Type) Value { return Value{Type: t} }

// VoidValue 无返回值
var VoidValue = Value{Type: Void}

// Zero 返回类型的零值
func Zero(t *Type) Value {
	return Value{Type: t}
}

// IsNull 是否是空指针
func (v Value) IsNull() bool {
	return v.Type != nil && v.Type.Kind == KindPtr && v.Obj == nil
}

// Truth 布尔语义
func (v Value) Truth() bool {
	switch v.Type.Kind {
	case KindBool:
		return v.B
	case KindInt:
		return v.I != 0
	case KindFloat:
		return v.F != 0
	case KindString:
		return v.S != ""
	case KindPtr:
		return v.Obj != nil
	default:
		return false
	}
}

// Equal 判断两个值是否是"同一个常量"：类型身份相同且内容相同
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	if v.Type == nil {
		return true
	}
	switch v.Type.Kind {
	case KindVoid:
		return true
	case KindBool:
		return v.B == o.B
	case KindInt:
		return v.I == o.I
	case KindFloat:
		return v.F == o.F
	case KindString:
		return v.S == o.S
	case KindPtr:
		return v.Obj == o.Obj
	default:
		return v.Obj == o.Obj
	}
}

func (v Value) String() string {
	if v.Type == nil {
		return "<invalid>"
	}
	switch v.Type.Kind {
	case KindVoid:
		return "void"
	case KindBool:
		return strconv.FormatBool(v.B)
	case KindInt:
		return strconv.FormatInt(v.I, 10)
	case KindFloat:
		return strconv.FormatFloat(v.F, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.S)
	case KindPtr:
		if v.Obj == nil {
			return "null"
		}
		return fmt.Sprintf("<%s@%p>", v.Type.Elem.Name, v.Obj)
	default:
		return fmt.Sprintf("<%s>", v.Type.Name)
	}
}

// ============================================================================
// 解释执行用的堆对象
// ============================================================================

// Object 聚合类型的一个实例
//
// 嵌套的聚合字段内联存放：Fields[i].Obj 指向子对象，Parent 回指外层。
type Object struct {
	Type   *Type
	Fields []Value // struct/union 的字段，array 的元素
	Parent *Object
}

// NewObject 分配并零初始化一个聚合对象
func NewObject(t *Type) *Object {
	obj := &Object{Type: t}
	switch t.Kind {
	case KindStruct, KindUnion:
		obj.Fields = make([]Value, len(t.Fields))
		for i, f := range t.Fields {
			obj.Fields[i] = obj.initSlot(f.Type)
		}
	case KindArray:
		obj.Fields = make([]Value, t.Len)
		for i := range obj.Fields {
			obj.Fields[i] = obj.initSlot(t.Elem)
		}
	}
	return obj
}

func (o *Object) initSlot(t *Type) Value {
	if t.IsAggregate() {
		sub := NewObject(t)
		sub.Parent = o
		return Value{Type: t, Obj: sub}
	}
	return Zero(t)
}
