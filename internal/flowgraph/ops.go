package flowgraph

import (
	"fmt"
	"math"
	"sort"
)

// ============================================================================
// 操作码表
// ============================================================================

// OpClass 操作码分类
type OpClass int

const (
	ClassPure      OpClass = iota // 无副作用、可折叠
	ClassIdentity                 // same_as / hint_*
	ClassConst                    // const
	ClassMemory                   // malloc / 字段 / 数组
)

// OpInfo 操作码元信息
type OpInfo struct {
	Name    string
	Arity   int
	Class   OpClass
	Operand TypeKind // 纯操作的操作数种类
	Result  *Type    // 纯操作的结果类型；nil 表示由操作数推导
}

var opTable = map[string]*OpInfo{}

func defOp(name string, arity int, class OpClass, operand TypeKind, result *Type) {
	opTable[name] = &OpInfo{Name: name, Arity: arity, Class: class, Operand: operand, Result: result}
}

func init() {
	// 整数运算
	for _, name := range []string{
		"int_add", "int_sub", "int_mul", "int_floordiv", "int_mod",
		"int_and", "int_or", "int_xor", "int_lshift", "int_rshift",
	} {
		defOp(name, 2, ClassPure, KindInt, Int)
	}
	defOp("int_neg", 1, ClassPure, KindInt, Int)
	for _, name := range []string{"int_lt", "int_le", "int_eq", "int_ne", "int_gt", "int_ge"} {
		defOp(name, 2, ClassPure, KindInt, Bool)
	}
	defOp("int_is_true", 1, ClassPure, KindInt, Bool)

	// 布尔运算
	defOp("bool_not", 1, ClassPure, KindBool, Bool)

	// 浮点运算
	for _, name := range []string{"float_add", "float_sub", "float_mul", "float_truediv"} {
		defOp(name, 2, ClassPure, KindFloat, Float)
	}
	defOp("float_lt", 2, ClassPure, KindFloat, Bool)
	defOp("float_eq", 2, ClassPure, KindFloat, Bool)

	// 指针判空
	defOp("ptr_iszero", 1, ClassPure, KindPtr, Bool)
	defOp("ptr_nonzero", 1, ClassPure, KindPtr, Bool)

	// 恒等与提示
	defOp("same_as", 1, ClassIdentity, KindVoid, nil)
	defOp("hint_concrete", 1, ClassIdentity, KindVoid, nil)
	defOp("hint_variable", 1, ClassIdentity, KindVoid, nil)
	defOp("const", 0, ClassConst, KindVoid, nil)

	// 内存操作
	defOp("malloc", 0, ClassMemory, KindVoid, nil)
	defOp("getfield", 1, ClassMemory, KindVoid, nil)
	defOp("setfield", 2, ClassMemory, KindVoid, nil)
	defOp("getsubstruct", 1, ClassMemory, KindVoid, nil)
	defOp("getarrayitem", 2, ClassMemory, KindVoid, nil)
	defOp("setarrayitem", 3, ClassMemory, KindVoid, nil)
	defOp("getarraysize", 1, ClassMemory, KindVoid, nil)
}

// LookupOp 查找操作码
func LookupOp(name string) (*OpInfo, bool) {
	info, ok := opTable[name]
	return info, ok
}

// OpNames 返回全部已知操作码（排序后）
func OpNames() []string {
	names := make([]string, 0, len(opTable))
	for name := range opTable {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsPure 是否是可折叠的纯操作
func IsPure(name string) bool {
	info, ok := opTable[name]
	return ok && info.Class == ClassPure
}

// ============================================================================
// 结果类型推导
// ============================================================================

// ResultType 推导操作结果类型；setfield/setarrayitem 返回 Void
//
// field 用于字段操作，typ 用于 malloc 和 const。
func ResultType(name string, args []*Type, field string, typ *Type) (*Type, error) {
	info, ok := opTable[name]
	if !ok {
		return nil, fmt.Errorf("unknown operation %q", name)
	}
	if info.Class != ClassConst && info.Name != "malloc" && len(args) != info.Arity {
		return nil, fmt.Errorf("%s: expected %d operands, got %d", name, info.Arity, len(args))
	}

	switch info.Class {
	case ClassPure:
		for i, a := range args {
			if a.Kind != info.Operand {
				return nil, fmt.Errorf("%s: operand %d has type %s, expected %s", name, i, a, info.Operand)
			}
		}
		return info.Result, nil
	case ClassIdentity:
		return args[0], nil
	case ClassConst:
		if typ == nil {
			return nil, fmt.Errorf("const: missing value type")
		}
		return typ, nil
	}

	// 内存操作
	if name == "malloc" {
		if typ == nil || !typ.IsAggregate() {
			return nil, fmt.Errorf("malloc: %s is not an aggregate type", typ)
		}
		return PtrTo(typ), nil
	}

	ptr := args[0]
	if !ptr.IsPtrToAggregate() {
		return nil, fmt.Errorf("%s: operand has type %s, expected pointer to aggregate", name, ptr)
	}
	target := ptr.Elem

	switch name {
	case "getfield", "setfield", "getsubstruct":
		if target.Kind == KindArray {
			return nil, fmt.Errorf("%s: %s is an array", name, target)
		}
		ft := target.FieldType(field)
		if ft == nil {
			return nil, fmt.Errorf("%s: %s has no field %q", name, target, field)
		}
		switch name {
		case "getfield":
			if ft.IsAggregate() {
				return nil, fmt.Errorf("getfield: field %q is a substructure, use getsubstruct", field)
			}
			return ft, nil
		case "setfield":
			if ft.IsAggregate() {
				return nil, fmt.Errorf("setfield: field %q is a substructure", field)
			}
			if args[1] != ft {
				return nil, fmt.Errorf("setfield: value has type %s, field %q has type %s", args[1], field, ft)
			}
			return Void, nil
		default:
			if !ft.IsAggregate() {
				return nil, fmt.Errorf("getsubstruct: field %q is not a substructure", field)
			}
			return PtrTo(ft), nil
		}
	case "getarrayitem", "setarrayitem", "getarraysize":
		if target.Kind != KindArray {
			return nil, fmt.Errorf("%s: %s is not an array", name, target)
		}
		if name == "getarraysize" {
			return Int, nil
		}
		if args[1].Kind != KindInt {
			return nil, fmt.Errorf("%s: index has type %s", name, args[1])
		}
		if target.Elem.IsAggregate() {
			return nil, fmt.Errorf("%s: arrays of substructures are not supported", name)
		}
		if name == "getarrayitem" {
			return target.Elem, nil
		}
		if args[2] != target.Elem {
			return nil, fmt.Errorf("setarrayitem: value has type %s, expected %s", args[2], target.Elem)
		}
		return Void, nil
	}
	return nil, fmt.Errorf("unknown memory operation %q", name)
}

// ============================================================================
// 常量折叠
// ============================================================================

// Fold 折叠纯操作；无法折叠（未知操作、除零、越界移位）返回 false
func Fold(name string, args []Value) (Value, bool) {
	info, ok := opTable[name]
	if !ok || info.Class != ClassPure || len(args) != info.Arity {
		return Value{}, false
	}

	switch info.Operand {
	case KindInt:
		return foldInt(name, args)
	case KindFloat:
		return foldFloat(name, args)
	case KindBool:
		if name == "bool_not" {
			return BoolValue(!args[0].B), true
		}
	case KindPtr:
		switch name {
		case "ptr_iszero":
			return BoolValue(args[0].Obj == nil), true
		case "ptr_nonzero":
			return BoolValue(args[0].Obj != nil), true
		}
	}
	return Value{}, false
}

func foldInt(name string, args []Value) (Value, bool) {
	a := args[0].I
	if len(args) == 1 {
		switch name {
		case "int_neg":
			return IntValue(-a), true
		case "int_is_true":
			return BoolValue(a != 0), true
		}
		return Value{}, false
	}

	b := args[1].I
	switch name {
	case "int_add":
		return IntValue(a + b), true
	case "int_sub":
		return IntValue(a - b), true
	case "int_mul":
		return IntValue(a * b), true
	case "int_floordiv":
		if b == 0 || (a == math.MinInt64 && b == -1) {
			return Value{}, false
		}
		q := a / b
		if (a%b != 0) && ((a < 0) != (b < 0)) {
			q--
		}
		return IntValue(q), true
	case "int_mod":
		if b == 0 {
			return Value{}, false
		}
		m := a % b
		if m != 0 && ((m < 0) != (b < 0)) {
			m += b
		}
		return IntValue(m), true
	case "int_and":
		return IntValue(a & b), true
	case "int_or":
		return IntValue(a | b), true
	case "int_xor":
		return IntValue(a ^ b), true
	case "int_lshift":
		if b < 0 || b >= 64 {
			return Value{}, false
		}
		return IntValue(a << uint(b)), true
	case "int_rshift":
		if b < 0 || b >= 64 {
			return Value{}, false
		}
		return IntValue(a >> uint(b)), true
	case "int_lt":
		return BoolValue(a < b), true
	case "int_le":
		return BoolValue(a <= b), true
	case "int_eq":
		return BoolValue(a == b), true
	case "int_ne":
		return BoolValue(a != b), true
	case "int_gt":
		return BoolValue(a > b), true
	case "int_ge":
		return BoolValue(a >= b), true
	}
	return Value{}, false
}

func foldFloat(name string, args []Value) (Value, bool) {
	a, b := args[0].F, args[1].F
	switch name {
	case "float_add":
		return FloatValue(a + b), true
	case "float_sub":
		return FloatValue(a - b), true
	case "float_mul":
		return FloatValue(a * b), true
	case "float_truediv":
		if b == 0 {
			return Value{}, false
		}
		return FloatValue(a / b), true
	case "float_lt":
		return BoolValue(a < b), true
	case "float_eq":
		return BoolValue(a == b), true
	}
	return Value{}, false
}

// ============================================================================
// 操作执行（解释器共用）
// ============================================================================

// Exec 执行一个操作
//
// 源图解释器和残余程序解释器共用这一实现；field 是字段名，
// typ 是 malloc 的分配类型。
func Exec(name string, args []Value, field string, typ *Type) (Value, error) {
	info, ok := opTable[name]
	if !ok {
		return Value{}, fmt.Errorf("unknown operation %q", name)
	}

	switch info.Class {
	case ClassPure:
		if v, ok := Fold(name, args); ok {
			return v, nil
		}
		return Value{}, fmt.Errorf("%s%v: operation failed", name, args)
	case ClassIdentity:
		return args[0], nil
	case ClassConst:
		return Value{}, fmt.Errorf("const must be evaluated by the caller")
	}

	switch name {
	case "malloc":
		return Value{Type: PtrTo(typ), Obj: NewObject(typ)}, nil
	case "getarraysize":
		return IntValue(int64(args[0].Type.Elem.Len)), nil
	}

	obj := args[0].Obj
	if obj == nil {
		return Value{}, fmt.Errorf("%s: null pointer dereference", name)
	}

	switch name {
	case "getfield", "setfield", "getsubstruct":
		idx := obj.Type.FieldIndex(field)
		if idx < 0 {
			return Value{}, fmt.Errorf("%s: %s has no field %q", name, obj.Type, field)
		}
		switch name {
		case "getfield":
			return obj.Fields[idx], nil
		case "setfield":
			obj.Fields[idx] = args[1]
			return VoidValue, nil
		default:
			sub := obj.Fields[idx]
			return Value{Type: PtrTo(sub.Type), Obj: sub.Obj}, nil
		}
	case "getarrayitem", "setarrayitem":
		i := args[1].I
		if i < 0 || i >= int64(len(obj.Fields)) {
			return Value{}, fmt.Errorf("%s: index %d out of range [0, %d)", name, i, len(obj.Fields))
		}
		if name == "getarrayitem" {
			return obj.Fields[i], nil
		}
		obj.Fields[i] = args[2]
		return VoidValue, nil
	}
	return Value{}, fmt.Errorf("unknown memory operation %q", name)
}
