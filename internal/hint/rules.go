package hint

import (
	"github.com/tangzhangming/timeshift/internal/container"
	"github.com/tangzhangming/timeshift/internal/errors"
	"github.com/tangzhangming/timeshift/internal/flowgraph"
	"github.com/tangzhangming/timeshift/internal/origin"
)

// ============================================================================
// 规则表
// ============================================================================

// Rule 一条操作码的标注规则
//
// args 已经 Resolve。调用时跟踪器的当前位置就是 op 所在位置。
// 无结果的操作返回零值 Value。
type Rule func(bk *Bookkeeper, op *flowgraph.Op, args []Value) (Value, error)

var rules map[string]Rule

func init() {
	rules = make(map[string]Rule)
	for _, name := range flowgraph.OpNames() {
		if flowgraph.IsPure(name) {
			rules[name] = pureRule
		}
	}
	rules["ptr_iszero"] = ptrCheckRule
	rules["ptr_nonzero"] = ptrCheckRule

	rules["same_as"] = sameAsRule
	rules["const"] = constRule
	rules["hint_concrete"] = commitRule
	rules["hint_variable"] = variableRule

	rules["malloc"] = mallocRule
	rules["getfield"] = getFieldRule
	rules["getsubstruct"] = getSubstructRule
	rules["setfield"] = setFieldRule
	rules["getarrayitem"] = getItemRule
	rules["setarrayitem"] = setItemRule
	rules["getarraysize"] = arraySizeRule
}

// LookupRule 查找标注规则
func LookupRule(name string) (Rule, bool) {
	r, ok := rules[name]
	return r, ok
}

// ============================================================================
// 纯操作
// ============================================================================

// pureRule 任一操作数是 Variable 则结果是 Variable；全部是 Concrete 则结果
// 是 Concrete；否则结果是当前位置的来源，合并常量操作数的来源，能折叠时
// 带已知值。混合 Concrete 与 Constant 时不固定 Constant 的来源。
func pureRule(bk *Bookkeeper, op *flowgraph.Op, args []Value) (Value, error) {
	rt := op.Result.Type
	concrete := 0
	for _, a := range args {
		switch a.Kind {
		case KindVariable, KindContainer:
			return Variable(rt), nil
		case KindConcrete:
			concrete++
		}
	}
	if concrete == len(args) {
		return Concrete(rt), nil
	}

	node := bk.Tracker.MyOrigin()
	known := concrete == 0
	values := make([]flowgraph.Value, len(args))
	for i, a := range args {
		node.Merge(a.Origins...)
		known = known && a.HasKnown
		values[i] = a.Known
	}
	if known {
		if v, ok := flowgraph.Fold(op.Name, values); ok {
			return KnownConstant(v, node), nil
		}
	}
	return Constant(rt, node), nil
}

// ptrCheckRule 指向未退化虚拟实例的指针一定非空
func ptrCheckRule(bk *Bookkeeper, op *flowgraph.Op, args []Value) (Value, error) {
	if args[0].Kind != KindContainer {
		return pureRule(bk, op, args)
	}
	nonzero := op.Name == "ptr_nonzero"
	return KnownConstant(flowgraph.BoolValue(nonzero), bk.Tracker.MyOrigin()), nil
}

// ============================================================================
// 恒等与提示
// ============================================================================

func sameAsRule(bk *Bookkeeper, op *flowgraph.Op, args []Value) (Value, error) {
	return args[0], nil
}

func constRule(bk *Bookkeeper, op *flowgraph.Op, args []Value) (Value, error) {
	return KnownConstant(op.Value), nil
}

// commitRule hint_concrete：固定常量的整条来源链，结果是 Concrete
func commitRule(bk *Bookkeeper, op *flowgraph.Op, args []Value) (Value, error) {
	v := args[0]
	switch v.Kind {
	case KindConstant:
		if bk.Tracker.CommittedElsewhere(v.Origins) {
			return Value{}, errors.New(errors.H0003, "value %s is already fixed", v).
				Note("first committed at %s", v.Origins[0].FixedAt)
		}
		bk.Tracker.Commit(v.Origins)
		return Concrete(v.Type), nil
	case KindConcrete:
		return Value{}, errors.New(errors.H0002, "cannot commit a value that is already concrete")
	case KindContainer:
		return Value{}, errors.New(errors.H0002, "cannot commit a pointer to a virtual %s", v.box.Desc)
	default:
		return Value{}, errors.New(errors.H0002, "cannot commit a run-time variable of type %s", v.Type)
	}
}

// variableRule hint_variable：强制为运行时值，虚拟实例随之退化
func variableRule(bk *Bookkeeper, op *flowgraph.Op, args []Value) (Value, error) {
	degenerate(args[0])
	return Variable(args[0].Type), nil
}

// ============================================================================
// 容器操作
// ============================================================================

func mallocRule(bk *Bookkeeper, op *flowgraph.Op, args []Value) (Value, error) {
	vc, err := bk.Instantiate(container.Describe(op.Type))
	if err != nil {
		return Value{}, err
	}
	return ContainerValue(vc), nil
}

func fieldIndex(op *flowgraph.Op, args []Value) int {
	return args[0].Type.Elem.FieldIndex(op.Field)
}

func getFieldRule(bk *Bookkeeper, op *flowgraph.Op, args []Value) (Value, error) {
	if vc := args[0].Container(); vc != nil {
		return vc.ReadField(fieldIndex(op, args), bk.Tracker.Current()), nil
	}
	return Variable(op.Result.Type), nil
}

func getSubstructRule(bk *Bookkeeper, op *flowgraph.Op, args []Value) (Value, error) {
	if vc := args[0].Container(); vc != nil {
		if child := vc.Child(fieldIndex(op, args)); child != nil {
			return ContainerValue(child), nil
		}
	}
	return Variable(op.Result.Type), nil
}

func setFieldRule(bk *Bookkeeper, op *flowgraph.Op, args []Value) (Value, error) {
	if vc := args[0].Container(); vc != nil {
		return Value{}, vc.WriteField(fieldIndex(op, args), args[1])
	}
	// 写入真实对象，值随之逃逸
	degenerate(args[1])
	return Value{}, nil
}

func getItemRule(bk *Bookkeeper, op *flowgraph.Op, args []Value) (Value, error) {
	if vc := args[0].Container(); vc != nil {
		return vc.ReadItem(bk.Tracker.Current()), nil
	}
	return Variable(op.Result.Type), nil
}

func setItemRule(bk *Bookkeeper, op *flowgraph.Op, args []Value) (Value, error) {
	if vc := args[0].Container(); vc != nil {
		return Value{}, vc.WriteItem(args[2])
	}
	degenerate(args[2])
	return Value{}, nil
}

// arraySizeRule 数组长度是静态类型的一部分，总是常量
func arraySizeRule(bk *Bookkeeper, op *flowgraph.Op, args []Value) (Value, error) {
	length := flowgraph.IntValue(int64(args[0].Type.Elem.Len))
	return KnownConstant(length, bk.Tracker.MyOrigin()), nil
}

// inputValue 把调用方给出的入口值挂上输入位置的来源
func inputValue(bk *Bookkeeper, pos origin.PositionKey, v Value) Value {
	if v.Kind == KindConstant && len(v.Origins) == 0 {
		out := v
		out.Origins = []*origin.Node{bk.Tracker.OriginAt(pos)}
		return out
	}
	return v
}
