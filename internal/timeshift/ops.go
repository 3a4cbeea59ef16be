package timeshift

import (
	"github.com/tangzhangming/timeshift/internal/container"
	"github.com/tangzhangming/timeshift/internal/errors"
	"github.com/tangzhangming/timeshift/internal/flowgraph"
	"github.com/tangzhangming/timeshift/internal/origin"
)

// evalOp 执行一条源操作，返回结果盒子（无结果时为 nil）
func (s *Specializer) evalOp(b *flowgraph.Block, index int, op *flowgraph.Op, frame map[*flowgraph.Var]Box) (Box, error) {
	args := make([]Box, len(op.Args))
	for i, v := range op.Args {
		box, ok := frame[v]
		if !ok {
			return nil, errors.NewInternal(errors.I0002, "%s has no box", v)
		}
		args[i] = box
	}
	where := origin.Pos(s.graph, b, index).Location()

	var rt *flowgraph.Type
	if op.Result != nil {
		rt = op.Result.Type
	}

	switch op.Name {
	case "const":
		return NewConstant(op.Value), nil
	case "same_as", "hint_variable":
		return args[0], nil
	case "hint_concrete":
		if _, ok := args[0].(*ConstantBox); !ok {
			return nil, errors.New(errors.H0004, "committed value is %s, not a compile-time constant", args[0]).At(where, op.Name)
		}
		return args[0], nil

	case "malloc":
		if s.ann.IsVirtual(b, index) {
			return NewVirtual(container.Describe(op.Type)), nil
		}
		return s.emit("malloc", nil, "", op.Type, rt)
	case "getfield":
		return s.getField(args[0], op.Field, rt)
	case "setfield":
		return nil, s.setField(args[0], op.Field, args[1])
	case "getsubstruct":
		return s.getSubstruct(args[0], op.Field, rt)
	case "getarrayitem":
		return s.getItem(args[0], args[1], rt)
	case "setarrayitem":
		return nil, s.setItem(args[0], args[1], args[2])
	case "getarraysize":
		return NewConstant(flowgraph.IntValue(int64(args[0].Type().Elem.Len))), nil
	case "ptr_iszero", "ptr_nonzero":
		if _, ok := args[0].(*VirtualBox); ok {
			return NewConstant(flowgraph.BoolValue(op.Name == "ptr_nonzero")), nil
		}
	}

	if !flowgraph.IsPure(op.Name) {
		return nil, errors.NewInternal(errors.I0007, "cannot specialize %s", op.Name).At(where, op.Name)
	}

	// 纯操作：操作数全部是常量时折叠
	values := make([]flowgraph.Value, len(args))
	allConst := true
	for i, a := range args {
		c, ok := a.(*ConstantBox)
		if !ok {
			allConst = false
			break
		}
		values[i] = c.Value
	}
	if allConst {
		if v, ok := flowgraph.Fold(op.Name, values); ok {
			s.stats.Folded++
			return NewConstant(v), nil
		}
		if s.ann.IsGreen(op.Result) {
			return nil, errors.New(errors.H0005, "cannot fold %s%v", op.Name, values).At(where, op.Name)
		}
	}
	return s.emit(op.Name, args, "", nil, rt)
}
