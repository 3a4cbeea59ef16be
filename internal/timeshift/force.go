package timeshift

import (
	"github.com/tangzhangming/timeshift/internal/container"
	"github.com/tangzhangming/timeshift/internal/errors"
	"github.com/tangzhangming/timeshift/internal/flowgraph"
	"github.com/tangzhangming/timeshift/internal/rgenop"
)

// ============================================================================
// 强制
// ============================================================================

// Force 把盒子具现为残余代码中的值，代码生成到当前块
//
// 虚拟盒子先生成 malloc 并缓存结果，再初始化字段，最后丢弃内容；
// 再次强制直接返回缓存值，不生成新代码。子结构盒子强制时先强制外层。
func (s *Specializer) Force(box Box) (rgenop.GenVar, error) {
	switch b := box.(type) {
	case *ConstantBox:
		if b.genvar == nil {
			b.genvar = s.backend.GenConst(b.Value)
		}
		return b.genvar, nil
	case *VariableBox:
		return b.GenVar, nil
	case *VirtualBox:
		if b.genvar != nil {
			return b.genvar, nil
		}
		if b.Content == nil {
			return nil, errors.NewInternal(errors.I0001, "cannot force %s: no content and no value", b.Desc)
		}
		if b.parent != nil {
			if _, err := s.Force(b.parent); err != nil {
				return nil, err
			}
			if b.genvar == nil {
				return nil, errors.NewInternal(errors.I0001, "forcing the parent of %s did not realize it", b.Desc)
			}
			return b.genvar, nil
		}

		gv, err := s.genOp("malloc", nil, "", b.Desc.Type, b.Type())
		if err != nil {
			return nil, err
		}
		b.genvar = gv
		s.stats.Forced++
		if err := s.initContent(b, gv); err != nil {
			return nil, err
		}
		return gv, nil
	}
	return nil, errors.NewInternal(errors.I0001, "unknown box %T", box)
}

// initContent 为刚分配的对象生成字段初始化，并丢弃内容
//
// 零值常量不写入，分配出的对象本来就是零值。
func (s *Specializer) initContent(b *VirtualBox, gv rgenop.GenVar) error {
	content := b.Content
	b.Content = nil

	for i, item := range content {
		if item == nil {
			continue
		}
		if b.Desc.Kind != container.Array && b.Desc.Fields[i].IsNested() {
			child := item.(*VirtualBox)
			field := b.Desc.Fields[i]
			sub, err := s.genOp("getsubstruct", []rgenop.GenVar{gv}, field.Name, nil, flowgraph.PtrTo(field.Type))
			if err != nil {
				return err
			}
			child.genvar = sub
			if err := s.initContent(child, sub); err != nil {
				return err
			}
			continue
		}

		if c, ok := item.(*ConstantBox); ok && c.Value.Equal(flowgraph.Zero(c.Value.Type)) {
			continue
		}
		v, err := s.Force(item)
		if err != nil {
			return err
		}
		if b.Desc.Kind == container.Array {
			index := s.backend.GenConst(flowgraph.IntValue(int64(i)))
			_, err = s.genOp("setarrayitem", []rgenop.GenVar{gv, index, v}, "", nil, flowgraph.Void)
		} else {
			_, err = s.genOp("setfield", []rgenop.GenVar{gv, v}, b.Desc.Fields[i].Name, nil, flowgraph.Void)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// 字段访问
// ============================================================================

func fieldSlot(ptr Box, field string) int {
	return ptr.Type().Elem.FieldIndex(field)
}

// getField 未强制的虚拟盒子直接返回内容，否则生成 getfield
func (s *Specializer) getField(ptr Box, field string, rt *flowgraph.Type) (Box, error) {
	if vb, ok := ptr.(*VirtualBox); ok && vb.IsVirtual() {
		return vb.Content[fieldSlot(ptr, field)], nil
	}
	return s.emit("getfield", []Box{ptr}, field, nil, rt)
}

// setField 未强制的虚拟盒子直接替换内容，否则生成 setfield
func (s *Specializer) setField(ptr Box, field string, value Box) error {
	if vb, ok := ptr.(*VirtualBox); ok && vb.IsVirtual() {
		vb.Content[fieldSlot(ptr, field)] = value
		return nil
	}
	_, err := s.emit("setfield", []Box{ptr, value}, field, nil, flowgraph.Void)
	return err
}

// getSubstruct 虚拟对象的子结构仍是虚拟盒子
func (s *Specializer) getSubstruct(ptr Box, field string, rt *flowgraph.Type) (Box, error) {
	if vb, ok := ptr.(*VirtualBox); ok && vb.IsVirtual() {
		return vb.Content[fieldSlot(ptr, field)], nil
	}
	return s.emit("getsubstruct", []Box{ptr}, field, nil, rt)
}

// constIndex 常量下标且在范围内时返回下标
func constIndex(vb *VirtualBox, index Box) (int, bool) {
	c, ok := index.(*ConstantBox)
	if !ok {
		return 0, false
	}
	i := c.Value.I
	if i < 0 || i >= int64(vb.Desc.Length) {
		return 0, false
	}
	return int(i), true
}

// getItem 虚拟数组的常量下标直接取内容，其余情况强制后生成 getarrayitem
func (s *Specializer) getItem(ptr, index Box, rt *flowgraph.Type) (Box, error) {
	if vb, ok := ptr.(*VirtualBox); ok && vb.IsVirtual() {
		if i, ok := constIndex(vb, index); ok {
			return vb.Content[i], nil
		}
	}
	return s.emit("getarrayitem", []Box{ptr, index}, "", nil, rt)
}

// setItem 同 getItem
func (s *Specializer) setItem(ptr, index, value Box) error {
	if vb, ok := ptr.(*VirtualBox); ok && vb.IsVirtual() {
		if i, ok := constIndex(vb, index); ok {
			vb.Content[i] = value
			return nil
		}
	}
	_, err := s.emit("setarrayitem", []Box{ptr, index, value}, "", nil, flowgraph.Void)
	return err
}

// emit 强制全部操作数并生成操作；结果为 Void 时返回 nil
func (s *Specializer) emit(name string, args []Box, field string, typ, rt *flowgraph.Type) (Box, error) {
	vars := make([]rgenop.GenVar, len(args))
	for i, a := range args {
		v, err := s.Force(a)
		if err != nil {
			return nil, err
		}
		vars[i] = v
	}
	gv, err := s.genOp(name, vars, field, typ, rt)
	if err != nil {
		return nil, err
	}
	if rt == flowgraph.Void {
		return nil, nil
	}
	return NewVariable(rt, gv), nil
}

// genOp 在当前块生成操作；后端拒绝时返回内部错误
func (s *Specializer) genOp(name string, args []rgenop.GenVar, field string, typ, rt *flowgraph.Type) (rgenop.GenVar, error) {
	if s.cur == nil {
		return nil, errors.NewInternal(errors.I0007, "%s emitted outside of an open block", name)
	}
	gv, err := s.backend.GenOp(s.cur, name, args, field, typ, rt)
	if err != nil {
		return nil, errors.NewInternal(errors.I0007, "backend rejected %s: %v", name, err)
	}
	return gv, nil
}
