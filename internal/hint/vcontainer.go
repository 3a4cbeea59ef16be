package hint

import (
	"fmt"

	"github.com/tangzhangming/timeshift/internal/container"
	"github.com/tangzhangming/timeshift/internal/errors"
	"github.com/tangzhangming/timeshift/internal/flowgraph"
	"github.com/tangzhangming/timeshift/internal/origin"
)

// ============================================================================
// 虚拟容器实例
// ============================================================================

// FieldValue 一个字段槽：合并后的值和读者位置
type FieldValue struct {
	Value   Value
	Readers map[origin.PositionKey]struct{}
}

func (f *FieldValue) addReader(pos origin.PositionKey) {
	if f.Readers == nil {
		f.Readers = make(map[origin.PositionKey]struct{})
	}
	f.Readers[pos] = struct{}{}
}

// Merge 并入另一个槽的读者和值，返回值是否改变
//
// 合并不兼容时仍然更新值并返回错误，其他错误不修改槽。
func (f *FieldValue) Merge(other *FieldValue) (bool, error) {
	for r := range other.Readers {
		f.addReader(r)
	}
	merged, err := Join(f.Value, other.Value)
	if err != nil && !isMergeIncompatibility(err) {
		return false, err
	}
	if Equal(merged, f.Value) {
		return false, err
	}
	f.Value = merged
	return true, err
}

// Generalize 槽放宽为 Variable，槽中指向的实例随之退化；返回值是否改变
func (f *FieldValue) Generalize() bool {
	degenerate(f.Value)
	if f.Value.Kind == KindVariable {
		return false
	}
	f.Value = Variable(f.Value.Type)
	return true
}

// VirtualContainer 分析期的虚拟聚合实例
//
// 每个分配位置一个实例。嵌套子结构是带 parent 的子实例。不同分配位置的
// 实例在控制流汇合时合并，用并查集保留代表。
type VirtualContainer struct {
	Desc *container.Descriptor
	Pos  origin.PositionKey

	fields      []*FieldValue // struct/union 的字段，array 只有一个元素槽
	children    []*VirtualContainer
	parent      *VirtualContainer
	degenerated bool
	rep         *VirtualContainer
	bk          *Bookkeeper
}

func (bk *Bookkeeper) newContainer(desc *container.Descriptor, pos origin.PositionKey, parent *VirtualContainer) *VirtualContainer {
	vc := &VirtualContainer{Desc: desc, Pos: pos, parent: parent, bk: bk}
	bk.containers++
	bk.all = append(bk.all, vc)

	if desc.Kind == container.Array {
		vc.fields = []*FieldValue{{Value: KnownConstant(flowgraph.Zero(desc.Item.Type))}}
		return vc
	}
	vc.fields = make([]*FieldValue, len(desc.Fields))
	vc.children = make([]*VirtualContainer, len(desc.Fields))
	for i, f := range desc.Fields {
		if f.IsNested() {
			child := bk.newContainer(f.Nested, pos, vc)
			vc.children[i] = child
			vc.fields[i] = &FieldValue{Value: ContainerValue(child)}
			continue
		}
		vc.fields[i] = &FieldValue{Value: KnownConstant(flowgraph.Zero(f.Type))}
	}
	return vc
}

func (vc *VirtualContainer) find() *VirtualContainer {
	root := vc
	for root.rep != nil {
		root = root.rep
	}
	// 已指向代表的节点不写，密封后的标注因此可以并发读
	for vc.rep != nil && vc.rep != root {
		next := vc.rep
		vc.rep = root
		vc = next
	}
	return root
}

// Degenerated 实例是否已退化为真实分配
func (vc *VirtualContainer) Degenerated() bool {
	return vc.find().degenerated
}

// Parent 外层实例
func (vc *VirtualContainer) Parent() *VirtualContainer {
	if vc.parent == nil {
		return nil
	}
	return vc.parent.find()
}

// Child 第 i 个字段的子实例；标量字段返回 nil
func (vc *VirtualContainer) Child(i int) *VirtualContainer {
	rep := vc.find()
	if rep.children == nil || rep.children[i] == nil {
		return nil
	}
	return rep.children[i].find()
}

func (vc *VirtualContainer) slot(i int) *FieldValue {
	if vc.Desc.Kind == container.Array {
		return vc.fields[0]
	}
	return vc.fields[i]
}

// ReadField 读字段并登记读者
func (vc *VirtualContainer) ReadField(i int, reader origin.PositionKey) Value {
	rep := vc.find()
	f := rep.slot(i)
	f.addReader(reader)
	return f.Value.Resolve()
}

// ReadItem 读数组元素（全部下标共享一个槽）
func (vc *VirtualContainer) ReadItem(reader origin.PositionKey) Value {
	return vc.ReadField(0, reader)
}

// WriteField 合并写入：新值与旧值 Join，从不替换
//
// 值变化时重新调度读者。写入已退化实例的容器随之逃逸。
func (vc *VirtualContainer) WriteField(i int, v Value) error {
	rep := vc.find()
	if rep.degenerated {
		degenerate(v)
		return nil
	}
	f := rep.slot(i)
	changed, err := f.Merge(&FieldValue{Value: v})
	if changed {
		rep.bk.touch(f)
	}
	return err
}

// WriteItem 合并写入数组元素
func (vc *VirtualContainer) WriteItem(v Value) error {
	return vc.WriteField(0, v)
}

// Union 合并两个实例
//
// 形状不同（类型不同或嵌套位置不同）时两者都退化，返回合并不兼容。
func (vc *VirtualContainer) Union(other *VirtualContainer) error {
	a, b := vc.find(), other.find()
	if a == b {
		return nil
	}
	if a.degenerated || b.degenerated {
		a.MarkDegenerated()
		b.MarkDegenerated()
		return nil
	}
	if a.Desc != b.Desc || !sameParent(a, b) {
		a.MarkDegenerated()
		b.MarkDegenerated()
		return errors.NewMergeIncompatibility("cannot merge %s@%s with %s@%s", a.Desc, a.Pos, b.Desc, b.Pos)
	}

	b.rep = a
	a.bk.unions++
	var firstErr error
	for i, fb := range b.fields {
		fa := a.fields[i]
		if a.children != nil && a.children[i] != nil {
			for r := range fb.Readers {
				fa.addReader(r)
			}
			if err := a.children[i].Union(b.children[i]); err != nil && firstErr == nil {
				firstErr = err
			}
			continue
		}
		if _, err := fa.Merge(fb); err != nil && firstErr == nil {
			firstErr = err
		}
		a.bk.touch(fa)
	}
	return firstErr
}

func sameParent(a, b *VirtualContainer) bool {
	switch {
	case a.parent == nil && b.parent == nil:
		return true
	case a.parent == nil || b.parent == nil:
		return false
	}
	return a.parent.find() == b.parent.find()
}

// MarkDegenerated 实例退化为真实分配（幂等）
//
// 退化向外传播到外层实例，向内传播到子实例和字段中指向的其他实例。
func (vc *VirtualContainer) MarkDegenerated() {
	rep := vc.find()
	if rep.degenerated {
		return
	}
	rep.degenerated = true
	rep.bk.degenerations++
	rep.bk.changed = true

	if rep.parent != nil {
		rep.parent.MarkDegenerated()
	}
	for i, f := range rep.fields {
		if rep.children != nil && rep.children[i] != nil {
			rep.children[i].MarkDegenerated()
			continue
		}
		f.Generalize()
	}
}

func (vc *VirtualContainer) String() string {
	state := "virtual"
	if vc.Degenerated() {
		state = "degenerated"
	}
	return fmt.Sprintf("%s %s@%s", state, vc.Desc, vc.Pos)
}

// ============================================================================
// 簿记
// ============================================================================

// Bookkeeper 一次分析的共享状态：来源跟踪器、分配位置表、待重算的读者
type Bookkeeper struct {
	Tracker *origin.Tracker

	sites   *origin.Arena[*VirtualContainer]
	dirty   map[origin.PositionKey]struct{}
	changed bool // 有实例退化，所有已访问块需要重算

	all           []*VirtualContainer
	containers    int
	unions        int
	degenerations int
	warnings      []error
}

// NewBookkeeper 创建簿记
func NewBookkeeper() *Bookkeeper {
	return &Bookkeeper{
		Tracker: origin.NewTracker(),
		sites:   origin.NewArena[*VirtualContainer](),
		dirty:   make(map[origin.PositionKey]struct{}),
	}
}

// Instantiate 当前位置的分配实例；同一位置总是同一个实例
func (bk *Bookkeeper) Instantiate(desc *container.Descriptor) (*VirtualContainer, error) {
	pos := bk.Tracker.Current()
	vc, _ := bk.sites.LookupOrInsert(pos, func() *VirtualContainer {
		return bk.newContainer(desc, pos, nil)
	})
	if vc.Desc != desc {
		return nil, errors.NewInternal(errors.I0003, "allocation site %s reused for %s, was %s", pos, desc, vc.Desc)
	}
	return vc, nil
}

// Site 分配位置上的实例
func (bk *Bookkeeper) Site(pos origin.PositionKey) (*VirtualContainer, bool) {
	return bk.sites.Lookup(pos)
}

// seal 压缩全部并查集路径，之后 find 不再写
func (bk *Bookkeeper) seal() {
	for _, vc := range bk.all {
		vc.find()
	}
}

func (bk *Bookkeeper) touch(f *FieldValue) {
	for r := range f.Readers {
		bk.dirty[r] = struct{}{}
	}
}

func (bk *Bookkeeper) warn(err error) {
	bk.warnings = append(bk.warnings, err)
}

// takeDirty 取出并清空待重算的读者位置
func (bk *Bookkeeper) takeDirty() (positions []origin.PositionKey, all bool) {
	for pos := range bk.dirty {
		positions = append(positions, pos)
	}
	bk.dirty = make(map[origin.PositionKey]struct{})
	all = bk.changed
	bk.changed = false
	return positions, all
}

func isMergeIncompatibility(err error) bool {
	k, ok := errors.KindOf(err)
	return ok && k == errors.MergeIncompatibility
}
