package origin

// Arena 按位置索引的表
//
// 每个位置至多一个条目，遍历按插入顺序。按位置而不是按指针持有对象，
// 自引用结构因此可以表达。
type Arena[T any] struct {
	items map[PositionKey]T
	order []PositionKey
}

// NewArena 创建空表
func NewArena[T any]() *Arena[T] {
	return &Arena[T]{items: make(map[PositionKey]T)}
}

// Lookup 查找
func (a *Arena[T]) Lookup(pos PositionKey) (T, bool) {
	v, ok := a.items[pos]
	return v, ok
}

// LookupOrInsert 查找，不存在时用 create 创建；第二个返回值表示是否新建
func (a *Arena[T]) LookupOrInsert(pos PositionKey, create func() T) (T, bool) {
	if v, ok := a.items[pos]; ok {
		return v, false
	}
	v := create()
	a.items[pos] = v
	a.order = append(a.order, pos)
	return v, true
}

// Len 条目数
func (a *Arena[T]) Len() int {
	return len(a.order)
}

// Each 按插入顺序遍历
func (a *Arena[T]) Each(fn func(pos PositionKey, v T)) {
	for _, pos := range a.order {
		fn(pos, a.items[pos])
	}
}
