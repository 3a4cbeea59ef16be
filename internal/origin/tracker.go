package origin

// ============================================================================
// 来源跟踪器
// ============================================================================

// Tracker 一次分析中的来源跟踪器
//
// 持有“当前位置”和按位置惰性创建的来源节点。当前位置是唯一的环境状态，
// 嵌套查询通过 Enter 返回的恢复函数还原。
type Tracker struct {
	current PositionKey
	nodes   *Arena[*Node]
	nextID  int
}

// NewTracker 创建跟踪器
func NewTracker() *Tracker {
	return &Tracker{nodes: NewArena[*Node]()}
}

// Current 当前位置
func (t *Tracker) Current() PositionKey {
	return t.current
}

// Enter 切换当前位置，返回恢复函数
//
//	defer tracker.Enter(pos)()
func (t *Tracker) Enter(pos PositionKey) (restore func()) {
	prev := t.current
	t.current = pos
	return func() {
		t.current = prev
	}
}

// MyOrigin 当前位置的来源节点
func (t *Tracker) MyOrigin() *Node {
	return t.OriginAt(t.current)
}

// OriginAt 位置对应的来源节点，第一次查询时创建
func (t *Tracker) OriginAt(pos PositionKey) *Node {
	n, _ := t.nodes.LookupOrInsert(pos, func() *Node {
		n := &Node{ID: t.nextID, Pos: pos}
		t.nextID++
		return n
	})
	return n
}

// Fix 把 nodes 的传递闭包全部标记为固定，返回新固定的节点数
//
// 新固定的节点记录当前位置。
func (t *Tracker) Fix(nodes []*Node) int {
	return t.fix(nodes, false)
}

// Commit 与 Fix 相同，但新固定的节点记为由提交操作固定
func (t *Tracker) Commit(nodes []*Node) int {
	return t.fix(nodes, true)
}

func (t *Tracker) fix(nodes []*Node, commit bool) int {
	count := 0
	for _, n := range Closure(nodes) {
		if n.Fixed {
			continue
		}
		n.Fixed = true
		n.FixedAt = t.current
		n.ByCommit = commit
		count++
	}
	return count
}

// CommittedElsewhere nodes 中每个节点都已由另一个提交位置固定
//
// 不动点迭代会重复访问同一个提交位置，这种情况不算重复提交。
func (t *Tracker) CommittedElsewhere(nodes []*Node) bool {
	if len(nodes) == 0 {
		return false
	}
	for _, n := range nodes {
		if !n.Fixed || !n.ByCommit || n.FixedAt == t.current {
			return false
		}
	}
	return true
}

// NumNodes 已创建的来源节点数
func (t *Tracker) NumNodes() int {
	return t.nodes.Len()
}

// NumFixed 已固定的来源节点数
func (t *Tracker) NumFixed() int {
	count := 0
	t.nodes.Each(func(_ PositionKey, n *Node) {
		if n.Fixed {
			count++
		}
	})
	return count
}
