package origin

import (
	"fmt"
	"sort"
)

// Node 来源节点
type Node struct {
	ID       int
	Pos      PositionKey
	Fixed    bool
	FixedAt  PositionKey // 固定它的位置
	ByCommit bool        // 由 hint_concrete 固定（而非合并时被具体值吸收）

	sources []*Node
	index   map[*Node]struct{}
}

// Merge 记录 others 为本节点的来源；返回是否有新增
func (n *Node) Merge(others ...*Node) bool {
	changed := false
	for _, o := range others {
		if o == nil || o == n {
			continue
		}
		if n.index == nil {
			n.index = make(map[*Node]struct{})
		}
		if _, ok := n.index[o]; ok {
			continue
		}
		n.index[o] = struct{}{}
		n.sources = append(n.sources, o)
		changed = true
	}
	return changed
}

// Sources 直接来源
func (n *Node) Sources() []*Node {
	return n.sources
}

func (n *Node) String() string {
	mark := ""
	if n.Fixed {
		mark = "!"
	}
	return fmt.Sprintf("o%d%s@%s", n.ID, mark, n.Pos)
}

// Closure 返回 nodes 的传递闭包（含自身），按 ID 排序
//
// 来源图可能有环，遍历用访问集合保证终止。
func Closure(nodes []*Node) []*Node {
	seen := make(map[*Node]bool)
	var out []*Node
	stack := append([]*Node(nil), nodes...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == nil || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
		stack = append(stack, n.sources...)
	}
	SortNodes(out)
	return out
}

// AllFixed 非空且每个节点都已固定
func AllFixed(nodes []*Node) bool {
	if len(nodes) == 0 {
		return false
	}
	for _, n := range nodes {
		if !n.Fixed {
			return false
		}
	}
	return true
}

// SortNodes 按 ID 排序
func SortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
}

// Union 合并两个有序节点集合，结果去重且按 ID 排序
func Union(a, b []*Node) []*Node {
	out := make([]*Node, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j >= len(b) || (i < len(a) && a[i].ID < b[j].ID):
			out = append(out, a[i])
			i++
		case i >= len(a) || b[j].ID < a[i].ID:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

// SameSet 两个有序节点集合是否相同
func SameSet(a, b []*Node) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
