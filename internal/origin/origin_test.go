package origin

import (
	"testing"

	"github.com/tangzhangming/timeshift/internal/flowgraph"
)

func testPositions() (PositionKey, PositionKey, PositionKey) {
	g := flowgraph.NewGraph("f", flowgraph.Int)
	b := g.NewBlock("b")
	return Pos(g, g.Start, 0), Pos(g, g.Start, 1), Pos(g, b, 0)
}

// TestEnterRestore 测试当前位置的保存和恢复
func TestEnterRestore(t *testing.T) {
	p0, p1, _ := testPositions()
	tr := NewTracker()

	restore := tr.Enter(p0)
	func() {
		defer tr.Enter(p1)()
		if tr.Current() != p1 {
			t.Errorf("expected current %s, got %s", p1, tr.Current())
		}
	}()
	if tr.Current() != p0 {
		t.Errorf("expected restored %s, got %s", p0, tr.Current())
	}
	restore()
	if !tr.Current().IsZero() {
		t.Errorf("expected zero position, got %s", tr.Current())
	}
}

// TestOriginLazy 测试来源节点按位置惰性创建且唯一
func TestOriginLazy(t *testing.T) {
	p0, p1, _ := testPositions()
	tr := NewTracker()

	a := tr.OriginAt(p0)
	if tr.OriginAt(p0) != a {
		t.Error("same position must yield the same origin")
	}
	if tr.OriginAt(p1) == a {
		t.Error("different positions must yield different origins")
	}
	if tr.NumNodes() != 2 {
		t.Errorf("expected 2 nodes, got %d", tr.NumNodes())
	}
}

// TestFixClosureCycle 测试固定沿闭包传播且对环安全
func TestFixClosureCycle(t *testing.T) {
	p0, p1, p2 := testPositions()
	tr := NewTracker()
	a, b, c := tr.OriginAt(p0), tr.OriginAt(p1), tr.OriginAt(p2)

	// c <- b <- a <- c 形成环
	c.Merge(b)
	b.Merge(a)
	a.Merge(c)
	if a.Merge(c) {
		t.Error("merging an existing source should report no change")
	}

	defer tr.Enter(p2)()
	if n := tr.Commit([]*Node{c}); n != 3 {
		t.Errorf("expected 3 newly fixed nodes, got %d", n)
	}
	if !a.Fixed || !b.Fixed || !c.Fixed {
		t.Error("all nodes in the cycle should be fixed")
	}
	if n := tr.Fix([]*Node{a}); n != 0 {
		t.Errorf("fixing again should fix nothing, got %d", n)
	}
	if tr.CommittedElsewhere([]*Node{a}) {
		t.Error("nodes committed at the current position are not committed elsewhere")
	}

	restore := tr.Enter(p0)
	if !tr.CommittedElsewhere([]*Node{a}) {
		t.Error("nodes committed at another position should be reported")
	}
	restore()

	// 被具体值吸收而固定的节点不算提交
	fresh := NewTracker()
	x := fresh.OriginAt(p0)
	fresh.Fix([]*Node{x})
	func() {
		defer fresh.Enter(p1)()
		if fresh.CommittedElsewhere([]*Node{x}) {
			t.Error("absorbed nodes must not count as committed")
		}
	}()
}

// TestUnion 测试有序集合合并
func TestUnion(t *testing.T) {
	p0, p1, p2 := testPositions()
	tr := NewTracker()
	a, b, c := tr.OriginAt(p0), tr.OriginAt(p1), tr.OriginAt(p2)

	got := Union([]*Node{a, c}, []*Node{b, c})
	if !SameSet(got, []*Node{a, b, c}) {
		t.Errorf("unexpected union %v", got)
	}
	if AllFixed(nil) {
		t.Error("empty set is never all fixed")
	}
}
