// Package origin 跟踪编译期常量的来源
//
// 每个产生常量的位置对应一个来源节点，节点记录它由哪些更早的来源合并而来。
// 提交（hint_concrete）沿传递闭包把整条依赖链标记为固定。
package origin

import (
	"fmt"

	"github.com/tangzhangming/timeshift/internal/errors"
	"github.com/tangzhangming/timeshift/internal/flowgraph"
)

// PositionKey 分析位置：(图, 块, 操作下标)
//
// Index >= 0 是块内操作下标；负数用于块入口的输入参数（-(i+1) 表示第 i 个）。
type PositionKey struct {
	Graph *flowgraph.Graph
	Block *flowgraph.Block
	Index int
}

// Pos 构造位置
func Pos(g *flowgraph.Graph, b *flowgraph.Block, index int) PositionKey {
	return PositionKey{Graph: g, Block: b, Index: index}
}

// InputPos 块的第 i 个输入参数对应的位置
func InputPos(g *flowgraph.Graph, b *flowgraph.Block, i int) PositionKey {
	return PositionKey{Graph: g, Block: b, Index: -(i + 1)}
}

// IsZero 是否是空位置
func (p PositionKey) IsZero() bool {
	return p.Graph == nil
}

// Less 稳定排序用：先按块 ID，再按下标
func (p PositionKey) Less(q PositionKey) bool {
	if p.Block.ID != q.Block.ID {
		return p.Block.ID < q.Block.ID
	}
	return p.Index < q.Index
}

// Location 转换为错误位置
func (p PositionKey) Location() errors.Location {
	if p.IsZero() {
		return errors.Location{}
	}
	return errors.Location{Graph: p.Graph.Name, Block: p.Block.Name, Index: p.Index}
}

func (p PositionKey) String() string {
	if p.IsZero() {
		return "<nowhere>"
	}
	return fmt.Sprintf("%s/%s#%d", p.Graph.Name, p.Block.Name, p.Index)
}

// Op 位置上的操作；输入参数位置返回 nil
func (p PositionKey) Op() *flowgraph.Op {
	if p.IsZero() || p.Index < 0 || p.Index >= len(p.Block.Ops) {
		return nil
	}
	return p.Block.Ops[p.Index]
}
