// Package rgenop 定义特化器使用的代码生成后端接口
//
// 特化器只通过这些调用产生残余代码，从不检查生成值的内容。
package rgenop

import "github.com/tangzhangming/timeshift/internal/flowgraph"

// GenVar 后端生成的值（不透明）
type GenVar interface {
	String() string
}

// Block 后端的基本块（不透明）
type Block interface {
	String() string
}

// Link 尚未连接目标的出边（不透明）
type Link interface {
	String() string
}

// Backend 代码生成后端
//
// 块先打开，追加输入参数和操作，再用 CloseBlock1/CloseBlock2 关闭并得到
// 出边；出边稍后用 CloseLink 连到目标块（带实参），或用 CloseReturnLink
// 作为函数返回。
type Backend interface {
	// NewBlock 打开新块
	NewBlock() Block
	// GenInputArg 为块追加一个输入参数
	GenInputArg(b Block, t *flowgraph.Type) GenVar
	// GenConst 常量
	GenConst(v flowgraph.Value) GenVar
	// GenOp 在块末尾追加操作；result 为 Void 时返回 nil
	//
	// field 用于字段操作，typ 用于 malloc。
	GenOp(b Block, opname string, args []GenVar, field string, typ *flowgraph.Type, result *flowgraph.Type) (GenVar, error)
	// CloseBlock1 以单一出口关闭块
	CloseBlock1(b Block) Link
	// CloseBlock2 以条件出口关闭块
	CloseBlock2(b Block, exitSwitch GenVar) (ifFalse, ifTrue Link)
	// CloseLink 把出边连接到目标块
	CloseLink(l Link, args []GenVar, target Block)
	// CloseReturnLink 把出边作为返回
	CloseReturnLink(l Link, v GenVar)
}
