package timeshift

import (
	"go.uber.org/zap"

	"github.com/tangzhangming/timeshift/internal/errors"
	"github.com/tangzhangming/timeshift/internal/flowgraph"
	"github.com/tangzhangming/timeshift/internal/hint"
	"github.com/tangzhangming/timeshift/internal/origin"
	"github.com/tangzhangming/timeshift/internal/rgenop"
)

// DefaultMaxBlocks 默认的残余块上限
const DefaultMaxBlocks = 4096

// Arg 特化参数：已知常量或运行时值
type Arg struct {
	Value flowgraph.Value
	Known bool
}

// KnownArg 已知常量参数
func KnownArg(v flowgraph.Value) Arg {
	return Arg{Value: v, Known: true}
}

// UnknownArg 运行时参数
func UnknownArg() Arg {
	return Arg{}
}

// Stats 特化统计
type Stats struct {
	Blocks          int // 打开的残余块
	Forks           int // 运行时条件分支
	MergePoints     int // 首次到达的汇合状态
	Absorbed        int // 跳入已有块的到达
	Generalizations int // 泛化次数
	Forced          int // 强制的虚拟对象
	Folded          int // 折叠的纯操作
	Returns         int // 到达返回块的路径
}

// Result 特化结果
type Result struct {
	Returns  int
	Constant *flowgraph.Value // 所有路径返回同一常量时非空
	Stats    Stats
}

type continuation struct {
	link   rgenop.Link
	target *flowgraph.Block
	boxes  []Box
}

type returnPoint struct {
	link rgenop.Link
	box  Box
	gv   rgenop.GenVar
}

// Specializer 运行时盒子特化器
//
// 每次 Run 使用独立状态，一个 Specializer 不能并发使用。
type Specializer struct {
	MaxBlocks int

	graph   *flowgraph.Graph
	ann     *hint.Annotation
	backend rgenop.Backend
	logger  *zap.Logger

	cur     rgenop.Block
	states  map[MergeKey]*mergeState
	pending []continuation
	returns []returnPoint
	stats   Stats
}

// New 创建特化器
func New(ann *hint.Annotation, backend rgenop.Backend, logger *zap.Logger) *Specializer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Specializer{
		MaxBlocks: DefaultMaxBlocks,
		graph:     ann.Graph,
		ann:       ann,
		backend:   backend,
		logger:    logger,
	}
}

// Stats 返回最近一次 Run 的统计
func (s *Specializer) Stats() Stats {
	return s.stats
}

// Run 按参数特化整个图
//
// 入口块是后端打开的第一个块。出错时生成的残余代码不完整，调用方应丢弃。
func (s *Specializer) Run(args []Arg) (*Result, error) {
	s.states = make(map[MergeKey]*mergeState)
	s.pending = nil
	s.returns = nil
	s.stats = Stats{}

	params := s.graph.Args()
	if len(args) != len(params) {
		return nil, errors.NewInternal(errors.I0002, "%s: expected %d arguments, got %d", s.graph.Name, len(params), len(args))
	}

	entry, err := s.newBlock()
	if err != nil {
		return nil, err
	}
	s.cur = entry

	greens := s.ann.GreenInputs()
	boxes := make([]Box, len(args))
	for i, a := range args {
		p := params[i]
		switch {
		case a.Known:
			if a.Value.Type != p.Type {
				return nil, errors.NewInternal(errors.I0003, "argument %s: expected %s, got %s", p.Name, p.Type, a.Value.Type)
			}
			boxes[i] = NewConstant(a.Value)
		case greens[i]:
			return nil, errors.New(errors.H0004, "argument %s is compile-time but no constant was given", p.Name).
				At(origin.InputPos(s.graph, s.graph.Start, i).Location(), "")
		default:
			boxes[i] = NewVariable(p.Type, s.backend.GenInputArg(entry, p.Type))
		}
	}

	if err := s.follow(s.graph.Start, boxes); err != nil {
		return nil, err
	}
	for len(s.pending) > 0 {
		c := s.pending[len(s.pending)-1]
		s.pending = s.pending[:len(s.pending)-1]

		boxes, err := s.arrive(c.link, c.boxes)
		if err != nil {
			return nil, err
		}
		if err := s.follow(c.target, boxes); err != nil {
			return nil, err
		}
	}

	result, err := s.finish()
	if err != nil {
		return nil, err
	}
	s.logger.Debug("specialized",
		zap.String("graph", s.graph.Name),
		zap.Int("blocks", s.stats.Blocks),
		zap.Int("forks", s.stats.Forks),
		zap.Int("generalizations", s.stats.Generalizations),
		zap.Int("forced", s.stats.Forced),
	)
	return result, nil
}

func (s *Specializer) newBlock() (rgenop.Block, error) {
	if s.MaxBlocks > 0 && s.stats.Blocks >= s.MaxBlocks {
		return nil, errors.NewInternal(errors.I0004, "%s: more than %d residual blocks", s.graph.Name, s.MaxBlocks)
	}
	s.stats.Blocks++
	return s.backend.NewBlock(), nil
}

// ============================================================================
// 逐块执行
// ============================================================================

// follow 从当前打开的块出发执行源块，直到路径结束
//
// 常量条件只走一边；运行时条件关闭当前块，假分支入栈，继续走真分支。
func (s *Specializer) follow(target *flowgraph.Block, boxes []Box) error {
	for {
		if target.IsReturn() {
			return s.reachReturn(boxes)
		}

		if s.graph.IsMergePoint(target) {
			next, ok, err := s.retrieveOrMerge(target, boxes)
			if err != nil || !ok {
				return err
			}
			boxes = next
		}

		frame := make(map[*flowgraph.Var]Box, len(target.InputArgs)+len(target.Ops))
		for i, v := range target.InputArgs {
			frame[v] = boxes[i]
		}
		for i, op := range target.Ops {
			box, err := s.evalOp(target, i, op, frame)
			if err != nil {
				return err
			}
			if op.Result != nil {
				frame[op.Result] = box
			}
		}

		if len(target.Exits) == 1 {
			link := target.Exits[0]
			boxes = gather(link.Args, frame)
			target = link.Target
			continue
		}

		sw := frame[target.ExitSwitch]
		if c, ok := sw.(*ConstantBox); ok {
			link := target.Exits[ExitIndex(c.Value.Truth())]
			boxes = gather(link.Args, frame)
			target = link.Target
			continue
		}

		cond, err := s.Force(sw)
		if err != nil {
			return err
		}
		falseLink, trueLink := s.backend.CloseBlock2(s.cur, cond)
		s.cur = nil
		s.stats.Forks++

		ifFalse, ifTrue := target.Exits[0], target.Exits[1]
		s.pending = append(s.pending, continuation{
			link:   falseLink,
			target: ifFalse.Target,
			boxes:  cloneAll(gather(ifFalse.Args, frame)),
		})

		boxes, err = s.arrive(trueLink, gather(ifTrue.Args, frame))
		if err != nil {
			return err
		}
		target = ifTrue.Target
	}
}

// ExitIndex 条件值对应的出口下标
func ExitIndex(cond bool) int {
	if cond {
		return flowgraph.ExitTrue
	}
	return flowgraph.ExitFalse
}

func gather(vars []*flowgraph.Var, frame map[*flowgraph.Var]Box) []Box {
	boxes := make([]Box, len(vars))
	for i, v := range vars {
		boxes[i] = frame[v]
	}
	return boxes
}

// arrive 为出边打开新块，运行时值改为新块的输入参数
func (s *Specializer) arrive(link rgenop.Link, boxes []Box) ([]Box, error) {
	block, err := s.newBlock()
	if err != nil {
		return nil, err
	}
	gen := newGeneralizer(s, block)
	out, err := gen.build(nil, boxes)
	if err != nil {
		return nil, err
	}
	s.backend.CloseLink(link, gen.args, block)
	s.cur = block
	return out, nil
}

// reachReturn 关闭当前块，返回值留到 finish 统一处理
func (s *Specializer) reachReturn(boxes []Box) error {
	rp := returnPoint{}
	if len(boxes) > 0 {
		rp.box = boxes[0]
		if _, ok := rp.box.(*ConstantBox); !ok {
			gv, err := s.Force(rp.box)
			if err != nil {
				return err
			}
			rp.gv = gv
		}
	}
	rp.link = s.backend.CloseBlock1(s.cur)
	s.cur = nil
	s.returns = append(s.returns, rp)
	s.stats.Returns++
	return nil
}

// ============================================================================
// 汇合点
// ============================================================================

// retrieveOrMerge 处理到达汇合点的状态
//
// 返回 ok=false 表示路径已跳入已有块而结束；否则当前块换成新块，返回
// 新块中的盒子。
func (s *Specializer) retrieveOrMerge(target *flowgraph.Block, boxes []Box) ([]Box, bool, error) {
	mask := s.ann.GreenMask(target)
	where := origin.Pos(s.graph, target, 0)

	var greens []flowgraph.Value
	var reds []Box
	for i, box := range boxes {
		if !mask[i] {
			reds = append(reds, box)
			continue
		}
		c, ok := box.(*ConstantBox)
		if !ok {
			return nil, false, errors.New(errors.H0004, "%s is compile-time but arrives as %s", target.InputArgs[i], box).
				At(where.Location(), "")
		}
		greens = append(greens, c.Value)
	}
	key := MergeKey{Pos: where, Greens: greensKey(greens)}

	state, seen := s.states[key]
	if !seen {
		s.stats.MergePoints++
		return s.enterState(key, target, mask, greens, nil, reds)
	}

	if len(state.boxes) != len(reds) {
		return nil, false, errors.NewInternal(errors.I0002, "%s: %d boxes recorded, %d arriving", target.Name, len(state.boxes), len(reds))
	}

	m := newMatcher()
	matched := true
	for i := range reds {
		ok, err := m.match(state.boxes[i], reds[i])
		if err != nil {
			return nil, false, err
		}
		if !ok {
			matched = false
			break
		}
	}

	if matched {
		args := make([]rgenop.GenVar, len(state.inputs))
		for i, in := range state.inputs {
			bound, ok := m.vars[in]
			if !ok {
				return nil, false, errors.NewInternal(errors.I0002, "%s: input %s not bound", target.Name, in)
			}
			gv, err := s.Force(bound)
			if err != nil {
				return nil, false, err
			}
			args[i] = gv
		}
		link := s.backend.CloseBlock1(s.cur)
		s.backend.CloseLink(link, args, state.block)
		s.cur = nil
		s.stats.Absorbed++
		return nil, false, nil
	}

	s.stats.Generalizations++
	s.logger.Debug("generalize",
		zap.String("graph", s.graph.Name),
		zap.String("block", target.Name),
		zap.String("greens", key.Greens),
	)
	return s.enterState(key, target, mask, greens, state.boxes, reds)
}

// enterState 打开汇合块并记录状态；olds 为 nil 表示首次到达
func (s *Specializer) enterState(key MergeKey, target *flowgraph.Block, mask []bool, greens []flowgraph.Value, olds, reds []Box) ([]Box, bool, error) {
	block, err := s.newBlock()
	if err != nil {
		return nil, false, err
	}
	gen := newGeneralizer(s, block)
	recorded, err := gen.build(olds, reds)
	if err != nil {
		return nil, false, err
	}
	link := s.backend.CloseBlock1(s.cur)
	s.backend.CloseLink(link, gen.args, block)
	s.cur = block
	s.states[key] = &mergeState{boxes: recorded, inputs: gen.inputs, block: block}

	working := cloneAll(recorded)
	out := make([]Box, len(target.InputArgs))
	g, r := 0, 0
	for i := range out {
		if mask[i] {
			out[i] = NewConstant(greens[g])
			g++
		} else {
			out[i] = working[r]
			r++
		}
	}
	return out, true, nil
}

// ============================================================================
// 返回
// ============================================================================

// finish 把所有返回路径接到一个最终块
//
// 所有路径返回同一常量时最终块直接返回该常量，否则最终块有一个输入参数。
func (s *Specializer) finish() (*Result, error) {
	if len(s.returns) == 0 {
		return nil, errors.NewInternal(errors.I0008, "%s: no path reaches the return block", s.graph.Name)
	}

	final, err := s.newBlock()
	if err != nil {
		return nil, err
	}
	result := &Result{Returns: len(s.returns)}

	if c, ok := s.commonConstant(); ok {
		for _, rp := range s.returns {
			s.backend.CloseLink(rp.link, nil, final)
		}
		var gv rgenop.GenVar
		if c != nil {
			gv = s.backend.GenConst(c.Value)
			v := c.Value
			result.Constant = &v
		}
		s.backend.CloseReturnLink(s.backend.CloseBlock1(final), gv)
		result.Stats = s.stats
		return result, nil
	}

	in := s.backend.GenInputArg(final, s.graph.Result)
	for _, rp := range s.returns {
		gv := rp.gv
		if gv == nil {
			if gv, err = s.Force(rp.box); err != nil {
				return nil, err
			}
		}
		s.backend.CloseLink(rp.link, []rgenop.GenVar{gv}, final)
	}
	s.backend.CloseReturnLink(s.backend.CloseBlock1(final), in)
	result.Stats = s.stats
	return result, nil
}

// commonConstant 所有路径是否返回同一常量；无返回值的图返回 (nil, true)
func (s *Specializer) commonConstant() (*ConstantBox, bool) {
	if s.graph.Result == flowgraph.Void {
		return nil, true
	}
	first, ok := s.returns[0].box.(*ConstantBox)
	if !ok {
		return nil, false
	}
	for _, rp := range s.returns[1:] {
		if !SameConstant(first, rp.box) {
			return nil, false
		}
	}
	return first, true
}
