package hint

import (
	"fmt"
	"sort"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tangzhangming/timeshift/internal/errors"
	"github.com/tangzhangming/timeshift/internal/flowgraph"
	"github.com/tangzhangming/timeshift/internal/origin"
)

// DefaultMaxIterations 默认的不动点迭代上限（处理块的次数）
const DefaultMaxIterations = 10000

// Annotator 绑定时间分析器
type Annotator struct {
	MaxIterations int
	logger        *zap.Logger
}

// NewAnnotator 创建分析器；logger 为 nil 时不输出日志
func NewAnnotator(maxIterations int, logger *zap.Logger) *Annotator {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Annotator{MaxIterations: maxIterations, logger: logger}
}

// pass 一次分析的状态
type pass struct {
	graph    *flowgraph.Graph
	bk       *Bookkeeper
	bindings map[*flowgraph.Var]Value
	entries  map[*flowgraph.Block][]Value
	visited  map[*flowgraph.Block]bool
	failures map[origin.PositionKey]error

	queue   []*flowgraph.Block
	inQueue map[*flowgraph.Block]bool
}

// Annotate 对图做绑定时间分析
//
// inputs 是每个形参的入口值。没有来源的 Constant 会挂上形参位置的来源。
// 分类错误不会立即中止：当前这轮不动点跑完后一并返回。
func (a *Annotator) Annotate(g *flowgraph.Graph, inputs []Value) (*Annotation, error) {
	if len(inputs) != len(g.Args()) {
		return nil, errors.NewInternal(errors.I0002, "%s: %d inputs for %d arguments", g.Name, len(inputs), len(g.Args()))
	}

	p := &pass{
		graph:    g,
		bk:       NewBookkeeper(),
		bindings: make(map[*flowgraph.Var]Value),
		entries:  make(map[*flowgraph.Block][]Value),
		visited:  make(map[*flowgraph.Block]bool),
		failures: make(map[origin.PositionKey]error),
		inQueue:  make(map[*flowgraph.Block]bool),
	}

	entry := make([]Value, len(inputs))
	for i, v := range inputs {
		arg := g.Args()[i]
		if v.Type != arg.Type {
			return nil, errors.NewInternal(errors.I0006, "%s: input %s has type %s, got %s", g.Name, arg, arg.Type, v.Type)
		}
		entry[i] = inputValue(p.bk, origin.InputPos(g, g.Start, i), v)
	}
	p.entries[g.Start] = entry
	p.enqueue(g.Start)

	iterations := 0
	for len(p.queue) > 0 {
		iterations++
		if iterations > a.MaxIterations {
			return nil, errors.NewInternal(errors.I0005, "%s: no fixpoint after %d iterations", g.Name, a.MaxIterations)
		}

		b := p.queue[0]
		p.queue = p.queue[1:]
		p.inQueue[b] = false

		if err := p.flow(b); err != nil {
			return nil, err
		}
		p.reschedule()
	}

	ann := &Annotation{
		Graph:      g,
		Iterations: iterations,
		Warnings:   p.bk.warnings,
		bindings:   p.bindings,
		entries:    p.entries,
		bk:         p.bk,
	}

	a.logger.Debug("annotated",
		zap.String("graph", g.Name),
		zap.Int("iterations", iterations),
		zap.Int("origins", p.bk.Tracker.NumNodes()),
		zap.Int("fixed", p.bk.Tracker.NumFixed()),
		zap.Int("containers", p.bk.containers),
		zap.Int("degenerated", p.bk.degenerations),
		zap.Int("warnings", len(p.bk.warnings)))

	if err := p.collectFailures(); err != nil {
		a.logger.Debug("classification failed", zap.String("graph", g.Name), zap.Error(err))
		return nil, err
	}
	p.bk.seal()
	return ann, nil
}

func (p *pass) enqueue(b *flowgraph.Block) {
	if p.inQueue[b] {
		return
	}
	p.inQueue[b] = true
	p.queue = append(p.queue, b)
}

// flow 在块上执行一遍规则，并把出口值合并到后继入口
func (p *pass) flow(b *flowgraph.Block) error {
	p.visited[b] = true
	g := p.graph
	tr := p.bk.Tracker

	for i, v := range b.InputArgs {
		p.bindings[v] = p.entries[b][i]
	}

	for i, op := range b.Ops {
		pos := origin.Pos(g, b, i)
		if err := p.eval(pos, op); err != nil {
			return err
		}
	}

	for _, link := range b.Exits {
		values := make([]Value, len(link.Args))
		for i, v := range link.Args {
			values[i] = p.bindings[v]
		}
		restore := tr.Enter(origin.Pos(g, b, len(b.Ops)))
		err := p.mergeInto(link.Target, values)
		restore()
		if err != nil {
			return err
		}
	}
	return nil
}

// eval 执行一条操作的规则；分类错误记录在位置上，结果按 Variable 继续
func (p *pass) eval(pos origin.PositionKey, op *flowgraph.Op) error {
	defer p.bk.Tracker.Enter(pos)()
	delete(p.failures, pos)

	args := make([]Value, len(op.Args))
	for i, v := range op.Args {
		args[i] = p.bindings[v].Resolve()
	}

	var result Value
	rule, ok := rules[op.Name]
	if !ok {
		p.failures[pos] = errors.New(errors.H0001, "no binding-time rule for %s", op.Name).At(pos.Location(), op.Name)
	} else {
		var err error
		result, err = rule(p.bk, op, args)
		if err != nil {
			kind, _ := errors.KindOf(err)
			switch kind {
			case errors.Classification:
				if e, ok := err.(*errors.Error); ok {
					e.At(pos.Location(), op.Name)
				}
				p.failures[pos] = err
				result = Value{}
			case errors.MergeIncompatibility:
				p.bk.warn(err)
			default:
				return fmt.Errorf("%s (%s): %w", pos, op.Name, err)
			}
		}
	}

	if op.Result != nil {
		if !result.IsValid() {
			result = Variable(op.Result.Type)
		}
		p.bindings[op.Result] = result
	}
	return nil
}

// mergeInto 把链接实参的值合并进目标块入口，有变化时重新调度目标块
func (p *pass) mergeInto(target *flowgraph.Block, values []Value) error {
	old, seen := p.entries[target]
	if !seen {
		p.entries[target] = values
		p.enqueue(target)
		return nil
	}

	tr := p.bk.Tracker
	changed := false
	merged := make([]Value, len(old))
	for i := range old {
		restore := tr.Enter(origin.InputPos(p.graph, target, i))
		absorbInto(tr, old[i], values[i])
		v, err := Join(old[i], values[i])
		restore()

		if err != nil {
			if !isMergeIncompatibility(err) {
				return fmt.Errorf("%s/%s input %d: %w", p.graph.Name, target.Name, i, err)
			}
			p.bk.warn(err)
		}
		merged[i] = v
		if !Equal(v, old[i]) {
			changed = true
		}
	}
	p.entries[target] = merged
	if changed {
		p.enqueue(target)
	}
	return nil
}

// absorbInto Concrete 吸收 Constant 时，Constant 的来源链随之固定
func absorbInto(tr *origin.Tracker, a, b Value) {
	a, b = a.Resolve(), b.Resolve()
	switch {
	case a.Kind == KindConcrete && b.Kind == KindConstant:
		tr.Fix(b.Origins)
	case b.Kind == KindConcrete && a.Kind == KindConstant:
		tr.Fix(a.Origins)
	}
}

// reschedule 字段值变化时调度读者所在块；有实例退化时重算全部已访问块
func (p *pass) reschedule() {
	positions, all := p.bk.takeDirty()
	if all {
		for _, b := range p.graph.Blocks {
			if p.visited[b] {
				p.enqueue(b)
			}
		}
		return
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Less(positions[j]) })
	for _, pos := range positions {
		p.enqueue(pos.Block)
	}
}

// collectFailures 按位置顺序汇总分类错误
func (p *pass) collectFailures() error {
	if len(p.failures) == 0 {
		return nil
	}
	positions := make([]origin.PositionKey, 0, len(p.failures))
	for pos := range p.failures {
		positions = append(positions, pos)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Less(positions[j]) })

	var errs error
	for _, pos := range positions {
		errs = multierr.Append(errs, p.failures[pos])
	}
	return errs
}
