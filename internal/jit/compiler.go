// Package jit 把标注和特化串成一次编译
//
// Compiler 按调用签名缓存标注结果，每次特化使用新的残余程序；特化失败时
// 残余程序整个丢弃。
package jit

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tangzhangming/timeshift/internal/errors"
	"github.com/tangzhangming/timeshift/internal/flowgraph"
	"github.com/tangzhangming/timeshift/internal/hint"
	"github.com/tangzhangming/timeshift/internal/rgenop/graphgen"
	"github.com/tangzhangming/timeshift/internal/timeshift"
)

// ============================================================================
// 编译器
// ============================================================================

// Compiler 特化编译器，可以并发使用
type Compiler struct {
	config      *Config
	logger      *zap.Logger
	annotations sync.Map // map[cacheKey]*hint.Annotation
	calls       sync.Map // map[cacheKey]*atomic.Int64

	stats counters
}

// Residual 一次特化的产物
type Residual struct {
	Program    *graphgen.Program
	Result     *timeshift.Result
	Annotation *hint.Annotation
	Signature  string
}

type cacheKey struct {
	graph     *flowgraph.Graph
	signature string
}

// counters 编译统计计数器
type counters struct {
	compiled       atomic.Int64
	cacheHits      atomic.Int64
	cacheMisses    atomic.Int64
	failures       atomic.Int64
	residualOps    atomic.Int64
	residualBlocks atomic.Int64
}

// CompilerStats 编译器统计
type CompilerStats struct {
	TotalCompiled  int64 // 成功特化的次数
	CacheHits      int64 // 标注缓存命中
	CacheMisses    int64 // 标注缓存未命中
	Failures       int64 // 失败次数
	ResidualOps    int64 // 生成的残余操作总数
	ResidualBlocks int64 // 生成的残余块总数
}

// NewCompiler 创建编译器；config 为 nil 时使用默认配置，logger 为 nil 时不输出日志
func NewCompiler(config *Config, logger *zap.Logger) *Compiler {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compiler{config: config, logger: logger}
}

// Signature 调用签名：每个参数已知为 C，运行时为 V
func Signature(args []timeshift.Arg) string {
	var sb strings.Builder
	for _, a := range args {
		if a.Known {
			sb.WriteByte('C')
		} else {
			sb.WriteByte('V')
		}
	}
	return sb.String()
}

// inputs 签名对应的标注入口值
//
// 已知参数只按常量标注，不带具体值，同一签名的标注可以复用。
func inputs(g *flowgraph.Graph, args []timeshift.Arg) []hint.Value {
	params := g.Args()
	values := make([]hint.Value, len(args))
	for i, a := range args {
		if a.Known {
			values[i] = hint.Constant(params[i].Type)
		} else {
			values[i] = hint.Variable(params[i].Type)
		}
	}
	return values
}

// ============================================================================
// 编译接口
// ============================================================================

// Annotate 返回签名对应的标注，按配置使用缓存
func (c *Compiler) Annotate(g *flowgraph.Graph, args []timeshift.Arg) (*hint.Annotation, error) {
	if len(args) != len(g.Args()) {
		return nil, errors.NewInternal(errors.I0002, "%s: expected %d arguments, got %d", g.Name, len(g.Args()), len(args))
	}
	key := cacheKey{graph: g, signature: Signature(args)}
	if c.config.CacheAnnotations {
		if cached, ok := c.annotations.Load(key); ok {
			c.stats.cacheHits.Inc()
			return cached.(*hint.Annotation), nil
		}
	}
	c.stats.cacheMisses.Inc()

	annotator := hint.NewAnnotator(c.config.MaxFixpointIterations, c.logger)
	ann, err := annotator.Annotate(g, inputs(g, args))
	if err != nil {
		return nil, err
	}
	for _, w := range ann.Warnings {
		c.logger.Warn("merge incompatibility", zap.String("graph", g.Name), zap.Error(w))
	}

	if c.config.CacheAnnotations {
		actual, _ := c.annotations.LoadOrStore(key, ann)
		ann = actual.(*hint.Annotation)
	}
	return ann, nil
}

// Specialize 标注并特化图
//
// 失败时不返回任何残余代码。
func (c *Compiler) Specialize(g *flowgraph.Graph, args []timeshift.Arg) (*Residual, error) {
	residual, err := c.specialize(g, args)
	if err != nil {
		c.stats.failures.Inc()
		c.logger.Debug("specialization failed", zap.String("graph", g.Name), zap.Error(err))
		return nil, err
	}
	return residual, nil
}

func (c *Compiler) specialize(g *flowgraph.Graph, args []timeshift.Arg) (*Residual, error) {
	ann, err := c.Annotate(g, args)
	if err != nil {
		return nil, err
	}

	prog := graphgen.New(g.Name)
	s := timeshift.New(ann, prog, c.logger)
	s.MaxBlocks = c.config.MaxResidualBlocks
	result, err := s.Run(args)
	if err != nil {
		return nil, err
	}
	if err := prog.Validate(); err != nil {
		return nil, errors.NewInternal(errors.I0007, "%s: invalid residual program: %v", g.Name, err)
	}

	c.stats.compiled.Inc()
	c.stats.residualOps.Add(int64(prog.NumOps()))
	c.stats.residualBlocks.Add(int64(prog.NumBlocks()))

	signature := Signature(args)
	if c.config.DumpResidual {
		c.logger.Info("residual program",
			zap.String("graph", g.Name),
			zap.String("key", signature),
			zap.Int("blocks", prog.NumBlocks()),
			zap.Int("ops", prog.NumOps()),
			zap.String("program", prog.String()),
		)
	}
	return &Residual{Program: prog, Result: result, Annotation: ann, Signature: signature}, nil
}

// Request 批量特化中的一项
type Request struct {
	Graph *flowgraph.Graph
	Args  []timeshift.Arg
}

// SpecializeAll 并发特化一批请求，结果与请求一一对应
//
// 任何一项失败时取消其余尚未开始的项，返回第一个错误。
func (c *Compiler) SpecializeAll(ctx context.Context, requests []Request) ([]*Residual, error) {
	out := make([]*Residual, len(requests))
	group, ctx := errgroup.WithContext(ctx)
	for i, req := range requests {
		i, req := i, req
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			residual, err := c.Specialize(req.Graph, req.Args)
			if err != nil {
				return err
			}
			out[i] = residual
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ============================================================================
// 热点检测
// ============================================================================

// RecordCall 记录一次调用，达到阈值时返回 true（只返回一次）
func (c *Compiler) RecordCall(g *flowgraph.Graph, args []timeshift.Arg) bool {
	if c.config.HotspotThreshold <= 0 {
		return true
	}
	key := cacheKey{graph: g, signature: Signature(args)}
	counter, _ := c.calls.LoadOrStore(key, atomic.NewInt64(0))
	return counter.(*atomic.Int64).Inc() == int64(c.config.HotspotThreshold)
}

// ============================================================================
// 统计和缓存管理
// ============================================================================

// Stats 获取编译器统计
func (c *Compiler) Stats() CompilerStats {
	return CompilerStats{
		TotalCompiled:  c.stats.compiled.Load(),
		CacheHits:      c.stats.cacheHits.Load(),
		CacheMisses:    c.stats.cacheMisses.Load(),
		Failures:       c.stats.failures.Load(),
		ResidualOps:    c.stats.residualOps.Load(),
		ResidualBlocks: c.stats.residualBlocks.Load(),
	}
}

// Invalidate 丢弃图的全部缓存
func (c *Compiler) Invalidate(g *flowgraph.Graph) {
	drop := func(m *sync.Map) {
		m.Range(func(k, _ interface{}) bool {
			if k.(cacheKey).graph == g {
				m.Delete(k)
			}
			return true
		})
	}
	drop(&c.annotations)
	drop(&c.calls)
}
