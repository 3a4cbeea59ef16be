// jit_test.go - 特化编译器测试
//
// 这些测试验证配置加载、标注缓存和统计

package jit

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tangzhangming/timeshift/internal/errors"
	"github.com/tangzhangming/timeshift/internal/flowgraph"
	"github.com/tangzhangming/timeshift/internal/timeshift"
)

// scale f(k, x) = x * k + 1
func scale() *flowgraph.Graph {
	g := flowgraph.NewGraph("scale", flowgraph.Int)
	k := g.Start.Input("k", flowgraph.Int)
	x := g.Start.Input("x", flowgraph.Int)
	m := g.Start.Emit("int_mul", x, k)
	one := g.Start.Const(flowgraph.IntValue(1))
	g.Start.Return(g.Start.Emit("int_add", m, one))
	return g
}

// TestConfig 测试默认配置
func TestConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if !cfg.CacheAnnotations {
		t.Error("annotations should be cached by default")
	}
	if cfg.MaxResidualBlocks != timeshift.DefaultMaxBlocks {
		t.Errorf("unexpected block limit %d", cfg.MaxResidualBlocks)
	}
}

// TestLoadConfig 测试从文件加载配置
func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	content := `
[specializer]
log_level = "debug"
max_residual_blocks = 16
dump_residual = true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.MaxResidualBlocks != 16 || !cfg.DumpResidual {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.MaxFixpointIterations != DefaultConfig().MaxFixpointIterations {
		t.Error("missing keys should keep their defaults")
	}
	if _, err := cfg.NewLogger(); err != nil {
		t.Errorf("NewLogger: %v", err)
	}
}

// TestLoadConfigInvalid 测试非法配置
func TestLoadConfigInvalid(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{
		"level":  "[specializer]\nlog_level = \"loud\"\n",
		"blocks": "[specializer]\nmax_residual_blocks = 0\n",
		"syntax": "[specializer\n",
	} {
		path := filepath.Join(dir, name+".toml")
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadConfig(path); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

// TestFindConfigFile 测试向上查找配置文件
func TestFindConfigFile(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	if got := FindConfigFile(nested); got != "" {
		t.Skipf("a %s above the temp dir shadows the test: %s", ConfigFileName, got)
	}

	path := filepath.Join(root, ConfigFileName)
	if err := os.WriteFile(path, []byte("[specializer]\n"), 0644); err != nil {
		t.Fatal(err)
	}
	got := FindConfigFile(nested)
	want, _ := filepath.Abs(path)
	if got != want {
		t.Errorf("FindConfigFile = %q, expected %q", got, want)
	}
}

// TestAnnotationCache 测试同一签名复用标注
func TestAnnotationCache(t *testing.T) {
	c := NewCompiler(nil, nil)
	g := scale()

	args := func(k int64) []timeshift.Arg {
		return []timeshift.Arg{timeshift.KnownArg(flowgraph.IntValue(k)), timeshift.UnknownArg()}
	}

	r1, err := c.Specialize(g, args(2))
	if err != nil {
		t.Fatalf("specialize: %v", err)
	}
	r2, err := c.Specialize(g, args(3))
	if err != nil {
		t.Fatalf("specialize: %v", err)
	}
	if r1.Annotation != r2.Annotation {
		t.Error("same signature should reuse the annotation")
	}
	if r1.Signature != "CV" {
		t.Errorf("unexpected signature %q", r1.Signature)
	}

	for _, tt := range []struct {
		r    *Residual
		want int64
	}{{r1, 11}, {r2, 16}} {
		got, err := tt.r.Program.Run([]flowgraph.Value{flowgraph.IntValue(5)})
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if got.I != tt.want {
			t.Errorf("expected %d, got %s", tt.want, got)
		}
	}

	if _, err := c.Specialize(g, []timeshift.Arg{timeshift.UnknownArg(), timeshift.UnknownArg()}); err != nil {
		t.Fatalf("specialize: %v", err)
	}

	stats := c.Stats()
	if stats.CacheHits != 1 || stats.CacheMisses != 2 || stats.TotalCompiled != 3 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	c.Invalidate(g)
	if _, err := c.Specialize(g, args(4)); err != nil {
		t.Fatalf("specialize: %v", err)
	}
	if c.Stats().CacheMisses != 3 {
		t.Error("invalidated graph should be annotated again")
	}
}

// TestSpecializeFailure 测试失败时不返回残余程序
func TestSpecializeFailure(t *testing.T) {
	g := flowgraph.NewGraph("commit", flowgraph.Int)
	x := g.Start.Input("x", flowgraph.Int)
	g.Start.Return(g.Start.Emit("hint_concrete", x))

	c := NewCompiler(nil, nil)
	r, err := c.Specialize(g, []timeshift.Arg{timeshift.UnknownArg()})
	if err == nil || r != nil {
		t.Fatalf("expected failure without residual, got %v, %v", r, err)
	}
	if !errors.IsClassification(err) {
		t.Errorf("expected a classification error, got %v", err)
	}
	if c.Stats().Failures != 1 {
		t.Errorf("expected 1 failure, got %d", c.Stats().Failures)
	}
}

// TestSpecializeAll 测试批量特化
func TestSpecializeAll(t *testing.T) {
	c := NewCompiler(nil, nil)
	g := scale()

	var requests []Request
	for k := int64(0); k < 8; k++ {
		requests = append(requests, Request{
			Graph: g,
			Args:  []timeshift.Arg{timeshift.KnownArg(flowgraph.IntValue(k)), timeshift.UnknownArg()},
		})
	}

	out, err := c.SpecializeAll(context.Background(), requests)
	if err != nil {
		t.Fatalf("SpecializeAll: %v", err)
	}
	for k, r := range out {
		got, err := r.Program.Run([]flowgraph.Value{flowgraph.IntValue(10)})
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if got.I != int64(k)*10+1 {
			t.Errorf("k=%d: expected %d, got %s", k, k*10+1, got)
		}
	}
}

// union f(c, v) = (c ? &Cell{v} : &Cell{7}).x，两个分支的对象在汇合点合并
func union() *flowgraph.Graph {
	cell := flowgraph.NewStruct("Cell", flowgraph.Field{Name: "x", Type: flowgraph.Int})
	g := flowgraph.NewGraph("union", flowgraph.Int)
	c := g.Start.Input("c", flowgraph.Bool)
	v := g.Start.Input("v", flowgraph.Int)

	then := g.NewBlock("then")
	tv := then.Input("v", flowgraph.Int)
	els := g.NewBlock("else")
	join := g.NewBlock("join")
	jp := join.Input("p", flowgraph.PtrTo(cell))
	g.Start.Branch(c, then, []*flowgraph.Var{v}, els, nil)

	p1 := then.Malloc(cell)
	then.SetField(p1, "x", tv)
	then.Jump(join, p1)

	p2 := els.Malloc(cell)
	els.SetField(p2, "x", els.Const(flowgraph.IntValue(7)))
	els.Jump(join, p2)

	join.Return(join.GetField(jp, "x"))
	return g
}

// TestSpecializeAllShared 测试同一签名的批量特化共享标注和图分析
func TestSpecializeAllShared(t *testing.T) {
	c := NewCompiler(nil, nil)
	g := union()
	args := []timeshift.Arg{timeshift.UnknownArg(), timeshift.UnknownArg()}

	requests := make([]Request, 16)
	for i := range requests {
		requests[i] = Request{Graph: g, Args: args}
	}
	out, err := c.SpecializeAll(context.Background(), requests)
	if err != nil {
		t.Fatalf("SpecializeAll: %v", err)
	}

	for i, r := range out {
		if r.Program.CountOps("malloc") != 0 {
			t.Errorf("request %d: merged object should stay virtual:\n%s", i, r.Program)
		}
		for _, tc := range []struct {
			c    bool
			want int64
		}{{true, 5}, {false, 7}} {
			got, err := r.Program.Run([]flowgraph.Value{flowgraph.BoolValue(tc.c), flowgraph.IntValue(5)})
			if err != nil {
				t.Fatalf("request %d: run: %v", i, err)
			}
			if got.I != tc.want {
				t.Errorf("request %d, c=%v: expected %d, got %s", i, tc.c, tc.want, got)
			}
		}
	}

	stats := c.Stats()
	if stats.CacheHits+stats.CacheMisses != 16 || stats.TotalCompiled != 16 {
		t.Errorf("unexpected stats %+v", stats)
	}
	cached, err := c.Annotate(g, args)
	if err != nil {
		t.Fatal(err)
	}
	for i, r := range out {
		if r.Annotation != cached {
			t.Errorf("request %d should use the cached annotation", i)
		}
	}
}

// TestRecordCall 测试热点阈值
func TestRecordCall(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HotspotThreshold = 3
	c := NewCompiler(cfg, nil)
	g := scale()
	args := []timeshift.Arg{timeshift.UnknownArg(), timeshift.UnknownArg()}

	var hot []bool
	for i := 0; i < 4; i++ {
		hot = append(hot, c.RecordCall(g, args))
	}
	if hot[0] || hot[1] || !hot[2] || hot[3] {
		t.Errorf("expected only the third call to be hot, got %v", hot)
	}
}
