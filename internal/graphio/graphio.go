// Package graphio 从 YAML 描述加载控制流图
//
// 文件格式：
//
//	types:
//	  Pair: {kind: struct, fields: [{name: a, type: int}, {name: b, type: int}]}
//	graph:
//	  name: f
//	  result: int
//	  args: [{name: x, type: int}]
//	  blocks:
//	    - name: start
//	      ops:
//	        - {result: y, op: int_add, args: [x, x]}
//	      exit: {return: {value: y}}
//
// 第一个块是入口，它的输入参数就是 args。出口是 jump、branch 或 return 之一。
package graphio

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/tangzhangming/timeshift/internal/flowgraph"
)

// ============================================================================
// 文件结构
// ============================================================================

// Document 整个文件
type Document struct {
	Types map[string]TypeSpec `yaml:"types"`
	Graph GraphSpec           `yaml:"graph"`
}

// TypeSpec 命名类型
type TypeSpec struct {
	Kind   string      `yaml:"kind"` // struct / union / array
	Fields []ParamSpec `yaml:"fields"`
	Elem   string      `yaml:"elem"`
	Len    int         `yaml:"len"`
}

// ParamSpec 名称和类型
type ParamSpec struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// GraphSpec 图
type GraphSpec struct {
	Name   string      `yaml:"name"`
	Result string      `yaml:"result"`
	Args   []ParamSpec `yaml:"args"`
	Blocks []BlockSpec `yaml:"blocks"`
}

// BlockSpec 基本块
type BlockSpec struct {
	Name   string      `yaml:"name"`
	Inputs []ParamSpec `yaml:"inputs"`
	Ops    []OpSpec    `yaml:"ops"`
	Exit   ExitSpec    `yaml:"exit"`
}

// OpSpec 一条操作
type OpSpec struct {
	Result string    `yaml:"result"`
	Op     string    `yaml:"op"`
	Args   []string  `yaml:"args"`
	Field  string    `yaml:"field"`
	Type   string    `yaml:"type"`
	Value  yaml.Node `yaml:"value"`
}

// LinkSpec 链接
type LinkSpec struct {
	Target string   `yaml:"target"`
	Args   []string `yaml:"args"`
}

// BranchSpec 条件出口
type BranchSpec struct {
	Cond  string   `yaml:"cond"`
	Then LinkSpec `yaml:"then"`
	Else LinkSpec `yaml:"else"`
}

// ReturnSpec 返回；void 图的 value 为空
type ReturnSpec struct {
	Value string `yaml:"value"`
}

// ExitSpec 出口，三者恰好出现一个
type ExitSpec struct {
	Jump   *LinkSpec   `yaml:"jump"`
	Branch *BranchSpec `yaml:"branch"`
	Return *ReturnSpec `yaml:"return"`
}

// ============================================================================
// 加载
// ============================================================================

// LoadFile 从文件加载图
func LoadFile(path string) (*flowgraph.Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load 解析 YAML 并构建、检查图
func Load(r io.Reader) (*flowgraph.Graph, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse graph file: %w", err)
	}
	return Build(&doc)
}

// Build 由文件结构构建图；所有问题一次性汇总返回
func Build(doc *Document) (*flowgraph.Graph, error) {
	types, err := resolveTypes(doc.Types)
	if err != nil {
		return nil, err
	}
	b := &builder{doc: &doc.Graph, types: types}
	return b.build()
}

type builder struct {
	doc   *GraphSpec
	types map[string]*flowgraph.Type
	graph *flowgraph.Graph
	errs  error

	blocks map[string]*flowgraph.Block
	scopes map[*flowgraph.Block]map[string]*flowgraph.Var
}

func (b *builder) report(format string, args ...interface{}) {
	b.errs = multierr.Append(b.errs, fmt.Errorf(format, args...))
}

func (b *builder) build() (*flowgraph.Graph, error) {
	spec := b.doc
	if spec.Name == "" {
		spec.Name = "main"
	}
	if len(spec.Blocks) == 0 {
		return nil, fmt.Errorf("graph %s has no blocks", spec.Name)
	}
	result := flowgraph.Void
	if spec.Result != "" {
		t, err := lookupType(b.types, spec.Result)
		if err != nil {
			return nil, err
		}
		result = t
	}

	g := flowgraph.NewGraph(spec.Name, result)
	b.graph = g
	b.blocks = make(map[string]*flowgraph.Block)
	b.scopes = make(map[*flowgraph.Block]map[string]*flowgraph.Var)

	// 先建好全部块和输入参数，链接可以向前引用
	for i, bs := range spec.Blocks {
		var blk *flowgraph.Block
		inputs := bs.Inputs
		if i == 0 {
			blk = g.Start
			blk.Name = bs.Name
			if len(bs.Inputs) > 0 {
				b.report("entry block %s: inputs come from graph args", bs.Name)
			}
			inputs = spec.Args
		} else {
			blk = g.NewBlock(bs.Name)
		}
		if bs.Name == "" || bs.Name == g.Return.Name {
			b.report("block %d: invalid name %q", i, bs.Name)
		}
		if _, dup := b.blocks[bs.Name]; dup {
			b.report("block %s defined twice", bs.Name)
		}
		b.blocks[bs.Name] = blk

		scope := make(map[string]*flowgraph.Var)
		for _, in := range inputs {
			t, err := lookupType(b.types, in.Type)
			if err != nil {
				b.report("block %s input %s: %v", bs.Name, in.Name, err)
				continue
			}
			scope[in.Name] = blk.Input(in.Name, t)
		}
		b.scopes[blk] = scope
	}
	if b.errs != nil {
		return nil, b.errs
	}

	for _, bs := range spec.Blocks {
		b.fillBlock(b.blocks[bs.Name], bs)
	}
	if b.errs != nil {
		return nil, b.errs
	}
	if err := flowgraph.Validate(g); err != nil {
		return nil, err
	}
	return g, nil
}

func (b *builder) fillBlock(blk *flowgraph.Block, bs BlockSpec) {
	scope := b.scopes[blk]
	lookup := func(name string) *flowgraph.Var {
		v, ok := scope[name]
		if !ok {
			b.report("block %s: undefined variable %s", bs.Name, name)
		}
		return v
	}
	lookupAll := func(names []string) ([]*flowgraph.Var, bool) {
		vars := make([]*flowgraph.Var, len(names))
		ok := true
		for i, n := range names {
			vars[i] = lookup(n)
			ok = ok && vars[i] != nil
		}
		return vars, ok
	}

	for i, spec := range bs.Ops {
		args, ok := lookupAll(spec.Args)
		if !ok {
			continue
		}
		op := &flowgraph.Op{Name: spec.Op, Args: args, Field: spec.Field}
		if spec.Type != "" {
			t, err := lookupType(b.types, spec.Type)
			if err != nil {
				b.report("block %s op %d: %v", bs.Name, i, err)
				continue
			}
			op.Type = t
		}
		if spec.Op == "const" {
			if op.Type == nil {
				op.Type = flowgraph.Int
			}
			v, err := decodeValue(op.Type, &spec.Value)
			if err != nil {
				b.report("block %s op %d: %v", bs.Name, i, err)
				continue
			}
			op.Value = v
			op.Type = nil
		}

		result, err := blk.EmitChecked(op)
		if err != nil {
			b.report("op %d: %v", i, err)
			continue
		}
		switch {
		case result == nil && spec.Result != "":
			b.report("block %s op %d: %s has no result to bind to %s", bs.Name, i, spec.Op, spec.Result)
		case result != nil && spec.Result != "":
			if _, dup := scope[spec.Result]; dup {
				b.report("block %s op %d: %s defined twice", bs.Name, i, spec.Result)
			}
			result.Name = spec.Result
			scope[spec.Result] = result
		}
	}

	exit := bs.Exit
	count := 0
	for _, set := range []bool{exit.Jump != nil, exit.Branch != nil, exit.Return != nil} {
		if set {
			count++
		}
	}
	if count != 1 {
		b.report("block %s: exactly one of jump, branch, return is required", bs.Name)
		return
	}

	switch {
	case exit.Jump != nil:
		target, args, ok := b.link(bs.Name, *exit.Jump, lookupAll)
		if ok {
			blk.Jump(target, args...)
		}
	case exit.Branch != nil:
		cond := lookup(exit.Branch.Cond)
		ifTrue, trueArgs, ok1 := b.link(bs.Name, exit.Branch.Then, lookupAll)
		ifFalse, falseArgs, ok2 := b.link(bs.Name, exit.Branch.Else, lookupAll)
		if cond != nil && ok1 && ok2 {
			blk.Branch(cond, ifTrue, trueArgs, ifFalse, falseArgs)
		}
	default:
		if exit.Return.Value == "" {
			blk.Return(nil)
			return
		}
		if v := lookup(exit.Return.Value); v != nil {
			blk.Return(v)
		}
	}
}

func (b *builder) link(from string, ls LinkSpec, lookupAll func([]string) ([]*flowgraph.Var, bool)) (*flowgraph.Block, []*flowgraph.Var, bool) {
	target, ok := b.blocks[ls.Target]
	if !ok {
		b.report("block %s: unknown target %q", from, ls.Target)
		return nil, nil, false
	}
	args, ok := lookupAll(ls.Args)
	return target, args, ok
}

// ============================================================================
// 类型与常量
// ============================================================================

func resolveTypes(specs map[string]TypeSpec) (map[string]*flowgraph.Type, error) {
	types := make(map[string]*flowgraph.Type, len(specs))
	for name, ts := range specs {
		t := &flowgraph.Type{Name: name}
		switch ts.Kind {
		case "struct":
			t.Kind = flowgraph.KindStruct
		case "union":
			t.Kind = flowgraph.KindUnion
		case "array":
			t.Kind = flowgraph.KindArray
			t.Len = ts.Len
		default:
			return nil, fmt.Errorf("type %s: unknown kind %q", name, ts.Kind)
		}
		types[name] = t
	}

	var errs error
	for name, ts := range specs {
		t := types[name]
		if t.Kind == flowgraph.KindArray {
			elem, err := lookupType(types, ts.Elem)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("type %s: %w", name, err))
				continue
			}
			if ts.Len <= 0 {
				errs = multierr.Append(errs, fmt.Errorf("type %s: array length must be positive", name))
			}
			t.Elem = elem
			continue
		}
		for _, f := range ts.Fields {
			ft, err := lookupType(types, f.Type)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("type %s field %s: %w", name, f.Name, err))
				continue
			}
			t.Fields = append(t.Fields, flowgraph.Field{Name: f.Name, Type: ft})
		}
	}
	if errs != nil {
		return nil, errs
	}
	return types, nil
}

// lookupType 解析类型名：基本类型、命名类型或 *T
func lookupType(types map[string]*flowgraph.Type, name string) (*flowgraph.Type, error) {
	if strings.HasPrefix(name, "*") {
		elem, err := lookupType(types, name[1:])
		if err != nil {
			return nil, err
		}
		return flowgraph.PtrTo(elem), nil
	}
	switch name {
	case "void":
		return flowgraph.Void, nil
	case "bool":
		return flowgraph.Bool, nil
	case "int":
		return flowgraph.Int, nil
	case "float":
		return flowgraph.Float, nil
	case "string":
		return flowgraph.String, nil
	}
	if t, ok := types[name]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("unknown type %q", name)
}

func decodeValue(t *flowgraph.Type, node *yaml.Node) (flowgraph.Value, error) {
	if node.Kind == 0 {
		return flowgraph.Zero(t), nil
	}
	switch t.Kind {
	case flowgraph.KindInt:
		var i int64
		err := node.Decode(&i)
		return flowgraph.IntValue(i), err
	case flowgraph.KindBool:
		var v bool
		err := node.Decode(&v)
		return flowgraph.BoolValue(v), err
	case flowgraph.KindFloat:
		var f float64
		err := node.Decode(&f)
		return flowgraph.FloatValue(f), err
	case flowgraph.KindString:
		var s string
		err := node.Decode(&s)
		return flowgraph.StringValue(s), err
	case flowgraph.KindPtr:
		if node.Tag == "!!null" {
			return flowgraph.NullValue(t), nil
		}
		return flowgraph.Value{}, fmt.Errorf("line %d: only null pointer constants are supported", node.Line)
	}
	return flowgraph.Value{}, fmt.Errorf("line %d: no constants of type %s", node.Line, t)
}

// ParseValue 解析命令行给出的参数值
func ParseValue(t *flowgraph.Type, s string) (flowgraph.Value, error) {
	switch t.Kind {
	case flowgraph.KindInt:
		i, err := strconv.ParseInt(s, 0, 64)
		return flowgraph.IntValue(i), err
	case flowgraph.KindBool:
		v, err := strconv.ParseBool(s)
		return flowgraph.BoolValue(v), err
	case flowgraph.KindFloat:
		f, err := strconv.ParseFloat(s, 64)
		return flowgraph.FloatValue(f), err
	case flowgraph.KindString:
		return flowgraph.StringValue(s), nil
	case flowgraph.KindPtr:
		if s == "null" {
			return flowgraph.NullValue(t), nil
		}
	}
	return flowgraph.Value{}, fmt.Errorf("cannot parse %q as %s", s, t)
}
