package ssaconv

import (
	"fmt"
	"go/ast"
	"go/importer"
	"go/parser"
	"go/token"
	"go/types"
	"sort"

	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/tangzhangming/timeshift/internal/flowgraph"
)

// Package 一个已构建 SSA 的源文件
type Package struct {
	pkg *ssa.Package
}

// LoadFile 解析并类型检查单个 Go 源文件，构建它的 SSA
func LoadFile(path string) (*Package, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
	if err != nil {
		return nil, err
	}
	return build(fset, file)
}

// LoadSource 从内存中的源码构建 SSA，name 只用于位置信息
func LoadSource(name, src string) (*Package, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, name, src, parser.ParseComments)
	if err != nil {
		return nil, err
	}
	return build(fset, file)
}

func build(fset *token.FileSet, file *ast.File) (*Package, error) {
	pkg := types.NewPackage(file.Name.Name, file.Name.Name)
	conf := &types.Config{Importer: importer.Default()}
	built, _, err := ssautil.BuildPackage(conf, fset, pkg, []*ast.File{file}, ssa.SanityCheckFunctions)
	if err != nil {
		return nil, err
	}
	return &Package{pkg: built}, nil
}

// Functions 可转换的函数名（排序后，不含提示函数）
func (p *Package) Functions() []string {
	var names []string
	for name, member := range p.pkg.Members {
		if _, ok := member.(*ssa.Function); !ok {
			continue
		}
		switch name {
		case "hint_concrete", "hint_variable", "init":
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Graph 转换指定函数
func (p *Package) Graph(name string) (*flowgraph.Graph, error) {
	fn := p.pkg.Func(name)
	if fn == nil {
		return nil, fmt.Errorf("function %s not found in package %s", name, p.pkg.Pkg.Name())
	}
	return Convert(fn)
}
