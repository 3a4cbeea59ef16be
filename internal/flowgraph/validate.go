package flowgraph

import (
	"fmt"

	"go.uber.org/multierr"
)

// Validate 检查图的结构
//
// 检查项：操作数在块内可见、出口数量与 ExitSwitch 一致、链接实参与目标
// 输入参数的数量和类型一致、返回块可达。所有问题一次性汇总返回。
func Validate(g *Graph) error {
	var errs error
	report := func(format string, args ...interface{}) {
		errs = multierr.Append(errs, fmt.Errorf("%s: "+format, append([]interface{}{g.Name}, args...)...))
	}

	if g.Start == nil || g.Return == nil {
		report("missing start or return block")
		return errs
	}

	for _, b := range g.Blocks {
		defined := make(map[*Var]bool)
		for _, v := range b.InputArgs {
			defined[v] = true
		}
		for i, op := range b.Ops {
			for _, a := range op.Args {
				if !defined[a] {
					report("block %s op %d (%s): operand %s not defined in block", b.Name, i, op.Name, a)
				}
			}
			if op.Result != nil {
				if defined[op.Result] {
					report("block %s op %d: %s defined twice", b.Name, i, op.Result)
				}
				defined[op.Result] = true
			}
		}

		if b.IsReturn() {
			if len(b.Exits) != 0 || len(b.Ops) != 0 {
				report("return block must be empty")
			}
			continue
		}

		switch len(b.Exits) {
		case 0:
			report("block %s has no exits", b.Name)
		case 1:
			if b.ExitSwitch != nil {
				report("block %s has an exit switch but one exit", b.Name)
			}
		case 2:
			if b.ExitSwitch == nil {
				report("block %s has two exits but no exit switch", b.Name)
			} else {
				if !defined[b.ExitSwitch] {
					report("block %s: exit switch %s not defined in block", b.Name, b.ExitSwitch)
				}
				if b.ExitSwitch.Type != Bool {
					report("block %s: exit switch %s has type %s", b.Name, b.ExitSwitch, b.ExitSwitch.Type)
				}
			}
		default:
			report("block %s has %d exits", b.Name, len(b.Exits))
		}

		for _, l := range b.Exits {
			if l.Target == nil {
				report("block %s: link without target", b.Name)
				continue
			}
			if len(l.Args) != len(l.Target.InputArgs) {
				report("link %s -> %s: %d args for %d inputs", b.Name, l.Target.Name, len(l.Args), len(l.Target.InputArgs))
				continue
			}
			for i, a := range l.Args {
				if !defined[a] {
					report("link %s -> %s: arg %s not defined in block", b.Name, l.Target.Name, a)
				}
				if a.Type != l.Target.InputArgs[i].Type {
					report("link %s -> %s: arg %d has type %s, expected %s",
						b.Name, l.Target.Name, i, a.Type, l.Target.InputArgs[i].Type)
				}
			}
		}
	}

	if !reachable(g, g.Return) {
		report("return block is unreachable")
	}
	return errs
}

func reachable(g *Graph, target *Block) bool {
	seen := make(map[*Block]bool)
	stack := []*Block{g.Start}
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if b == target {
			return true
		}
		if seen[b] {
			continue
		}
		seen[b] = true
		for _, l := range b.Exits {
			stack = append(stack, l.Target)
		}
	}
	return false
}
