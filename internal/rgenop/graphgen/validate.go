package graphgen

import (
	"fmt"

	"go.uber.org/multierr"
)

// Validate 检查残余程序的结构
//
// 每个块已关闭、每条出边已连接；操作数只能是常量或本块定义的值；
// 链接实参与目标块输入一致。
func (p *Program) Validate() error {
	var errs error
	report := func(format string, args ...interface{}) {
		errs = multierr.Append(errs, fmt.Errorf("%s: "+format, append([]interface{}{p.Name}, args...)...))
	}

	if len(p.Blocks) == 0 {
		report("empty program")
		return errs
	}

	returns := 0
	for _, b := range p.Blocks {
		local := make(map[*Var]bool)
		for _, v := range b.Inputs {
			local[v] = true
		}
		visible := func(v *Var) bool {
			return v != nil && (v.IsConst() || local[v])
		}

		for i, op := range b.Ops {
			for _, a := range op.Args {
				if !visible(a) {
					report("%s op %d (%s): operand %s not visible", b, i, op.Name, a)
				}
			}
			if op.Result != nil {
				local[op.Result] = true
			}
		}

		if !b.closed {
			report("%s is not closed", b)
			continue
		}
		if b.ExitSwitch != nil && !visible(b.ExitSwitch) {
			report("%s: exit switch %s not visible", b, b.ExitSwitch)
		}
		for _, l := range b.Exits {
			switch {
			case !l.closed:
				report("%s: exit %d is not connected", b, l.Case)
			case l.Return:
				returns++
				if l.Value != nil && !visible(l.Value) {
					report("%s: return value %s not visible", b, l.Value)
				}
			default:
				if len(l.Args) != len(l.Target.Inputs) {
					report("%s -> %s: %d args for %d inputs", b, l.Target, len(l.Args), len(l.Target.Inputs))
					continue
				}
				for i, a := range l.Args {
					if !visible(a) {
						report("%s -> %s: arg %s not visible", b, l.Target, a)
					} else if a.Type != l.Target.Inputs[i].Type {
						report("%s -> %s: arg %d has type %s, expected %s", b, l.Target, i, a.Type, l.Target.Inputs[i].Type)
					}
				}
			}
		}
	}

	if returns == 0 {
		report("no return link")
	}
	return errs
}
