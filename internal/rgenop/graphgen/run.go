package graphgen

import (
	"fmt"

	"github.com/tangzhangming/timeshift/internal/flowgraph"
)

// MaxSteps 解释执行的块步数上限
const MaxSteps = 1 << 20

// Run 解释执行残余程序
func (p *Program) Run(args []flowgraph.Value) (flowgraph.Value, error) {
	block := p.Entry()
	if block == nil {
		return flowgraph.Value{}, fmt.Errorf("%s: empty program", p.Name)
	}
	if len(args) != len(block.Inputs) {
		return flowgraph.Value{}, fmt.Errorf("%s: expected %d arguments, got %d", p.Name, len(block.Inputs), len(args))
	}

	incoming := args
	for step := 0; step < MaxSteps; step++ {
		env := make(map[*Var]flowgraph.Value, len(block.Inputs)+len(block.Ops))
		for i, v := range block.Inputs {
			env[v] = incoming[i]
		}
		load := func(v *Var) flowgraph.Value {
			if v.IsConst() {
				return *v.Const
			}
			return env[v]
		}

		for _, op := range block.Ops {
			operands := make([]flowgraph.Value, len(op.Args))
			for i, a := range op.Args {
				operands[i] = load(a)
			}
			result, err := flowgraph.Exec(op.Name, operands, op.Field, op.Type)
			if err != nil {
				return flowgraph.Value{}, fmt.Errorf("%s/%s: %w", p.Name, block, err)
			}
			if op.Result != nil {
				env[op.Result] = result
			}
		}

		link := block.Exits[0]
		if block.ExitSwitch != nil && load(block.ExitSwitch).Truth() {
			link = block.Exits[1]
		}
		if link.Return {
			if link.Value == nil {
				return flowgraph.VoidValue, nil
			}
			return load(link.Value), nil
		}

		incoming = make([]flowgraph.Value, len(link.Args))
		for i, a := range link.Args {
			incoming[i] = load(a)
		}
		block = link.Target
	}
	return flowgraph.Value{}, fmt.Errorf("%s: step limit exceeded", p.Name)
}
