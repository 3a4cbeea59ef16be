package flowgraph

import "fmt"

// MaxInterpSteps 解释执行的块步数上限
const MaxInterpSteps = 1 << 20

// Interpret 直接解释执行源图（未特化的参照语义）
func Interpret(g *Graph, args []Value) (Value, error) {
	if len(args) != len(g.Start.InputArgs) {
		return Value{}, fmt.Errorf("%s: expected %d arguments, got %d", g.Name, len(g.Start.InputArgs), len(args))
	}

	block := g.Start
	incoming := args
	for step := 0; step < MaxInterpSteps; step++ {
		env := make(map[*Var]Value, len(block.InputArgs)+len(block.Ops))
		for i, v := range block.InputArgs {
			env[v] = incoming[i]
		}

		if block.IsReturn() {
			if len(incoming) == 0 {
				return VoidValue, nil
			}
			return incoming[0], nil
		}

		for _, op := range block.Ops {
			var result Value
			if op.Name == "const" {
				result = op.Value
			} else {
				operands := make([]Value, len(op.Args))
				for i, a := range op.Args {
					operands[i] = env[a]
				}
				var err error
				result, err = Exec(op.Name, operands, op.Field, op.Type)
				if err != nil {
					return Value{}, fmt.Errorf("%s/%s: %w", g.Name, block.Name, err)
				}
			}
			if op.Result != nil {
				env[op.Result] = result
			}
		}

		link := block.Exits[0]
		if block.ExitSwitch != nil && env[block.ExitSwitch].Truth() {
			link = block.Exits[1]
		}
		incoming = make([]Value, len(link.Args))
		for i, a := range link.Args {
			incoming[i] = env[a]
		}
		block = link.Target
	}
	return Value{}, fmt.Errorf("%s: step limit exceeded", g.Name)
}
