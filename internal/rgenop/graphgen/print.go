package graphgen

import (
	"fmt"
	"strings"

	"github.com/segmentio/encoding/json"
)

// String 打印残余程序
func (p *Program) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("program %s (%d blocks, %d ops)\n", p.Name, len(p.Blocks), p.numOps))
	for _, b := range p.Blocks {
		inputs := make([]string, len(b.Inputs))
		for i, v := range b.Inputs {
			inputs[i] = fmt.Sprintf("%s: %s", v, v.Type)
		}
		sb.WriteString(fmt.Sprintf("  %s(%s):\n", b, strings.Join(inputs, ", ")))
		for _, op := range b.Ops {
			sb.WriteString("    " + op.String() + "\n")
		}
		switch {
		case b.ExitSwitch != nil:
			sb.WriteString(fmt.Sprintf("    if %s then %s else %s\n", b.ExitSwitch, b.Exits[1].describe(), b.Exits[0].describe()))
		case len(b.Exits) == 1:
			sb.WriteString("    " + b.Exits[0].describe() + "\n")
		}
	}
	return sb.String()
}

func (op *Op) String() string {
	var sb strings.Builder
	if op.Result != nil {
		sb.WriteString(op.Result.String() + " = ")
	}
	sb.WriteString(op.Name)
	if op.Type != nil {
		sb.WriteString(" " + op.Type.Name)
	}
	for _, a := range op.Args {
		sb.WriteString(" " + a.String())
	}
	if op.Field != "" {
		sb.WriteString(" ." + op.Field)
	}
	return sb.String()
}

func (l *Link) describe() string {
	switch {
	case !l.closed:
		return "<open>"
	case l.Return && l.Value == nil:
		return "return"
	case l.Return:
		return "return " + l.Value.String()
	}
	return fmt.Sprintf("goto %s(%s)", l.Target, joinVars(l.Args))
}

func joinVars(vars []*Var) string {
	names := make([]string, len(vars))
	for i, v := range vars {
		names[i] = v.String()
	}
	return strings.Join(names, ", ")
}

// ============================================================================
// JSON 导出
// ============================================================================

type jsonOp struct {
	Result string   `json:"result,omitempty"`
	Op     string   `json:"op"`
	Args   []string `json:"args,omitempty"`
	Field  string   `json:"field,omitempty"`
	Type   string   `json:"type,omitempty"`
}

type jsonExit struct {
	Case   int      `json:"case"`
	Target string   `json:"target,omitempty"`
	Args   []string `json:"args,omitempty"`
	Return bool     `json:"return,omitempty"`
	Value  string   `json:"value,omitempty"`
}

type jsonBlock struct {
	Name       string     `json:"name"`
	Inputs     []string   `json:"inputs"`
	Ops        []jsonOp   `json:"ops"`
	ExitSwitch string     `json:"exitswitch,omitempty"`
	Exits      []jsonExit `json:"exits"`
}

type jsonProgram struct {
	Name   string      `json:"name"`
	Blocks []jsonBlock `json:"blocks"`
}

func names(vars []*Var) []string {
	out := make([]string, len(vars))
	for i, v := range vars {
		out[i] = v.String()
	}
	return out
}

// MarshalJSON 导出为 JSON
func (p *Program) MarshalJSON() ([]byte, error) {
	out := jsonProgram{Name: p.Name, Blocks: make([]jsonBlock, len(p.Blocks))}
	for i, b := range p.Blocks {
		jb := jsonBlock{Name: b.String(), Ops: make([]jsonOp, len(b.Ops)), Exits: make([]jsonExit, len(b.Exits))}
		for _, v := range b.Inputs {
			jb.Inputs = append(jb.Inputs, fmt.Sprintf("%s: %s", v, v.Type))
		}
		for j, op := range b.Ops {
			jo := jsonOp{Op: op.Name, Args: names(op.Args), Field: op.Field}
			if op.Result != nil {
				jo.Result = op.Result.String()
			}
			if op.Type != nil {
				jo.Type = op.Type.Name
			}
			jb.Ops[j] = jo
		}
		if b.ExitSwitch != nil {
			jb.ExitSwitch = b.ExitSwitch.String()
		}
		for j, l := range b.Exits {
			je := jsonExit{Case: l.Case, Return: l.Return}
			if l.Target != nil {
				je.Target = l.Target.String()
				je.Args = names(l.Args)
			}
			if l.Value != nil {
				je.Value = l.Value.String()
			}
			jb.Exits[j] = je
		}
		out.Blocks[i] = jb
	}
	return json.Marshal(out)
}
