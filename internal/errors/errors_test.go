package errors

import (
	"fmt"
	"strings"
	"testing"

	"go.uber.org/multierr"
)

// TestNewUsesCodeTable 测试错误码表决定类别和级别
func TestNewUsesCodeTable(t *testing.T) {
	e := New(H0002, "cannot commit %s", "x")
	if e.Kind != Classification || e.Level != LevelError {
		t.Errorf("H0002: got kind %s level %s", e.Kind, e.Level)
	}
	if e.Message != "cannot commit x" {
		t.Errorf("unexpected message %q", e.Message)
	}

	m := NewMergeIncompatibility("shape mismatch")
	if m.Kind != MergeIncompatibility || m.Level != LevelWarning {
		t.Errorf("merge incompatibility: got kind %s level %s", m.Kind, m.Level)
	}
}

// TestKindThroughWrapping 测试包装和聚合后仍能识别类别
func TestKindThroughWrapping(t *testing.T) {
	base := NewInternal(I0002, "box count mismatch")
	wrapped := fmt.Errorf("specialize f: %w", base)
	if !IsInternal(wrapped) {
		t.Error("wrapped internal error not recognized")
	}
	if IsClassification(wrapped) {
		t.Error("internal error misreported as classification")
	}

	agg := multierr.Combine(
		New(H0001, "no rule for foo"),
		New(H0002, "commit of variable"),
	)
	if !IsClassification(agg) {
		t.Error("aggregated classification errors not recognized")
	}
	if !HasCode(agg, H0002) || HasCode(agg, I0001) {
		t.Errorf("HasCode mismatch, codes=%v", Codes(agg))
	}
	if got := Codes(agg); len(got) != 2 || got[0] != H0001 || got[1] != H0002 {
		t.Errorf("unexpected codes %v", got)
	}
}

// TestFormat 测试错误格式化
func TestFormat(t *testing.T) {
	f := &Formatter{ShowHints: true}
	e := New(H0002, "cannot commit a variable value").
		At(Location{Graph: "power", Block: "loop", Index: 3}, "hint_concrete")
	out := f.FormatError(e)

	for _, want := range []string{"error[H0002]", "--> power/loop#3 (hint_concrete)", "= help:"} {
		if !strings.Contains(out, want) {
			t.Errorf("formatted error missing %q:\n%s", want, out)
		}
	}

	agg := multierr.Combine(e, fmt.Errorf("plain"))
	if out := f.Format(agg); !strings.Contains(out, "2 errors") {
		t.Errorf("aggregate format missing count:\n%s", out)
	}
}
