package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tangzhangming/timeshift/internal/flowgraph"
)

func loadPower(t *testing.T) *flowgraph.Graph {
	t.Helper()
	g, err := loadGraph("testdata/power.yaml", "")
	if err != nil {
		t.Fatalf("loadGraph: %v", err)
	}
	return g
}

// TestPreprocessArgs 测试提取全局语言参数
func TestPreprocessArgs(t *testing.T) {
	defer func() { globalLang = "" }()
	got := preprocessArgs([]string{"--lang", "zh", "specialize", "-lang=en", "x.yaml"})
	if diff := cmp.Diff([]string{"specialize", "x.yaml"}, got); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
	if globalLang != "en" {
		t.Errorf("expected the last --lang to win, got %q", globalLang)
	}
}

// TestBuildArgs 测试 -const 绑定
func TestBuildArgs(t *testing.T) {
	g := loadPower(t)
	args, err := buildArgs(g, []string{"n=3"})
	if err != nil {
		t.Fatalf("buildArgs: %v", err)
	}
	if args[0].Known || !args[1].Known || args[1].Value.I != 3 {
		t.Errorf("unexpected args: %+v", args)
	}

	_, err = buildArgs(g, []string{"n=three", "m=1", "x"})
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"n:", `parameter "m"`, "name=value"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q: %v", want, err)
		}
	}
}

// TestRunArgs 测试运行时参数与已知参数合并
func TestRunArgs(t *testing.T) {
	g := loadPower(t)
	args, err := buildArgs(g, []string{"n=3"})
	if err != nil {
		t.Fatal(err)
	}
	red, err := runArgs(g, args, "2")
	if err != nil {
		t.Fatalf("runArgs: %v", err)
	}
	full := fullArgs(args, red)
	if full[0].I != 2 || full[1].I != 3 {
		t.Errorf("unexpected full args %v", full)
	}

	if _, err := runArgs(g, args, "1,2"); err == nil {
		t.Error("extra run-time values should be rejected")
	}
	if _, err := runArgs(g, args, ""); err == nil {
		t.Error("missing run-time values should be rejected")
	}
}

// TestSpecializeCommand 测试 specialize 命令端到端
func TestSpecializeCommand(t *testing.T) {
	setLanguage("en")
	var out bytes.Buffer
	code := cmdSpecialize([]string{"-const", "n=3", "-run", "2", "-stats", "testdata/power.yaml"}, &out)
	if code != 0 {
		t.Fatalf("exit code %d, output:\n%s", code, out.String())
	}
	text := out.String()
	for _, want := range []string{"# residual program (VC)", "result: 8", "forks"} {
		if !strings.Contains(text, want) {
			t.Errorf("output should contain %q:\n%s", want, text)
		}
	}
}

// TestPrintTable 测试按显示宽度对齐
func TestPrintTable(t *testing.T) {
	var out bytes.Buffer
	printTable(&out, [][2]string{{"ab", "x"}, {"残余", "y"}})
	want := "  ab    x\n  残余  y\n"
	if out.String() != want {
		t.Errorf("got %q, expected %q", out.String(), want)
	}
}

// TestSetLanguage 测试语言切换
func TestSetLanguage(t *testing.T) {
	defer setLanguage("en")
	setLanguage("zh-CN")
	if GetLanguage() != LangChinese || Msg().Result != "结果" {
		t.Errorf("expected Chinese messages, got %s", GetLanguage())
	}
	setLanguage("fr")
	if GetLanguage() != LangEnglish {
		t.Errorf("unknown languages should fall back to English, got %s", GetLanguage())
	}
}
