package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-runewidth"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tangzhangming/timeshift/internal/errors"
	"github.com/tangzhangming/timeshift/internal/flowgraph"
	"github.com/tangzhangming/timeshift/internal/graphio"
	"github.com/tangzhangming/timeshift/internal/jit"
	"github.com/tangzhangming/timeshift/internal/ssaconv"
	"github.com/tangzhangming/timeshift/internal/timeshift"
)

const (
	Version = "0.1.0"
)

// 全局语言参数
var globalLang string

func main() {
	args := preprocessArgs(os.Args[1:])
	InitLanguage(globalLang)

	if len(args) < 1 {
		printUsage()
		os.Exit(0)
	}

	command := args[0]
	switch command {
	case "specialize":
		os.Exit(cmdSpecialize(args[1:], os.Stdout))
	case "annotate":
		os.Exit(cmdAnnotate(args[1:], os.Stdout))
	case "list":
		os.Exit(cmdList(args[1:], os.Stdout))
	case "version", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		// 直接给文件时按 specialize 处理
		if !isFlag(command) {
			os.Exit(cmdSpecialize(args, os.Stdout))
		}
		fmt.Fprintf(os.Stderr, Msg().ErrUnknownCmd+"\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

// preprocessArgs 预处理参数，提取全局 --lang 参数
func preprocessArgs(args []string) []string {
	var result []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--lang" || arg == "-lang":
			if i+1 < len(args) {
				globalLang = args[i+1]
				i++
				continue
			}
		case strings.HasPrefix(arg, "--lang="):
			globalLang = strings.TrimPrefix(arg, "--lang=")
			continue
		case strings.HasPrefix(arg, "-lang="):
			globalLang = strings.TrimPrefix(arg, "-lang=")
			continue
		}
		result = append(result, arg)
	}
	return result
}

func isFlag(s string) bool {
	return len(s) > 0 && s[0] == '-'
}

func printUsage() {
	m := Msg()
	fmt.Printf(m.VersionTitle+"\n\n", Version)
	fmt.Println(m.HelpUsage)
	fmt.Println("  timeshift [--lang en|zh] <command> [options] <graph.yaml|file.go>")
	fmt.Println()
	fmt.Println(m.HelpCommands)
	printTable(os.Stdout, [][2]string{
		{"specialize <file>", m.CmdSpecialize},
		{"annotate <file>", m.CmdAnnotate},
		{"list <file.go>", m.CmdList},
		{"version", m.CmdVersion},
		{"help", m.CmdHelp},
	})
	fmt.Println()
	fmt.Println(m.HelpOptions)
	printTable(os.Stdout, [][2]string{
		{"-config <file>", m.OptConfig},
		{"-func <name>", m.OptFunc},
		{"-const name=value", m.OptConst},
		{"-run v1,v2", m.OptRun},
		{"-json", m.OptJSON},
		{"-annotate", m.OptAnnotate},
		{"-stats", m.OptStats},
		{"-v", m.OptVerbose},
		{"--lang <en|zh>", m.OptLang},
	})
	fmt.Println()
	fmt.Println(m.HelpExamples)
	fmt.Println("  timeshift specialize -const n=3 -run 2 power.yaml")
	fmt.Println("  timeshift specialize -func power -const n=3 -stats funcs.go")
	fmt.Println("  timeshift annotate -const n=3 power.yaml")
	fmt.Println("  timeshift --lang zh help")
}

func cmdVersion() {
	m := Msg()
	fmt.Printf(m.VersionTitle+"\n", Version)
	fmt.Println(m.VersionDesc)
}

// printTable 按显示宽度对齐两列，中文标签占两列宽
func printTable(w io.Writer, rows [][2]string) {
	width := 0
	for _, row := range rows {
		if n := runewidth.StringWidth(row[0]); n > width {
			width = n
		}
	}
	for _, row := range rows {
		fmt.Fprintf(w, "  %s  %s\n", runewidth.FillRight(row[0], width), row[1])
	}
}

// ============================================================================
// 公共选项
// ============================================================================

// constFlags 可重复的 -const name=value
type constFlags []string

func (c *constFlags) String() string {
	return strings.Join(*c, ",")
}

func (c *constFlags) Set(s string) error {
	*c = append(*c, s)
	return nil
}

type options struct {
	config  string
	fn      string
	consts  constFlags
	verbose bool
}

func (o *options) register(fs *flag.FlagSet) {
	m := Msg()
	fs.StringVar(&o.config, "config", "", m.OptConfig)
	fs.StringVar(&o.fn, "func", "", m.OptFunc)
	fs.Var(&o.consts, "const", m.OptConst)
	fs.BoolVar(&o.verbose, "v", false, m.OptVerbose)
}

// loadConfig 读取配置并创建日志器
func (o *options) loadConfig() (*jit.Config, *zap.Logger, error) {
	path := o.config
	if path == "" {
		if wd, err := os.Getwd(); err == nil {
			path = jit.FindConfigFile(wd)
		}
	}

	cfg := jit.DefaultConfig()
	if path != "" {
		loaded, err := jit.LoadConfig(path)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
	}
	if o.verbose {
		cfg.LogLevel = "debug"
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// loadGraph 按扩展名加载 YAML 图或 Go 源文件中的函数
func loadGraph(path, fn string) (*flowgraph.Graph, error) {
	if filepath.Ext(path) != ".go" {
		return graphio.LoadFile(path)
	}
	pkg, err := ssaconv.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if fn == "" {
		names := pkg.Functions()
		if len(names) != 1 {
			return nil, fmt.Errorf(Msg().ErrFuncRequired, path, strings.Join(names, ", "))
		}
		fn = names[0]
	}
	return pkg.Graph(fn)
}

// buildArgs 把 -const 绑定到图参数，其余参数为运行时参数
func buildArgs(g *flowgraph.Graph, consts []string) ([]timeshift.Arg, error) {
	known := make(map[string]string)
	var errs error
	for _, c := range consts {
		name, value, ok := strings.Cut(c, "=")
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("-const %q: expected name=value", c))
			continue
		}
		known[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}

	params := g.Args()
	args := make([]timeshift.Arg, len(params))
	for i, p := range params {
		s, ok := known[p.Name]
		if !ok {
			args[i] = timeshift.UnknownArg()
			continue
		}
		delete(known, p.Name)
		v, err := graphio.ParseValue(p.Type, s)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", p.Name, err))
			continue
		}
		args[i] = timeshift.KnownArg(v)
	}
	for name := range known {
		errs = multierr.Append(errs, fmt.Errorf("%s has no parameter %q", g.Name, name))
	}
	if errs != nil {
		return nil, errs
	}
	return args, nil
}

// runArgs 解析 -run 给出的运行时参数，按运行时参数的顺序对应
func runArgs(g *flowgraph.Graph, args []timeshift.Arg, spec string) ([]flowgraph.Value, error) {
	var fields []string
	if strings.TrimSpace(spec) != "" {
		fields = strings.Split(spec, ",")
	}
	var values []flowgraph.Value
	for i, p := range g.Args() {
		if args[i].Known {
			continue
		}
		if len(values) >= len(fields) {
			return nil, fmt.Errorf("-run: missing a value for %s", p.Name)
		}
		v, err := graphio.ParseValue(p.Type, strings.TrimSpace(fields[len(values)]))
		if err != nil {
			return nil, fmt.Errorf("-run %s: %w", p.Name, err)
		}
		values = append(values, v)
	}
	if len(values) != len(fields) {
		return nil, fmt.Errorf("-run: expected %d values, got %d", len(values), len(fields))
	}
	return values, nil
}

// fullArgs 把已知参数和运行时参数按形参顺序合并
func fullArgs(args []timeshift.Arg, red []flowgraph.Value) []flowgraph.Value {
	out := make([]flowgraph.Value, len(args))
	j := 0
	for i, a := range args {
		if a.Known {
			out[i] = a.Value
			continue
		}
		out[i] = red[j]
		j++
	}
	return out
}

func reportError(err error) {
	fmt.Fprint(os.Stderr, errors.NewFormatter().Format(err))
}
