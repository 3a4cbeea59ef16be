package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/tangzhangming/timeshift/internal/flowgraph"
	"github.com/tangzhangming/timeshift/internal/jit"
	"github.com/tangzhangming/timeshift/internal/ssaconv"
	"github.com/tangzhangming/timeshift/internal/timeshift"
)

// ============================================================================
// specialize
// ============================================================================

func cmdSpecialize(args []string, w io.Writer) int {
	m := Msg()
	fs := flag.NewFlagSet("specialize", flag.ContinueOnError)
	var o options
	o.register(fs)
	run := fs.String("run", "", m.OptRun)
	asJSON := fs.Bool("json", false, m.OptJSON)
	annotate := fs.Bool("annotate", false, m.OptAnnotate)
	stats := fs.Bool("stats", false, m.OptStats)

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, m.HelpUsage+" timeshift specialize [options] <graph.yaml|file.go>")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, m.HelpOptions)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		fs.Usage()
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, m.ErrNoInput)
		return 1
	}

	cfg, logger, err := o.loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, m.ErrConfig+"\n", err)
		return 1
	}
	defer logger.Sync()

	path := fs.Arg(0)
	g, err := loadGraph(path, o.fn)
	if err != nil {
		fmt.Fprintf(os.Stderr, m.ErrLoad+"\n", path)
		reportError(err)
		return 1
	}
	sargs, err := buildArgs(g, o.consts)
	if err != nil {
		fmt.Fprintf(os.Stderr, m.ErrArgs+"\n", err)
		return 1
	}

	compiler := jit.NewCompiler(cfg, logger)
	residual, err := compiler.Specialize(g, sargs)
	if err != nil {
		reportError(err)
		return 1
	}

	if *annotate {
		residual.Annotation.Dump(w)
		fmt.Fprintln(w)
	}
	if *asJSON {
		data, err := residual.Program.MarshalJSON()
		if err != nil {
			reportError(err)
			return 1
		}
		fmt.Fprintln(w, string(data))
	} else {
		fmt.Fprintf(w, "# %s (%s)\n", m.Residual, residual.Signature)
		fmt.Fprint(w, residual.Program.String())
	}
	if *stats {
		fmt.Fprintln(w)
		printStats(w, residual)
	}

	// -run "" 执行没有运行时参数的程序
	if isSet(fs, "run") {
		return runResidual(w, g, sargs, residual, *run)
	}
	return 0
}

func isSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// runResidual 执行残余程序，并和源图的解释结果对照
func runResidual(w io.Writer, g *flowgraph.Graph, sargs []timeshift.Arg, r *jit.Residual, spec string) int {
	m := Msg()
	red, err := runArgs(g, sargs, spec)
	if err != nil {
		fmt.Fprintf(os.Stderr, m.ErrArgs+"\n", err)
		return 1
	}

	got, err := r.Program.Run(red)
	if err != nil {
		fmt.Fprintf(os.Stderr, m.ErrRun+"\n", err)
		return 1
	}
	fmt.Fprintf(w, "%s: %s\n", m.Result, got)

	want, err := flowgraph.Interpret(g, fullArgs(sargs, red))
	if err != nil {
		fmt.Fprintf(os.Stderr, m.ErrRun+"\n", err)
		return 1
	}
	if got.Type.Kind != flowgraph.KindPtr && !got.Equal(want) {
		fmt.Fprintf(os.Stderr, m.ErrMismatch+"\n", got, want)
		return 1
	}
	return 0
}

// printStats 打印特化统计表
func printStats(w io.Writer, r *jit.Residual) {
	m := Msg()
	s := r.Result.Stats
	rows := [][2]string{
		{m.StatBlocks, strconv.Itoa(r.Program.NumBlocks())},
		{m.StatOps, strconv.Itoa(r.Program.NumOps())},
		{m.StatForks, strconv.Itoa(s.Forks)},
		{m.StatMergePoints, strconv.Itoa(s.MergePoints)},
		{m.StatAbsorbed, strconv.Itoa(s.Absorbed)},
		{m.StatGeneralizations, strconv.Itoa(s.Generalizations)},
		{m.StatForced, strconv.Itoa(s.Forced)},
		{m.StatFolded, strconv.Itoa(s.Folded)},
		{m.StatReturns, strconv.Itoa(s.Returns)},
	}
	printTable(w, rows)
}

// ============================================================================
// annotate
// ============================================================================

func cmdAnnotate(args []string, w io.Writer) int {
	m := Msg()
	fs := flag.NewFlagSet("annotate", flag.ContinueOnError)
	var o options
	o.register(fs)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, m.HelpUsage+" timeshift annotate [options] <graph.yaml|file.go>")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, m.HelpOptions)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		fs.Usage()
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, m.ErrNoInput)
		return 1
	}

	cfg, logger, err := o.loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, m.ErrConfig+"\n", err)
		return 1
	}
	defer logger.Sync()

	path := fs.Arg(0)
	g, err := loadGraph(path, o.fn)
	if err != nil {
		fmt.Fprintf(os.Stderr, m.ErrLoad+"\n", path)
		reportError(err)
		return 1
	}
	sargs, err := buildArgs(g, o.consts)
	if err != nil {
		fmt.Fprintf(os.Stderr, m.ErrArgs+"\n", err)
		return 1
	}

	ann, err := jit.NewCompiler(cfg, logger).Annotate(g, sargs)
	if err != nil {
		reportError(err)
		return 1
	}
	ann.Dump(w)
	return 0
}

// ============================================================================
// list
// ============================================================================

func cmdList(args []string, w io.Writer) int {
	m := Msg()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, m.ErrNoInput)
		return 1
	}
	pkg, err := ssaconv.LoadFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, m.ErrLoad+"\n", args[0])
		reportError(err)
		return 1
	}
	for _, name := range pkg.Functions() {
		if g, err := pkg.Graph(name); err == nil {
			fmt.Fprintf(w, "  %s(%s) %s\n", name, paramList(g), g.Result)
		} else {
			fmt.Fprintf(w, "  %s: %v\n", name, err)
		}
	}
	return 0
}

func paramList(g *flowgraph.Graph) string {
	parts := make([]string, len(g.Args()))
	for i, p := range g.Args() {
		parts[i] = p.Name + " " + p.Type.String()
	}
	return strings.Join(parts, ", ")
}
