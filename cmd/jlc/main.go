// Command jlc compiles a Javalette source file to 32-bit x86 assembly
// (NASM syntax) or to a portable quadruple text dump.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lukaszcz/javalette/internal/backend/quadr"
	"github.com/lukaszcz/javalette/internal/backend/x86"
	"github.com/lukaszcz/javalette/internal/codegen"
	"github.com/lukaszcz/javalette/internal/diag"
	"github.com/lukaszcz/javalette/internal/ir"
	"github.com/lukaszcz/javalette/internal/irbuild"
	"github.com/lukaszcz/javalette/internal/parser"
	"github.com/lukaszcz/javalette/internal/peephole"
)

const version = "1.0.0"

// Exit codes per the error handling design.
const (
	exitOK     = 0
	exitUsage  = 1
	exitIO     = 2
	exitIntern = 3
)

type options struct {
	backend    string
	i386       bool
	pentiumPro bool
	optimize   string
	output     string
	dataDir    string

	noLink     bool
	noAssemble bool
	preserve   bool
	assemble   bool
	link       bool

	noGencode bool
	icodePath string
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) (code int) {
	defer func() {
		if err := diag.Recover(); err != nil {
			fmt.Fprintf(os.Stderr, "jlc: %v\n", err)
			code = exitIntern
		}
	}()

	var opts options
	var srcPath string

	root := &cobra.Command{
		Use:           "jlc [flags] FILE",
		Short:         "Javalette compiler",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			srcPath = args[0]
			return nil
		},
	}
	fl := root.Flags()
	fl.StringVarP(&opts.backend, "backend", "b", "i386", "code generator backend (quadr|i386)")
	fl.BoolVar(&opts.i386, "i386", false, "select the i386 backend")
	fl.BoolVar(&opts.pentiumPro, "pentium-pro", false, "select the i386 backend with Pentium-Pro instructions")
	fl.StringVarP(&opts.optimize, "optimize", "O", "1", "optimization level (0|none|1|2)")
	fl.StringVarP(&opts.output, "output", "o", "", "output file path")
	fl.StringVarP(&opts.dataDir, "data-dir", "d", "", "runtime/peephole data directory (overrides JL_DATA_DIR)")
	fl.BoolVarP(&opts.noLink, "no-link", "c", false, "assemble but do not link")
	fl.BoolVar(&opts.noAssemble, "no-assemble", false, "stop after emitting assembly")
	fl.BoolVarP(&opts.preserve, "preserve-files", "p", false, "keep intermediate files")
	fl.BoolVar(&opts.assemble, "assemble", false, "run the external assembler")
	fl.BoolVar(&opts.link, "link", false, "run the external linker")
	fl.BoolVar(&opts.noGencode, "no-gencode", false, "stop after the semantic check")
	fl.StringVar(&opts.icodePath, "icode", "", "dump quadruples to a file")

	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "jlc: %v\n", err)
		return exitUsage
	}
	if srcPath == "" {
		// --help or --version path: cobra already printed.
		return exitOK
	}
	return compile(srcPath, &opts)
}

func compile(srcPath string, opts *options) int {
	src, err := os.ReadFile(srcPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jlc: cannot open %s: %v\n", srcPath, err)
		return exitIO
	}

	bag := diag.NewBag(srcPath)
	prog := parser.Parse(string(src), bag)
	if bag.HasErrors() {
		printDiagnostics(bag)
		return exitUsage
	}
	if opts.noGencode {
		printDiagnostics(bag)
		return exitOK
	}

	mod := irbuild.Build(prog, bag)

	if opts.icodePath != "" {
		f, err := os.Create(opts.icodePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jlc: cannot create %s: %v\n", opts.icodePath, err)
			return exitIO
		}
		ir.Dump(f, mod)
		f.Close()
	}

	level, ok := parseLevel(opts.optimize)
	if !ok {
		fmt.Fprintf(os.Stderr, "jlc: invalid optimization level %q\n", opts.optimize)
		return exitUsage
	}

	useI386 := opts.backend == "i386" || opts.i386 || opts.pentiumPro
	if !useI386 && opts.backend != "quadr" {
		fmt.Fprintf(os.Stderr, "jlc: unknown backend %q\n", opts.backend)
		return exitUsage
	}

	outPath := opts.output
	if outPath == "" {
		ext := ".q"
		if useI386 {
			ext = ".asm"
		}
		outPath = strings.TrimSuffix(srcPath, filepath.Ext(srcPath)) + ext
	}

	out, err := os.Create(outPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jlc: cannot create %s: %v\n", outPath, err)
		return exitIO
	}
	defer out.Close()

	var backend codegen.Backend
	if useI386 {
		runtimeText, rules, rc := loadData(opts, level)
		if rc != exitOK {
			return rc
		}
		if runtimeText != "" {
			out.WriteString(runtimeText)
			if !strings.HasSuffix(runtimeText, "\n") {
				out.WriteString("\n")
			}
		}
		xopts := x86.Options{PentiumPro: opts.pentiumPro}
		if level >= codegen.O2 {
			xopts.ArgsInRegNum = 4
		}
		if level >= codegen.O1 {
			xopts.PeepholeRules = rules
		}
		backend = x86.New(xopts)
	} else {
		backend = quadr.New()
	}

	ctx := codegen.NewContext(backend, level, bag)
	ctx.Compile(mod, out)

	if useI386 {
		logToolchainPlan(srcPath, outPath, opts)
	}

	printDiagnostics(bag)
	if bag.HasErrors() {
		return exitUsage
	}
	return exitOK
}

func parseLevel(s string) (codegen.Level, bool) {
	switch s {
	case "0", "none":
		return codegen.O0, true
	case "1":
		return codegen.O1, true
	case "2":
		return codegen.O2, true
	default:
		return codegen.O0, false
	}
}

// loadData resolves the data directory (flag, then JL_DATA_DIR, then
// ./data) and loads the i386 runtime text and peephole rules. An
// explicitly named directory must be readable; the implicit default
// may be absent, in which case the built-in rules are used and no
// runtime is prepended.
func loadData(opts *options, level codegen.Level) (string, []peephole.Rule, int) {
	dir := opts.dataDir
	explicit := dir != ""
	if dir == "" {
		dir = os.Getenv("JL_DATA_DIR")
		explicit = dir != ""
	}
	if dir == "" {
		dir = "data"
	}

	var runtimeText string
	rtPath := filepath.Join(dir, "i386_linux.asm")
	if b, err := os.ReadFile(rtPath); err == nil {
		runtimeText = string(b)
	} else if explicit {
		fmt.Fprintf(os.Stderr, "jlc: cannot open %s: %v\n", rtPath, err)
		return "", nil, exitIO
	} else {
		logrus.WithField("path", rtPath).Debug("runtime file not found, emitting bare assembly")
	}

	rules := peephole.DefaultRules()
	optPath := filepath.Join(dir, "i386.opt")
	if f, err := os.Open(optPath); err == nil {
		loaded, perr := peephole.Parse(f)
		f.Close()
		if perr != nil {
			fmt.Fprintf(os.Stderr, "jlc: %s: %v\n", optPath, perr)
			return "", nil, exitUsage
		}
		rules = loaded
	} else if explicit {
		logrus.WithField("path", optPath).Debug("no peephole rules file, using built-in rules")
	}
	return runtimeText, rules, exitOK
}

// logToolchainPlan records the assembler/linker invocations the
// pipeline toggles imply. Execution of external binaries is the
// wrapper script's job; the compiler only reports its plan.
func logToolchainPlan(srcPath, asmPath string, opts *options) {
	if opts.noAssemble && !opts.assemble {
		return
	}
	base := strings.TrimSuffix(srcPath, filepath.Ext(srcPath))
	objPath := base + ".o"
	logrus.WithField("cmd", fmt.Sprintf("nasm -f elf -o %s %s", objPath, asmPath)).Debug("assemble step")
	if !opts.noLink || opts.link {
		logrus.WithField("cmd", fmt.Sprintf("gcc -m32 -o %s %s", base, objPath)).Debug("link step")
	}
	if !opts.preserve {
		logrus.WithField("files", asmPath+", "+objPath).Debug("intermediate files would be removed")
	}
}

func printDiagnostics(bag *diag.Bag) {
	for _, d := range bag.Items() {
		fmt.Fprintln(os.Stderr, d.String())
	}
}
