package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/samogod/bookrnn/pkg/config"
	"github.com/samogod/bookrnn/pkg/corpus"
	"github.com/samogod/bookrnn/pkg/database"
	"github.com/samogod/bookrnn/pkg/elastic"
	"github.com/samogod/bookrnn/pkg/embedding"
	"github.com/samogod/bookrnn/pkg/model"
	"github.com/samogod/bookrnn/pkg/orchestrator"
	"github.com/samogod/bookrnn/pkg/server"
	"github.com/samogod/bookrnn/pkg/session"
	"github.com/samogod/bookrnn/pkg/tokenizer"
	"github.com/samogod/bookrnn/pkg/trainer"
)

var (
	configFile string
	mode       string
	iterations int
	words      int
	diversity  float64
	beamWidth  int
	load       bool
	level      string
	outputFile string
	seed       uint64
	stream     bool
	silent     bool
	verbose    bool
)

var Verbose bool

// longFlags are accepted with a single dash as well.
var longFlags = map[string]bool{
	"-mode":       true,
	"-iter":       true,
	"-words":      true,
	"-diversity":  true,
	"-beam_width": true,
	"-load":       true,
	"-level":      true,
	"-seed":       true,
	"-stream":     true,
	"-silent":     true,
	"-output":     true,
	"-config":     true,
	"-verbose":    true,
	"-status":     true,
	"-addr":       true,
}

var rootCmd = &cobra.Command{
	Use:   "bookrnn",
	Short: "train and sample next-token language models on books",
	Long:  `train a char or word level language model on an author's books and generate text with stochastic beam search`,
	Run:   runModel,
}

func Execute() {
	hasSilentFlag := false
	for i, arg := range os.Args {
		name, value, hasValue := strings.Cut(arg, "=")
		if longFlags[name] {
			name = "-" + name
			os.Args[i] = name
			if hasValue {
				os.Args[i] += "=" + value
			}
		}
		if name == "--silent" {
			hasSilentFlag = true
		}
	}

	if !hasSilentFlag {
		printBanner()
	}

	if err := rootCmd.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func DebugLog(format string, args ...interface{}) {
	if Verbose {
		fmt.Printf("[DBG] "+format+"\n", args...)
	}
}

func setDebugLogFunctions() {
	config.DebugLog = DebugLog
	orchestrator.DebugLog = DebugLog
	session.DebugLog = DebugLog
	database.DebugLog = DebugLog
	elastic.DebugLog = DebugLog
	embedding.DebugLog = DebugLog
	model.DebugLog = DebugLog
	tokenizer.DebugLog = DebugLog
	corpus.DebugLog = DebugLog
	trainer.DebugLog = DebugLog
	server.DebugLog = DebugLog
}

func init() {
	rootCmd.SetHelpTemplate(`Usage:
  {{.UseLine}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}

{{if .HasAvailableSubCommands}}Commands:{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

{{end}}Flags:
MODE:
   -mode string            train or generate (default: train)
   -load                   load the saved checkpoint before training

TRAINING:
   -iter int               number of training iterations (default: from config)
   -level string           char or word (default: from config)

GENERATION:
   -words int              number of tokens to generate (default: from config)
   -diversity float        sampling temperature (default: from config)
   -beam_width int         beam width (default: from config)
   -seed uint              random seed, 0 picks one
   -stream                 print tokens as they are sampled (beam width 1)

OUTPUT:
   -o, -output string      file to write generated text to
   -silent                 silent mode - no banner or extra output

CONFIGURATION:
   -c, -config string      config file path (default: config/config.yaml)

OPTIMIZATION:
   -v, -verbose            enable verbose/debug output
{{if .HasAvailableSubCommands}}
Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`)

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (default: config/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&level, "level", "", "char or word")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVar(&silent, "silent", false, "silent mode - no banner or extra output")

	rootCmd.Flags().StringVar(&mode, "mode", orchestrator.ModeTrain, "train or generate")
	rootCmd.Flags().IntVar(&iterations, "iter", 0, "number of training iterations")
	rootCmd.Flags().IntVar(&words, "words", 0, "number of tokens to generate")
	rootCmd.Flags().Float64Var(&diversity, "diversity", 0, "sampling temperature")
	rootCmd.Flags().IntVar(&beamWidth, "beam_width", 0, "beam width")
	rootCmd.Flags().BoolVar(&load, "load", false, "load the saved checkpoint before training")
	rootCmd.Flags().StringVarP(&outputFile, "output", "o", "", "file to write generated text to")
	rootCmd.Flags().Uint64Var(&seed, "seed", 0, "random seed, 0 picks one")
	rootCmd.Flags().BoolVar(&stream, "stream", false, "print tokens as they are sampled")

	rootCmd.AddCommand(versionCmd)
}

// newOrchestrator applies the persistent flags and loads the configuration.
func newOrchestrator() *orchestrator.Orchestrator {
	Verbose = verbose
	if verbose {
		setDebugLogFunctions()
	}

	orch, err := orchestrator.NewOrchestrator(configFile, func(cfg *config.Config) {
		if level != "" {
			cfg.Model.Level = level
		}
	})
	if err != nil {
		color.Red("Failed to initialize orchestrator: %v", err)
		os.Exit(1)
	}
	return orch
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runModel(cmd *cobra.Command, args []string) {
	if mode != orchestrator.ModeTrain && mode != orchestrator.ModeGenerate {
		color.Red("Error: unrecognized mode %q, expected %q or %q", mode, orchestrator.ModeTrain, orchestrator.ModeGenerate)
		cmd.Help()
		os.Exit(1)
	}

	orch := newOrchestrator()
	defer orch.Close()

	ctx, cancel := signalContext()
	defer cancel()

	DebugLog("running %s at %s level", mode, orch.GetConfig().Model.Level)

	result, err := orch.Run(ctx, orchestrator.RunOptions{
		Mode:       mode,
		Iterations: iterations,
		Words:      words,
		Diversity:  diversity,
		BeamWidth:  beamWidth,
		Load:       load,
		Output:     outputFile,
		Seed:       seed,
		Stream:     stream,
	})
	if err != nil {
		color.Red("Run failed: %v", err)
		orch.Close()
		os.Exit(1)
	}

	if !silent {
		displaySummary(result)
	}
}

func printBanner() {
	banner := color.CyanString(`
┌┐ ┌─┐┌─┐┬┌─┬─┐┌┐┌┌┐┌
├┴┐│ ││ │├┴┐├┬┘││││││
└─┘└─┘└─┘┴ ┴┴└─┘└┘┘└┘  @samogod
`)
	info := color.HiBlackString("next-token language models trained on books, sampled with stochastic beam search")
	fmt.Println(banner)
	fmt.Println(info)
	fmt.Println()
}

func displaySummary(result *orchestrator.RunResult) {
	fmt.Println()
	color.Green("[INF] %s run %s finished in %v", result.Mode, result.RunID, result.Duration.Round(time.Millisecond))

	if len(result.Iterations) > 0 {
		last := result.Iterations[len(result.Iterations)-1]
		color.Cyan("[INF] %d iterations, final loss %.4f (validation %.4f)", len(result.Iterations), last.TrainLoss, last.ValLoss)
	}
	if result.OutputFile != "" {
		color.Cyan("[INF] Wrote %d samples, final text in %s (p=%.3g)", result.Samples, result.OutputFile, result.Prob)
	}
}
