package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"gosshield/common"
	"gosshield/pipeline"
	"gosshield/toolchain"
)

var (
	generateTarget     string
	generateTechniques []string
	generateOS         string
	generateOut        string
	generateWorkDir    string
)

var generateCmd = &cobra.Command{
	Use:   "generate <input>",
	Short: "Produce the requested stage with the selected defenses applied",
	Example: `  gosshield generate prog.c -t executable -T strip-symbols -T header-entrypoint
  gosshield generate prog.c -t source -T breakpoint-detection --out build/
  gosshield generate prog.o -t object -T SRS`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVarP(&generateTarget, "target", "t", "executable", "Output stage: source, assembly, object, executable")
	generateCmd.Flags().StringSliceVarP(&generateTechniques, "technique", "T", nil, "Technique name or tag (repeatable)")
	generateCmd.Flags().StringVar(&generateOS, "os", "", "Target OS: windows, linux, mac (default: config or host)")
	generateCmd.Flags().StringVarP(&generateOut, "out", "o", "", "Output directory (default: config or input directory)")
	generateCmd.Flags().StringVar(&generateWorkDir, "work-dir", "", "Directory for intermediate files (default: config or system temp)")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	target, err := common.ParseStage(generateTarget)
	if err != nil {
		return err
	}
	sel, err := selection(generateTechniques)
	if err != nil {
		return err
	}
	targetOS, err := resolveOS(generateOS)
	if err != nil {
		return err
	}

	outDir := generateOut
	if outDir == "" {
		outDir = cfg.OutputDir
	}
	workDir := generateWorkDir
	if workDir == "" {
		workDir = cfg.WorkDir
	}

	tc := toolchain.New(cfg.ToolchainSettings(), toolchain.NewExecRunner(cfg.GetTimeout(), logger), logger)
	orch, err := pipeline.New(tc, pipeline.Options{
		OS:        targetOS,
		OutputDir: outDir,
		WorkDir:   workDir,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	report, err := orch.Generate(ctx, pipeline.Request{Input: args[0], Target: target, Selection: sel})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), report)
	return nil
}
