// Command nexus is the CLI entrypoint for the wave-scheduled agent
// orchestration kernel: it loads a ProjectConfig, wires the kernel's
// packages together, and drives (or resumes) a Coordinator run to
// completion. A struct-tagged kong CLI with subcommands, a package-level
// CLI struct carrying global flags, and debug.ReadBuildInfo for version
// reporting.
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/omarkhaled-auto/nexus/internal/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Run     RunCmd     `cmd:"" help:"Load a project config and drive the coordinator to completion."`
	Resume  ResumeCmd  `cmd:"" help:"Resume a project from its latest (or a named) checkpoint."`
	Version VersionCmd `cmd:"" help:"Show version information."`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
	LogFile   string `help:"Log file path (empty = stderr)."`
}

// VersionCmd reports the build version embedded by the Go toolchain.
type VersionCmd struct{}

// Run implements VersionCmd.
func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("nexus version %s\n", version)
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("nexus"),
		kong.Description("Wave-scheduled agent orchestration kernel."),
		kong.UsageOnError(),
	)

	out := os.Stderr
	if cli.LogFile != "" {
		f, err := os.OpenFile(cli.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}
	logger.Setup(logger.ParseLevel(cli.LogLevel), out, cli.LogFormat)

	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
