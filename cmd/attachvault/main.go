// Package main provides the attachvault binary: an encrypted offline store
// for case attachments. Every command loads configuration from the
// environment, opens the vault (SQLite in the data directory, or memory with
// --ephemeral), initializes the device key and then performs its action.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"

	"github.com/alecthomas/kong"

	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/config"
)

// version is set by `go build -ldflags "-X main.version=..."`.
var version = "dev"

// CLI is the kong command tree.
type CLI struct {
	Verbose   int    `short:"v" type:"counter" help:"Enable debug logging."`
	Ephemeral bool   `help:"Keep the vault in memory only; nothing is written to disk."`
	DataDir   string `type:"path" help:"Override the data directory (ATTACHVAULT_DATA_DIR)."`

	Serve    serveCmd    `cmd:"" help:"Run the janitor and the local ops endpoint until interrupted."`
	Sync     syncCmd     `cmd:"" help:"Bring every remote attachment of the given cases offline."`
	Import   importCmd   `cmd:"" help:"Store a local file as an offline attachment."`
	Get      getCmd      `cmd:"" help:"Decrypt an attachment to a file or stdout."`
	List     listCmd     `cmd:"" help:"List offline attachments."`
	Rm       rmCmd       `cmd:"" help:"Remove an offline attachment."`
	Stats    statsCmd    `cmd:"" help:"Show storage statistics."`
	Cleanup  cleanupCmd  `cmd:"" help:"Remove attachments not accessed within the max age."`
	Wipe     wipeCmd     `cmd:"" help:"Delete every offline attachment."`
	ResetKey resetKeyCmd `cmd:"" name:"reset-key" help:"Delete all attachments and replace the device key."`
	Version  versionCmd  `cmd:"" help:"Show the program version."`
}

// env carries what every command needs. It is bound into kong so Run
// methods receive it.
type env struct {
	ctx    context.Context
	cfg    *config.Config
	cli    *CLI
	out    io.Writer
	logger *slog.Logger
}

func (e *env) open() (*vault, error) {
	return openVault(e.ctx, e.cfg, e.cli.Ephemeral, e.logger)
}

func loadConfig(cli *CLI) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cli.DataDir != "" {
		cfg.DataDir = cli.DataDir
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("attachvault"),
		kong.Description("Encrypted offline store for case attachments."),
		kong.UsageOnError(),
		kong.Writers(stdout, stderr),
	)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(&cli)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	logger := newLogger(cfg, cli.Verbose, stderr)
	slog.SetDefault(logger)
	return kctx.Run(&env{ctx: ctx, cfg: cfg, cli: &cli, out: stdout, logger: logger})
}

type versionCmd struct{}

func (versionCmd) Run(e *env) error {
	_, err := fmt.Fprintf(e.out, "attachvault %s %s %s/%s\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	return err
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		slog.Error("attachvault failed", "err", err)
		os.Exit(1)
	}
}
