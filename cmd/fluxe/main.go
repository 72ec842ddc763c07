// Command fluxe is a terminal client for the Fluxe microblogging API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	fluxe "github.com/anatolykoptev/go-fluxe"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func usage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintln(w, "usage: fluxe [global flags] <command> [args]")
	fmt.Fprintln(w, "\ncommands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %s\n", c.usage)
	}
	fmt.Fprintln(w, "\nglobal flags:")
	fmt.Fprint(w, fs.FlagUsages())
}

// run executes one command and returns the process exit code.
func run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	fs := globalFlags()
	fs.SetOutput(errOut)
	fs.Usage = func() {}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			usage(out, fs)
			return 0
		}
		fmt.Fprintf(errOut, "error: %v\n", err)
		usage(errOut, fs)
		return 2
	}
	rest := fs.Args()
	if len(rest) == 0 || rest[0] == "help" {
		usage(out, fs)
		if len(rest) == 0 {
			return 2
		}
		return 0
	}
	cmd, ok := findCommand(rest[0])
	if !ok {
		fmt.Fprintf(errOut, "error: unknown command %q\n", rest[0])
		usage(errOut, fs)
		return 2
	}

	cfg, err := loadConfig(fs)
	if err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return 2
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: cfg.LogLevel})))

	a, err := newApp(cfg, nil, in, out)
	if err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return 1
	}
	return a.exec(ctx, cmd, rest[1:], errOut)
}

// exec runs cmd and maps its error to an exit code.
func (a *app) exec(ctx context.Context, cmd command, args []string, errOut io.Writer) int {
	err := cmd.run(ctx, a, args)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintf(errOut, "usage: fluxe %s\n", cmd.usage)
		return 2
	case errors.Is(err, pflag.ErrHelp):
		return 0
	}
	var f *fluxe.Failure
	if errors.As(err, &f) {
		slog.Debug("command failed", slog.String("command", cmd.name), slog.Any("error", err))
		fmt.Fprintf(errOut, "error: %s\n", fluxe.ErrorMessage(err, fluxe.DefaultErrorMessage))
		return 1
	}
	fmt.Fprintf(errOut, "error: %v\n", err)
	return 1
}
