// Package main provides the cryfs binary entry point: create, mount, check,
// and recover an encrypted block-based filesystem.
//
// The application flow:
//  1. Dispatch on os.Args[1] (create|mount|check|recover).
//  2. Load operational configuration from the environment.
//  3. Read the basedir password (stdin, not a tty prompt - that belongs to
//     a richer frontend, not this binary).
//  4. Ask internal/app.Service to Create/Open/Check the filesystem.
//
// It exits the process with a non-zero status on configuration or
// filesystem errors.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/cryfsgo/cryfs/internal/app"
	"github.com/cryfsgo/cryfs/internal/domain"
	"github.com/cryfsgo/cryfs/internal/runtimeconfig"
)

func loadRuntime() *runtimeconfig.Config {
	cfg, err := runtimeconfig.Load()
	if err != nil {
		slog.Error("configuration error", "err", err)
		os.Exit(2)
	}
	return cfg
}

// readPassword reads a single line from stdin with the trailing newline
// stripped. Masking terminal input and any richer prompt flow is a
// frontend's job, not this binary's.
func readPassword() ([]byte, error) {
	fmt.Fprint(os.Stderr, "password: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && len(line) == 0 {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return []byte(line), nil
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: cryfs <create|mount|check|recover> <basedir>")
}

func run() error {
	if len(os.Args) < 3 {
		usage()
		return fmt.Errorf("missing command or basedir")
	}
	cmd, basedir := os.Args[1], os.Args[2]

	cfg := loadRuntime()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	svc := app.NewService(*cfg, domain.SystemClock{}, log)
	ctx := context.Background()

	password, err := readPassword()
	if err != nil {
		return err
	}

	switch cmd {
	case "create":
		fs, err := svc.Create(ctx, basedir, password, app.CreateOptions{})
		if err != nil {
			return fmt.Errorf("create: %w", err)
		}
		defer fs.Close(ctx)
		fmt.Printf("created filesystem %s at %s\n", fs.Config.FilesystemID, basedir)
		return nil

	case "mount":
		fs, err := svc.Open(ctx, basedir, password, app.OpenOptions{})
		if err != nil {
			return fmt.Errorf("mount: %w", err)
		}
		defer fs.Close(ctx)
		// Handing fs.Adapter to a platform FUSE/Dokan/WinFsp binding is out
		// of scope here; this binary stops at proving the storage engine
		// opens cleanly, then closes it again on return.
		fmt.Printf("mounted filesystem %s (unmount not wired in this binary)\n", fs.Config.FilesystemID)
		return nil

	case "check":
		diags, err := svc.Check(ctx, basedir, password)
		if err != nil {
			return fmt.Errorf("check: %w", err)
		}
		if len(diags) == 0 {
			fmt.Println("no consistency problems found")
			return nil
		}
		for _, d := range diags {
			fmt.Println(d.String())
		}
		return fmt.Errorf("found %d consistency problem(s)", len(diags))

	case "recover":
		// Recovery in cryfs proper rebuilds a filesystem from blocks alone
		// when the config blob is unreadable; that reconstruction path is
		// out of scope here (spec.md §1). This degrades to Check, which at
		// least tells the caller what survived.
		diags, err := svc.Check(ctx, basedir, password)
		if err != nil {
			return fmt.Errorf("recover: %w", err)
		}
		fmt.Printf("recover: %d diagnostic(s); full block-scan recovery is not implemented\n", len(diags))
		return nil

	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func main() {
	if err := run(); err != nil {
		slog.Error("cryfs failed", "err", err)
		os.Exit(1)
	}
}
