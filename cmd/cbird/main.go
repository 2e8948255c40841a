// Command cbird is a thin operator shell over the catalog + index
// subsystem in pkg/catalog. It owns nothing beyond flag parsing and
// wiring: import, the interactive viewer, and the video/image decoders
// are separate concerns and are never referenced here.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/nightshadow92/cbird/internal/config"
	cerrors "github.com/nightshadow92/cbird/internal/errors"
	"github.com/nightshadow92/cbird/internal/logging"
	"github.com/nightshadow92/cbird/pkg/catalog"
)

func main() {
	os.Exit(run())
}

func run() int {
	root := flag.String("root", ".", "catalog root directory (also consulted for .cbird.yaml)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Usage = usage
	flag.Parse()

	logCfg := config.NewConfig().Log
	if *debug {
		logCfg.Level = "debug"
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cbird: failed to set up logging:", err)
		return 1
	}
	defer cleanup()
	slog.SetDefault(logger)

	cmd := flag.Arg(0)
	if cmd == "" {
		usage()
		return 1
	}

	if cmd == "config" {
		return runConfig(flag.Args()[1:])
	}

	cfg, err := config.Load(*root)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cbird: load config:", err)
		return 1
	}

	cat, err := catalog.Open(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cbird:", cerrors.Render(err))
		return 1
	}
	defer cat.Close()

	ctx := context.Background()
	switch cmd {
	case "status":
		return runStatus(ctx, cat)
	case "similar":
		return runSimilar(ctx, cat, flag.Args()[1:])
	case "dups":
		return runDups(ctx, cat)
	case "vacuum":
		return runVacuum(ctx, cat)
	default:
		fmt.Fprintf(os.Stderr, "cbird: unknown command %q\n", cmd)
		usage()
		return 1
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `cbird: perceptual-similarity search over a local media catalog

Usage:
  cbird [-root DIR] [-debug] <command> [args]

Commands:
  status             print the total record count
  similar <relPath>  find records similar to the one at relPath
  dups               group every record sharing an exact md5
  vacuum             compact storage and sweep orphaned sidecars
  config init        write the current defaults to the user config file
  config list        list timestamped user config backups, newest first
  config restore <backupPath>
                     restore the user config from a backup

cbird never walks the filesystem or decodes media itself; a record only
exists in the catalog once a separate importer has added it.`)
}

func runConfig(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "cbird: config requires a subcommand: init, list, restore")
		return 1
	}
	switch args[0] {
	case "init":
		if err := config.SaveUserConfig(config.NewConfig()); err != nil {
			fmt.Fprintln(os.Stderr, "cbird: config init:", err)
			return 1
		}
		fmt.Println("wrote", config.GetUserConfigPath())
		return 0
	case "list":
		backups, err := config.ListUserConfigBackups()
		if err != nil {
			fmt.Fprintln(os.Stderr, "cbird: config list:", err)
			return 1
		}
		for _, b := range backups {
			fmt.Println(b)
		}
		return 0
	case "restore":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "cbird: config restore requires exactly one backupPath argument")
			return 1
		}
		if err := config.RestoreUserConfig(args[1]); err != nil {
			fmt.Fprintln(os.Stderr, "cbird: config restore:", err)
			return 1
		}
		return 0
	default:
		fmt.Fprintf(os.Stderr, "cbird: unknown config subcommand %q\n", args[0])
		return 1
	}
}

func runStatus(ctx context.Context, cat *catalog.Catalog) int {
	n, err := cat.Count(ctx, catalog.KindAll)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cbird: count:", cerrors.Render(err))
		return 1
	}
	fmt.Printf("%d records under %s\n", n, cat.Dir())
	return 0
}

func runSimilar(ctx context.Context, cat *catalog.Catalog, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "cbird: similar requires exactly one relPath argument")
		return 1
	}
	needle, err := cat.MediaWithPath(ctx, args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, "cbird: lookup needle:", cerrors.Render(err))
		return 1
	}
	params := catalog.DefaultSearchParams()
	hits, err := cat.SimilarTo(ctx, needle, params)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cbird: search:", cerrors.Render(err))
		return 1
	}
	return printJSON(hits)
}

func runDups(ctx context.Context, cat *catalog.Catalog) int {
	groups, err := cat.DupsByMD5(ctx, catalog.DefaultSearchParams())
	if err != nil {
		fmt.Fprintln(os.Stderr, "cbird: dups:", cerrors.Render(err))
		return 1
	}
	return printJSON(groups)
}

func runVacuum(ctx context.Context, cat *catalog.Catalog) int {
	result, err := cat.Vacuum(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cbird: vacuum:", cerrors.Render(err))
		return 1
	}
	return printJSON(result)
}

func printJSON(v any) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(os.Stderr, "cbird: encode output:", err)
		return 1
	}
	return 0
}
