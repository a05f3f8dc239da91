// Command chunkctl is the operator tool for the region chunk store: it checks
// region declaration files, prints the table DDL and runs consistency repairs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"
)

func newApp() *cli.Command {
	return &cli.Command{
		Name:            "chunkctl",
		Usage:           "operate on region chunk stores",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env", Usage: "load environment from `FILE` before reading configuration"},
		},
		Before: loadEnv,
		Commands: []*cli.Command{
			{
				Name:      "check-regions",
				Usage:     "Validates a region declaration file (YAML)",
				ArgsUsage: "FILE",
				Action:    checkRegions,
			},
			{
				Name:  "schema",
				Usage: "Prints the DDL creating the chunk table",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "driver", Usage: "`DRIVER` to print DDL for (postgres or sqlite), defaults to DB_DRIVER"},
					&cli.StringFlag{Name: "table", Usage: "chunk `TABLE` name, defaults to DB_CHUNK_TABLE"},
				},
				Action: printSchema,
			},
			{
				Name:  "consistency",
				Usage: "Reports (parent, region) pairs whose positions are not 1..N",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "repair", Usage: "consolidate every pair found broken"},
				},
				Action: runConsistency,
			},
			{
				Name:  "consolidate",
				Usage: "Renumbers one region of one parent to 1..N",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "parent-type", Required: true},
					&cli.StringFlag{Name: "parent-id", Required: true},
					&cli.StringFlag{Name: "region", Required: true},
				},
				Action: runConsolidate,
			},
		},
	}
}

func loadEnv(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if file := cmd.String("env"); file != "" {
		if err := godotenv.Load(file); err != nil {
			return ctx, fmt.Errorf("unable to load environment file: %w", err)
		}
		return ctx, nil
	}
	// a missing default .env is normal
	_ = godotenv.Load()
	return ctx, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "chunkctl: %v\n", err)
		stop()
		os.Exit(1)
	}
}
