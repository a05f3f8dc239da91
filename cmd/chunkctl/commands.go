package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/multierr"

	"content-regions/config"
	"content-regions/database"
	"content-regions/models"
	"content-regions/services"
)

func checkRegions(_ context.Context, cmd *cli.Command) error {
	file := cmd.Args().First()
	if file == "" {
		return errors.New("no region declaration file has been specified")
	}

	decls, err := config.LoadRegionDeclarations(file)
	if err != nil {
		return err
	}
	// the resolver applies the naming rules to every declared region
	resolver, err := services.NewRegionResolver(decls, true, nil)
	if err != nil {
		return err
	}

	out := cmd.Root().Writer
	for _, template := range resolver.Templates() {
		regions, _ := decls.Regions(template)
		fmt.Fprintf(out, "%s\n", template)
		for _, region := range regions {
			kinds := make([]string, 0, len(region.Kinds))
			for kind, limit := range region.Kinds {
				switch {
				case limit == nil:
					kinds = append(kinds, string(kind))
				case *limit > 0:
					kinds = append(kinds, fmt.Sprintf("%s(%d)", kind, *limit))
				}
			}
			sort.Strings(kinds)
			fmt.Fprintf(out, "  %-20s %-24q %v\n", region.Code, resolver.PrettyName(template, region.Code), kinds)
		}
	}
	fmt.Fprintf(out, "%d template(s) ok\n", len(resolver.Templates()))
	return nil
}

func printSchema(_ context.Context, cmd *cli.Command) error {
	cfg := config.LoadConfig()

	driver := cmd.String("driver")
	if driver == "" {
		driver = cfg.Database.Driver
	}
	table := cmd.String("table")
	if table == "" {
		table = cfg.Database.Table
	}

	ddl, err := database.Schema(driver, table)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.Root().Writer, ddl)
	return nil
}

func runConsistency(ctx context.Context, cmd *cli.Command) error {
	return withServices(ctx, func(container *services.ServiceContainer) error {
		if cmd.Bool("repair") {
			report, err := container.ConsistencyChecker.RepairAllInconsistencies(ctx)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd, report); err != nil {
				return err
			}
			if len(report.Failed) > 0 {
				return fmt.Errorf("%d region(s) could not be repaired", len(report.Failed))
			}
			return nil
		}

		report, err := container.ConsistencyChecker.CheckAllConsistency(ctx)
		if err != nil {
			return err
		}
		return writeJSON(cmd, report)
	})
}

func runConsolidate(ctx context.Context, cmd *cli.Command) error {
	parent := models.ParentRef{Type: cmd.String("parent-type"), ID: cmd.String("parent-id")}
	region := cmd.String("region")

	return withServices(ctx, func(container *services.ServiceContainer) error {
		writes, err := container.ChunkService.Consolidate(ctx, parent, region)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.Root().Writer, "%s/%s: %d position(s) rewritten\n", parent.Key(), region, writes)
		return nil
	})
}

func withServices(ctx context.Context, fn func(*services.ServiceContainer) error) (err error) {
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	container, err := services.NewServiceFactory(cfg).WithLogOutput(os.Stderr).CreateServices(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, container.Close())
	}()

	return fn(container)
}

func writeJSON(cmd *cli.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.Root().Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
