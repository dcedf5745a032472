package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/routeforge/routeforge/internal/compiler"
	"github.com/routeforge/routeforge/internal/config"
	"github.com/routeforge/routeforge/internal/fancy"
	"github.com/routeforge/routeforge/internal/routes"
	"github.com/urfave/cli/v3"
)

var validateCmd = &cli.Command{
	Name:  "validate",
	Usage: "Validate a config file (.toml) or a route definition (.json)",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		if cmd.Args().Len() < 1 {
			return fmt.Errorf("file path required")
		}
		path := cmd.Args().Get(0)
		if strings.HasSuffix(path, ".toml") {
			return validateConfigFile(path)
		}
		return validateRouteFile(path)
	},
}

func validateConfigFile(path string) error {
	cfg, err := config.NewFromFilePath(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	fmt.Printf("%s %s\n", fancy.ValidText("Valid config:"), fancy.PathText(path))
	return nil
}

func validateRouteFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read definition: %w", err)
	}
	def, err := routes.ParseDefinition(data)
	if err != nil {
		return fmt.Errorf("failed to parse definition: %w", err)
	}

	compiled, err := compiler.New().Compile(def)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Printf("%s %s\n\n", fancy.ValidText("Valid route:"), fancy.PathText(path))
	fmt.Println(fancy.RouteTree(compiled))
	return nil
}
