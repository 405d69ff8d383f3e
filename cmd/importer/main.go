package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/stemsi/mocktest-backend/internal/config"
	"github.com/stemsi/mocktest-backend/internal/database"
	"github.com/stemsi/mocktest-backend/internal/importer"
	"github.com/stemsi/mocktest-backend/internal/logger"
	"github.com/stemsi/mocktest-backend/internal/repository"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:          "importer <bank.yaml>...",
		Short:        "Import YAML question banks into the catalogue",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			banks := make([]*importer.Bank, len(args))
			for i, path := range args {
				b, err := parseFile(path)
				if err != nil {
					return err
				}
				banks[i] = b
			}
			if dryRun {
				cmd.Printf("%d bank(s) are valid\n", len(banks))
				return nil
			}
			return importAll(cmd, args, banks)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate the files without writing")
	return cmd
}

func parseFile(path string) (*importer.Bank, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	b, err := importer.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

func importAll(cmd *cobra.Command, paths []string, banks []*importer.Bank) error {
	cfg := config.Load()
	log := logger.Setup("importer", cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	im := importer.New(pool,
		repository.NewSubjectRepository(pool),
		repository.NewQuestionRepository(pool),
		repository.NewTestRepository(pool),
		log,
	)

	for i, b := range banks {
		res, err := im.Import(ctx, b)
		if err != nil {
			return fmt.Errorf("%s: %w", paths[i], err)
		}
		cmd.Printf("%s: subject %s, %d question(s), %d test(s)\n",
			paths[i], res.SubjectID, res.Questions, res.Tests)
	}
	return nil
}
