package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	catalogApp "github.com/AzielCF/az-restyle/catalog/application"
	catalogDomain "github.com/AzielCF/az-restyle/catalog/domain"
	catalogRepo "github.com/AzielCF/az-restyle/catalog/repository"
	"github.com/AzielCF/az-restyle/core/config"
	"github.com/AzielCF/az-restyle/core/database"
	pipelineRepo "github.com/AzielCF/az-restyle/pipeline/repository"
	"github.com/AzielCF/az-restyle/pkg/contentcache"
	"github.com/AzielCF/az-restyle/validations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Long: `Runs the schema migration for templates and edit records. With --seed,
templates from a JSON file are inserted or updated afterwards.`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().String("seed", "", "JSON file with templates to upsert | example: --seed=templates.json")
	rootCmd.AddCommand(migrateCmd)
}

// seedTemplate is the on-disk shape of a template. Unlike the API view it
// carries the prompt.
type seedTemplate struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Prompt      string   `json:"prompt"`
	PreviewURL  string   `json:"preview_url"`
	Tags        []string `json:"tags"`
	IsActive    *bool    `json:"is_active"`
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := database.NewDatabase(config.Global)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	templates := catalogRepo.NewTemplateGormRepository(db)
	if err := migrate(ctx, templates, pipelineRepo.NewEditRecordGormRepository(db)); err != nil {
		return err
	}
	logrus.Infof("[MIGRATE] Schema is up to date (%s)", config.Global.Database.Driver)

	path, _ := cmd.Flags().GetString("seed")
	if path == "" {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()

	seeds, err := loadSeed(ctx, f)
	if err != nil {
		return err
	}

	catalog := catalogApp.NewCatalogService(templates, contentcache.New[any](contentcache.Options{Capacity: 1}), 0)
	for _, tpl := range seeds {
		if err := catalog.Upsert(ctx, tpl); err != nil {
			return fmt.Errorf("seed %s: %w", tpl.ID, err)
		}
	}
	logrus.Infof("[MIGRATE] Seeded %d templates from %s", len(seeds), path)
	return nil
}

// loadSeed decodes and validates a seed file. Templates are active unless
// the file says otherwise.
func loadSeed(ctx context.Context, r io.Reader) ([]*catalogDomain.Template, error) {
	var raw []seedTemplate
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}

	seen := make(map[string]bool, len(raw))
	out := make([]*catalogDomain.Template, 0, len(raw))
	for _, s := range raw {
		tpl := &catalogDomain.Template{
			ID:          s.ID,
			Name:        s.Name,
			Description: s.Description,
			Category:    s.Category,
			Prompt:      s.Prompt,
			PreviewURL:  s.PreviewURL,
			Tags:        s.Tags,
			IsActive:    s.IsActive == nil || *s.IsActive,
		}
		if err := validations.ValidateTemplate(ctx, tpl); err != nil {
			return nil, err
		}
		if seen[tpl.ID] {
			return nil, fmt.Errorf("duplicate template id %q in seed file", tpl.ID)
		}
		seen[tpl.ID] = true
		out = append(out, tpl)
	}
	return out, nil
}
