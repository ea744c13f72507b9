package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/benvon/chapters-api/internal/cache"
	"github.com/benvon/chapters-api/internal/chapterfile"
	"github.com/benvon/chapters-api/internal/config"
	"github.com/benvon/chapters-api/internal/database"
	"github.com/benvon/chapters-api/internal/events"
	"github.com/benvon/chapters-api/internal/handlers"
	"github.com/benvon/chapters-api/internal/models"
	"github.com/benvon/chapters-api/internal/validation"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// importActor identifies CLI imports in published events
const importActor = "chapters-configure"

// NewChaptersCmd creates the chapters command.
func NewChaptersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chapters",
		Short: "Manage chapter data",
	}
	cmd.AddCommand(newChaptersImportCmd())
	return cmd
}

func newChaptersImportCmd() *cobra.Command {
	var (
		file    string
		dryRun  bool
		noPurge bool
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Bulk import chapters from a JSON or YAML file",
		Long:  "Validate every record of --file and insert the valid ones in one transaction. Invalid records are listed and skipped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read %s: %w", file, err)
			}

			valid, failures, err := prepareImport(file, data)
			if err != nil {
				return err
			}
			renderFailures(cmd.OutOrStdout(), failures)
			if len(valid) == 0 {
				return fmt.Errorf("no valid chapters in %s", file)
			}
			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "%d chapters would be imported\n", len(valid))
				return nil
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			db, err := database.New(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer func() { _ = db.Close() }()

			if err := importChapters(cmd.Context(), database.NewChapterRepository(db), valid); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d chapters\n", len(valid))

			notifyImport(cmd, cfg, valid, !noPurge)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Chapter file (.json, .yaml or .yml)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate only; do not insert")
	cmd.Flags().BoolVar(&noPurge, "no-purge", false, "Leave cached chapter responses in place")
	return cmd
}

// prepareImport parses and validates data. It returns the insertable chapters
// and the field errors of rejected records keyed by record index.
func prepareImport(filename string, data []byte) ([]*models.Chapter, map[int]map[string]string, error) {
	records, err := chapterfile.Parse(filename, data)
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", filename, err)
	}

	failures := map[int]map[string]string{}
	var valid []*models.Chapter
	for i, rec := range records {
		if rec.Err != nil {
			failures[i] = map[string]string{"record": rec.Err.Error()}
			continue
		}
		in := rec.Input
		if err := validation.ValidateChapterInput(&in); err != nil {
			failures[i] = validation.FieldErrors(err)
			continue
		}
		valid = append(valid, in.ToChapter())
	}
	return valid, failures, nil
}

func importChapters(ctx context.Context, repo database.ChapterStore, chapters []*models.Chapter) error {
	if err := repo.BulkCreate(ctx, chapters); err != nil {
		return fmt.Errorf("insert chapters: %w", err)
	}
	return nil
}

// notifyImport purges cached listings and publishes the upload event. Both are
// best effort; the import has already committed.
func notifyImport(cmd *cobra.Command, cfg *config.Config, chapters []*models.Chapter, purge bool) {
	out := cmd.ErrOrStderr()

	if purge {
		if st, err := openStore(cmd); err != nil {
			fmt.Fprintf(out, "warning: cache not purged: %v\n", err)
		} else {
			if _, err := cache.New(st).Invalidate(cmd.Context(), handlers.ChaptersPath); err != nil {
				fmt.Fprintf(out, "warning: cache not purged: %v\n", err)
			}
			_ = st.Close()
		}
	}

	if cfg.RabbitMQURL == "" {
		return
	}
	pub, err := events.NewRabbitMQPublisher(cfg.RabbitMQURL)
	if err != nil {
		fmt.Fprintf(out, "warning: event not published: %v\n", err)
		return
	}
	defer func() { _ = pub.Close() }()

	ids := make([]int64, len(chapters))
	for i, c := range chapters {
		ids[i] = c.ID
	}
	if err := pub.Publish(cmd.Context(), events.New(events.TypeChaptersUploaded, importActor, ids...)); err != nil {
		fmt.Fprintf(out, "warning: event not published: %v\n", err)
	}
}

func renderFailures(w io.Writer, failures map[int]map[string]string) {
	if len(failures) == 0 {
		return
	}

	indexes := make([]int, 0, len(failures))
	for i := range failures {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.SetTitle("Skipped records")
	tw.AppendHeader(table.Row{"INDEX", "FIELD", "ERROR"})
	for _, i := range indexes {
		fields := make([]string, 0, len(failures[i]))
		for f := range failures[i] {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			tw.AppendRow(table.Row{i, f, failures[i][f]})
		}
	}
	tw.Render()
}
