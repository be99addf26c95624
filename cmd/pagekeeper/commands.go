package main

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/renderinc/pagekeeper/internal/auth"
	"github.com/renderinc/pagekeeper/internal/search"
	"github.com/renderinc/pagekeeper/internal/storage"
	pagesync "github.com/renderinc/pagekeeper/internal/sync"
)

func searchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search pages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			composer := search.NewComposer(a.engine, a.db, a.log)
			results, err := composer.Compose(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return fmt.Errorf("error searching: %w", err)
			}
			if results.Error != "" {
				return errors.New(results.Error)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Full text results (%d):\n\n", len(results.TextResults))
			for i, r := range results.TextResults {
				fmt.Fprintf(out, "%d. %s\n", i+1, plain(string(r.TitleHighlight)))
				fmt.Fprintf(out, "   URL: %s\n", r.Page.AbsoluteURL())
				fmt.Fprintf(out, "   Rank: %.3f\n", r.Rank)
				if preview := plain(string(r.ContentHighlight)); preview != "" {
					fmt.Fprintf(out, "   Preview: %s\n", preview)
				}
				fmt.Fprintln(out)
			}

			printPages := func(heading string, pages []*storage.Page) {
				fmt.Fprintf(out, "%s (%d):\n", heading, len(pages))
				for _, p := range pages {
					fmt.Fprintf(out, "  %s  %s\n", p.AbsoluteURL(), p.Title)
				}
				fmt.Fprintln(out)
			}
			printPages("Title contains "+results.SearchString, results.TitleResults)
			printPages("Content contains "+results.SearchString, results.ContentResults)
			return nil
		},
	}
}

// plain turns a highlight into terminal text, marking matches with asterisks.
func plain(highlight string) string {
	s := strings.NewReplacer("<mark>", "*", "</mark>", "*").Replace(highlight)
	return html.UnescapeString(s)
}

func syncCommand() *cobra.Command {
	var maxPages, concurrency int

	cmd := &cobra.Command{
		Use:   "sync <dir>",
		Short: "Load page files from a directory into the database and index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			worker := pagesync.NewWorker(a.db, a.engine, a.log,
				pagesync.WithMaxPages(maxPages),
				pagesync.WithConcurrency(concurrency),
			)
			stats, err := worker.Sync(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("error syncing: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out)
			fmt.Fprintln(out, "=== Sync Complete ===")
			fmt.Fprintf(out, "Total pages:   %d\n", stats.TotalPages)
			fmt.Fprintf(out, "New:           %d\n", stats.NewPages)
			fmt.Fprintf(out, "Updated:       %d\n", stats.UpdatedPages)
			fmt.Fprintf(out, "Skipped:       %d\n", stats.SkippedPages)
			fmt.Fprintf(out, "Errors:        %d\n", stats.Errors)
			fmt.Fprintf(out, "Duration:      %v\n", stats.Duration.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "stop after this many pages (0 = unlimited)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 5, "pages synced at once")
	return cmd
}

func reindexCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the search index from the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Rebuilding search index...")
			startTime := time.Now()

			progressFn := func(current, total int) {
				percent := float64(current) / float64(total) * 100
				fmt.Fprintf(out, "\rIndexing: %d/%d (%.1f%%)  ", current, total, percent)
			}
			if err := search.Rebuild(cmd.Context(), a.engine, a.db, progressFn); err != nil {
				return fmt.Errorf("error rebuilding index: %w", err)
			}

			indexCount, err := a.engine.Count(cmd.Context())
			if err != nil {
				return fmt.Errorf("error getting index count: %w", err)
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "=== Reindex Complete ===")
			fmt.Fprintf(out, "Documents indexed: %d\n", indexCount)
			fmt.Fprintf(out, "Duration:          %v\n", time.Since(startTime).Round(time.Millisecond))
			return nil
		},
	}
}

func statsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			dbCount, err := a.db.CountPages(cmd.Context())
			if err != nil {
				return fmt.Errorf("error getting database count: %w", err)
			}
			indexCount, err := a.engine.Count(cmd.Context())
			if err != nil {
				return fmt.Errorf("error getting index count: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "=== Index Statistics ===")
			fmt.Fprintf(out, "Pages in database:   %d\n", dbCount)
			fmt.Fprintf(out, "Documents in index:  %d\n", indexCount)
			fmt.Fprintf(out, "Search backend:      %s\n", a.cfg.Search.Backend)
			return nil
		},
	}
}

func getPageCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get-page <slug>",
		Short: "Print a page's content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			page, err := a.db.GetPageBySlug(cmd.Context(), args[0])
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("page not found: %s", args[0])
			}
			if err != nil {
				return fmt.Errorf("error retrieving page: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), page.Content)
			return nil
		},
	}
}

func hashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash for auth.password_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
