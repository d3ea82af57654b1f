package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/websift/websift/internal/config"
	"github.com/websift/websift/internal/harvest"
	"github.com/websift/websift/internal/retriever"
)

// taskFile is the on-disk shape of a fetch task list, typically
// produced by a search-engine client.
type taskFile struct {
	Tasks []struct {
		URL         string `json:"url"`
		Title       string `json:"title"`
		OriginQuery string `json:"origin_query"`
	} `json:"tasks"`
}

func newSearchCmd() *cobra.Command {
	var (
		tasksPath string
		urls      []string
		jsonOut   bool
	)

	cmd := &cobra.Command{
		Use:   "search <query> [query...]",
		Short: "Retrieve the most relevant passages for one or more queries",
		Long: `Search fetches the given URLs, extracts and chunks their content, and
prints the passages most relevant to the queries. With several
queries, each is ranked independently and the rankings are merged by
reciprocal rank fusion.

URLs come either from repeated --url flags or from a JSON task file:

  {"tasks": [{"url": "...", "title": "...", "origin_query": "..."}]}`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := loadTasks(tasksPath, urls, args[0])
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				return fmt.Errorf("no URLs to search: pass --url or --tasks")
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			engine, err := retriever.New(cfg, slog.Default())
			if err != nil {
				return err
			}
			defer engine.Close()

			results, err := engine.RetrieveAll(cmd.Context(), args, tasks)
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}

			for i, r := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "%d. [%.4f] %s\n   %s\n   %s\n\n",
					i+1, r.Score, r.SourceTitle, r.SourceURL, r.Text)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tasksPath, "tasks", "", "Path to JSON task file")
	cmd.Flags().StringArrayVar(&urls, "url", nil, "URL to fetch (repeatable)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit results as JSON")

	return cmd
}

// loadTasks merges the task file and --url flags into fetch tasks.
func loadTasks(path string, urls []string, query string) ([]harvest.FetchTask, error) {
	var tasks []harvest.FetchTask

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read task file: %w", err)
		}
		var tf taskFile
		if err := json.Unmarshal(data, &tf); err != nil {
			return nil, fmt.Errorf("invalid task file: %w", err)
		}
		for _, t := range tf.Tasks {
			origin := t.OriginQuery
			if origin == "" {
				origin = query
			}
			tasks = append(tasks, harvest.FetchTask{
				ID:          len(tasks),
				URL:         t.URL,
				Title:       t.Title,
				OriginQuery: origin,
			})
		}
	}

	for _, u := range urls {
		tasks = append(tasks, harvest.FetchTask{
			ID:          len(tasks),
			URL:         u,
			OriginQuery: query,
		})
	}
	return tasks, nil
}
