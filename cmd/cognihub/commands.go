package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
)

func newIngestCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Chunk, embed and index local text files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				id, err := a.docs.AddDocument(cmd.Context(), filepath.Base(path), string(data))
				if err != nil {
					return fmt.Errorf("ingest %s: %w", path, err)
				}
				fmt.Printf("ingested %s as doc %d\n", path, id)
			}
			return nil
		},
	}
}

func newDocsCmd(a *app) *cobra.Command {
	docs := &cobra.Command{
		Use:   "docs",
		Short: "Manage the local document index",
	}

	docs.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List indexed documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := a.docs.ListDocuments(cmd.Context())
			if err != nil {
				return err
			}
			for _, d := range list {
				fmt.Printf("%6d  w=%.1f  chunks=%-4d  %s\n", d.ID, d.Weight, d.ChunkCount, d.Filename)
			}
			return nil
		},
	})

	docs.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a document and its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("bad document id %q", args[0])
			}
			return exitIfNotFound(a.docs.DeleteDocument(cmd.Context(), id))
		},
	})

	search := &cobra.Command{
		Use:   "search <query>",
		Short: "Query the document index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topK, _ := cmd.Flags().GetInt("top-k")
			hits, err := a.docs.Retrieve(cmd.Context(), args[0], topK, docSearchOptions(cmd))
			if err != nil {
				return err
			}
			for _, h := range hits {
				fmt.Printf("%.4f  %s#%d\n  %s\n", h.Score, h.Filename, h.ChunkIndex, firstLine(h.Text))
			}
			return nil
		},
	}
	search.Flags().Int("top-k", 6, "number of results")
	search.Flags().Bool("mmr", false, "diversity re-ranking")
	docs.AddCommand(search)

	return docs
}

func newResearchCmd(a *app) *cobra.Command {
	var (
		rounds           int
		noWeb, noKiwix   bool
		noDocs, showJSON bool
	)
	cmd := &cobra.Command{
		Use:   "research <query>",
		Short: "Run multi-round research and print the answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, queue := a.orchestrator()
			defer queue.Close()

			run, err := orch.Execute(cmd.Context(), args[0], researchOptions(rounds, noDocs, noWeb, noKiwix))
			if err != nil {
				return err
			}
			if showJSON {
				return printJSON(run)
			}
			fmt.Printf("run %s (%s)\n\n%s\n", run.ID, run.Status, run.FinalAnswer)
			return nil
		},
	}
	cmd.Flags().IntVar(&rounds, "rounds", 0, "round cap (0 = default)")
	cmd.Flags().BoolVar(&noDocs, "no-docs", false, "disable the document provider")
	cmd.Flags().BoolVar(&noWeb, "no-web", false, "disable live web search")
	cmd.Flags().BoolVar(&noKiwix, "no-kiwix", false, "disable the offline encyclopedia")
	cmd.Flags().BoolVar(&showJSON, "json", false, "print the full run record as JSON")
	return cmd
}

func newRunsCmd(a *app) *cobra.Command {
	runs := &cobra.Command{
		Use:   "runs",
		Short: "Inspect persisted research runs",
	}

	runs.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := a.runs.ListRuns(cmd.Context(), "", 50, 0)
			if err != nil {
				return err
			}
			for _, r := range list {
				fmt.Printf("%s  %-7s  %s\n", r.ID, r.Status, r.Query)
			}
			return nil
		},
	})

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print one run with its trace, sources and claims",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			run, err := a.runs.GetRun(ctx, args[0])
			if err != nil {
				return exitIfNotFound(err)
			}
			trace, err := a.runs.GetTrace(ctx, run.ID, 500, 0)
			if err != nil {
				return err
			}
			sources, err := a.runs.GetSources(ctx, run.ID)
			if err != nil {
				return err
			}
			claims, err := a.runs.GetClaims(ctx, run.ID)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{
				"run": run, "trace": trace, "sources": sources, "claims": claims,
			})
		},
	}
	runs.AddCommand(show)

	sourceFlag := func(use, short string, pin bool) *cobra.Command {
		c := &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				sourceID, err := strconv.ParseInt(args[1], 10, 64)
				if err != nil {
					return fmt.Errorf("bad source id %q", args[1])
				}
				clear, _ := cmd.Flags().GetBool("clear")
				value := !clear
				if pin {
					return a.runs.SetSourceFlag(cmd.Context(), args[0], sourceID, &value, nil)
				}
				return a.runs.SetSourceFlag(cmd.Context(), args[0], sourceID, nil, &value)
			},
		}
		c.Flags().Bool("clear", false, "clear the flag instead of setting it")
		return c
	}
	runs.AddCommand(sourceFlag("pin <run-id> <source-id>", "Pin a source so it leads the run's evidence", true))
	runs.AddCommand(sourceFlag("exclude <run-id> <source-id>", "Exclude a source from the run's evidence", false))
	return runs
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' || i >= 160 {
			return s[:i]
		}
	}
	return s
}
