package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	werrors "github.com/Aman-CERP/annworker/internal/errors"
	"github.com/Aman-CERP/annworker/internal/index"
	"github.com/Aman-CERP/annworker/internal/protocol"
	"github.com/Aman-CERP/annworker/internal/worker"
)

type searchOptions struct {
	limit    int
	filename string
	json     bool
}

type searchOutput struct {
	Query     string    `json:"query"`
	Model     string    `json:"model"`
	Neighbors []string  `json:"neighbors"`
	Distances []float32 `json:"distances"`
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the persisted global index",
		Long: `Embed the query and search the persisted global index.

Output is a table on a terminal and JSON otherwise (or with --json).`,
		Example: `  annworker search "waterproof hiking boots"
  annworker search "standing desk" -n 5 --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rt, err := worker.Open(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			res, err := runSearch(cmd.Context(), rt.Dispatcher, strings.Join(args, " "), opts)
			if err != nil {
				return err
			}
			if opts.json || !isTerminal(cmd.OutOrStdout()) {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			return printSearch(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of neighbors")
	cmd.Flags().StringVar(&opts.filename, "filename", "", "Persisted index file (default from config)")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Output JSON even on a terminal")

	return cmd
}

func runSearch(ctx context.Context, d *worker.Dispatcher, query string, opts searchOptions) (searchOutput, error) {
	if err := call(ctx, d, protocol.TypeInitLib, nil, nil); err != nil {
		return searchOutput{}, err
	}

	// The stored capacity may exceed the configured default after a rebuild.
	if _, err := d.State().Manager.OpenSaved(ctx, opts.filename); err != nil {
		var we *werrors.WorkerError
		if errors.As(err, &we) && we.Code == werrors.ErrCodeNotReady {
			return searchOutput{}, we.WithSuggestion("run 'annworker rebuild' first")
		}
		return searchOutput{}, err
	}

	var embedded worker.EmbedResult
	if err := call(ctx, d, protocol.TypeEmbedQuery, protocol.EmbedQuery{Query: query}, &embedded); err != nil {
		return searchOutput{}, err
	}

	var found index.SearchResult
	if err := call(ctx, d, protocol.TypeSearch, protocol.Search{
		QueryEmbedding: embedded.Embedding,
		Limit:          opts.limit,
		IndexContext:   index.ContextGlobal,
	}, &found); err != nil {
		return searchOutput{}, err
	}

	return searchOutput{
		Query:     query,
		Model:     embedded.Model,
		Neighbors: found.Neighbors,
		Distances: found.Distances,
	}, nil
}

func printSearch(w io.Writer, res searchOutput) error {
	if len(res.Neighbors) == 0 {
		_, err := fmt.Fprintf(w, "No results for %q\n", res.Query)
		return err
	}
	if _, err := fmt.Fprintf(w, "Results for %q (model %s)\n\n", res.Query, res.Model); err != nil {
		return err
	}
	for i, id := range res.Neighbors {
		if _, err := fmt.Fprintf(w, "%3d. %-32s  distance %.4f\n", i+1, id, res.Distances[i]); err != nil {
			return err
		}
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
