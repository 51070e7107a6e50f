package cmd

import (
	"encoding/json"
	"sync"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/annworker/internal/index"
	"github.com/Aman-CERP/annworker/internal/output"
	"github.com/Aman-CERP/annworker/internal/protocol"
	"github.com/Aman-CERP/annworker/internal/worker"
)

func newRebuildCmd() *cobra.Command {
	var filename string

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the global index from the catalog cache",
		Long: `Rebuild the global index from the product vectors in the catalog cache
and persist it to the durable store. An existing persisted index is left
untouched when the catalog holds no usable vectors.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rt, err := worker.Open(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			out := output.New(cmd.OutOrStdout())
			res, err := runRebuild(cmd, rt.Dispatcher, filename, out)
			if err != nil {
				return err
			}
			out.Successf("Rebuilt %s: %d items (%d skipped)", res.Filename, res.ItemCount, res.Skipped)
			return nil
		},
	}

	cmd.Flags().StringVar(&filename, "filename", "", "Persisted index file (default from config)")

	return cmd
}

func runRebuild(cmd *cobra.Command, d *worker.Dispatcher, filename string, out *output.Writer) (index.ImportResult, error) {
	ctx := cmd.Context()

	events, unsubscribe := d.Hub().Subscribe(256)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range events {
			if ev.Type != protocol.EventIndexProgress {
				continue
			}
			var p index.Progress
			if err := json.Unmarshal(ev.Data, &p); err == nil {
				out.Progress(p.Processed, p.Total, "indexing catalog")
			}
		}
	}()
	defer func() {
		unsubscribe()
		wg.Wait()
	}()

	if err := call(ctx, d, protocol.TypeInitLib, nil, nil); err != nil {
		return index.ImportResult{}, err
	}
	var res index.ImportResult
	err := call(ctx, d, protocol.TypeImportIndex, protocol.ImportIndex{Filename: filename}, &res)
	return res, err
}
