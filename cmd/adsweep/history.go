package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nao1215/adsweep/internal/config"
	"github.com/nao1215/adsweep/internal/source"
	"github.com/nao1215/adsweep/internal/store"
)

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [page.html|url]",
		Short: "Show recorded scans, saved offers and downloads",
		Long: `History lists scans recorded by scan and watch, newest first.

Examples:
  # Last 20 scans of every page
  adsweep history

  # Scans of one snapshot
  adsweep history library.html

  # Full report of one recorded scan
  adsweep history --id 42 --markdown

  # Saved offers and downloaded media
  adsweep history --offers
  adsweep history --downloads`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistoryCmd,
	}

	cmd.Flags().IntP("limit", "l", 20, "Maximum number of scans to list (0 for all)")
	cmd.Flags().Int64("id", 0, "Print the full report of one recorded scan")
	cmd.Flags().BoolP("json", "j", false, "Print the report as JSON")
	cmd.Flags().BoolP("markdown", "m", false, "Print the report as Markdown")
	cmd.Flags().Bool("offers", false, "List saved offers")
	cmd.Flags().Bool("downloads", false, "List downloaded media")

	return cmd
}

func runHistoryCmd(cmd *cobra.Command, args []string) error {
	cfg, err := baseConfig(cmd, nil)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	limit, err := flags.GetInt("limit")
	if err != nil {
		return err
	}
	id, err := flags.GetInt64("id")
	if err != nil {
		return err
	}
	if cfg.JSONReport, err = flags.GetBool("json"); err != nil {
		return err
	}
	if cfg.MarkdownReport, err = flags.GetBool("markdown"); err != nil {
		return err
	}
	if cfg.JSONReport && cfg.MarkdownReport {
		return config.ErrConflictingReportFormats
	}
	offers, err := flags.GetBool("offers")
	if err != nil {
		return err
	}
	downloads, err := flags.GetBool("downloads")
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Verbose)
	st, err := store.Open(cfg.DBDir, store.Options{CreateIfNotExists: false})
	if err != nil {
		return fmt.Errorf("no history yet: %w", err)
	}
	defer closeStore(st, logger)

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	switch {
	case id > 0:
		result, err := st.ScanResultByID(ctx, id)
		if err != nil {
			return err
		}
		if result == nil {
			return fmt.Errorf("scan %d: %w", id, store.ErrNotFound)
		}
		_, err = newReportWriter(cfg, out).Write(result)
		return err

	case offers:
		list, err := st.ListOffers(ctx)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(list))
		for _, o := range list {
			rows = append(rows, []string{
				strconv.FormatInt(o.ID, 10), o.SavedAt.Format("2006-01-02 15:04"), o.Name, o.ExternalReference,
			})
		}
		return writeTable(out, []string{"ID", "SAVED", "NAME", "REFERENCE"}, rows,
			[]columnAlignment{alignRight})

	case downloads:
		list, err := st.ListDownloads(ctx)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(list))
		for _, d := range list {
			camera := d.Metadata["Model"]
			if camera == "" {
				camera = "-"
			}
			rows = append(rows, []string{
				strconv.FormatInt(d.ID, 10), d.FetchedAt.Format("2006-01-02 15:04"),
				strconv.FormatInt(d.Size, 10), d.Path, camera,
			})
		}
		return writeTable(out, []string{"ID", "FETCHED", "SIZE", "FILE", "CAMERA"}, rows,
			[]columnAlignment{alignRight, alignLeft, alignRight})
	}

	address := ""
	if len(args) == 1 {
		address = args[0]
		if !isURL(address) {
			address = source.FileAddress(address)
		}
	}
	entries, err := st.History(ctx, address, limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No scans recorded.")
		return nil
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			strconv.FormatInt(e.ID, 10), e.Timestamp.Format("2006-01-02 15:04:05"),
			strconv.Itoa(e.Found), strconv.Itoa(e.Admitted), strconv.Itoa(e.TopicMatches), e.Address,
		})
	}
	return writeTable(out, []string{"ID", "SCANNED", "FOUND", "NEW", "WHATSAPP", "PAGE"}, rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignRight})
}
