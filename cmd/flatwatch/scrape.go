package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pevans/flatwatch/discovery"
	"github.com/pevans/flatwatch/notify"
	"github.com/spf13/cobra"
)

type scrapeOptions struct {
	dryRun  bool
	only    []string
	preview string
}

func newScrapeCmd(a *app) *cobra.Command {
	var opts scrapeOptions

	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrape all enabled sites once and email new listings",
		Long: `Scrape every enabled site, record listings that have not been seen before
and send one email covering all of them. With --dry-run nothing is saved and
nothing is sent.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runScrape(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "scrape without saving listings or sending email")
	cmd.Flags().StringSliceVar(&opts.only, "site", nil, "only scrape the named site (repeatable)")
	cmd.Flags().StringVar(&opts.preview, "preview", "", "write the notification HTML to this file")

	return cmd
}

func (a *app) runScrape(cmd *cobra.Command, opts scrapeOptions) error {
	loaded, err := a.loadSites()
	if err != nil {
		return err
	}
	if len(loaded.Sites) == 0 {
		return fmt.Errorf("no site configurations found in %s", a.settings.SitesDir)
	}

	svc, _, _, cleanup, err := a.newService(loaded.Sites, opts.dryRun)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := svc.SyncSites(ctx, discovery.SyncOptions{DryRun: opts.dryRun, Only: opts.only})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printSyncResult(out, result)
	printLoadErrors(out, loaded.Errors)

	if opts.preview != "" {
		content, err := notify.Render(result.Batches(), time.Now())
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.preview, []byte(content.HTML), 0o644); err != nil {
			return fmt.Errorf("failed to write preview: %w", err)
		}
		fmt.Fprintf(out, "Preview written to %s\n", opts.preview)
	}

	if result.Err() != nil || len(loaded.Errors) > 0 {
		return errSilent
	}
	return nil
}
