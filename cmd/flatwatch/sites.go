package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pevans/flatwatch/history"
	"github.com/pevans/flatwatch/markers"
	"github.com/pevans/flatwatch/site"
	"github.com/spf13/cobra"
)

func newSitesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sites",
		Short: "Manage site configurations",
	}

	cmd.AddCommand(
		newSitesListCmd(a),
		newSitesInfoCmd(a),
		newSitesValidateCmd(a),
		newSitesNewCmd(a),
		newSitesTestCmd(a),
		newSitesTestMarkersCmd(a),
		newSitesStatusCmd(a),
	)

	return cmd
}

func newSitesListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured sites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := a.loadSites()
			if err != nil {
				return err
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if err := printSiteTable(out, loaded.Sites, st); err != nil {
				return err
			}
			printLoadErrors(out, loaded.Errors)
			return nil
		},
	}
}

func newSitesInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info NAME",
		Short: "Show the configuration of one site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.findSite(args[0])
			if err != nil {
				return err
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			stats, err := st.Stats(cfg.Name)
			if err != nil {
				return err
			}

			printSiteInfo(cmd.OutOrStdout(), cfg, stats)
			return nil
		},
	}
}

func newSitesValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [FILE...]",
		Short: "Validate site configuration files",
		Long:  "Validate the given files, or every file in the sites directory when none are given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			failed := 0

			if len(args) == 0 {
				loaded, err := site.LoadDir(a.settings.SitesDir)
				if err != nil {
					return err
				}
				for _, cfg := range loaded.Sites {
					fmt.Fprintf(out, "✓ %s (%s)\n", cfg.Path, cfg.Name)
				}
				for _, le := range loaded.Errors {
					fmt.Fprintf(out, "✗ %s\n", le.Error())
					failed++
				}
				if len(loaded.Sites) == 0 && failed == 0 {
					fmt.Fprintf(out, "No site configurations found in %s\n", a.settings.SitesDir)
				}
			}

			for _, path := range args {
				cfg, err := site.LoadFile(path)
				if err != nil {
					fmt.Fprintf(out, "✗ %s: %v\n", path, err)
					failed++
					continue
				}
				fmt.Fprintf(out, "✓ %s (%s)\n", path, cfg.Name)
			}

			if failed > 0 {
				fmt.Fprintf(out, "\n%d invalid configuration(s)\n", failed)
				return errSilent
			}
			return nil
		},
	}
}

func newSitesNewCmd(a *app) *cobra.Command {
	var (
		baseURL     string
		displayName string
		force       bool
	)

	cmd := &cobra.Command{
		Use:   "new NAME",
		Short: "Create a starter configuration for a new site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			data, err := site.Template(name, baseURL, displayName)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(a.settings.SitesDir, 0o755); err != nil {
				return fmt.Errorf("failed to create sites directory: %w", err)
			}

			path := filepath.Join(a.settings.SitesDir, name+".yaml")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created %s\n", path)
			fmt.Fprintln(out, "Next steps:")
			fmt.Fprintln(out, "  1. Inspect the site and update the selectors")
			fmt.Fprintf(out, "  2. Run: flatwatch sites test %s\n", name)
			fmt.Fprintln(out, "  3. Set enabled: true")
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "url", "", "listing page URL (required)")
	cmd.Flags().StringVar(&displayName, "display-name", "", "human-readable site name")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.MarkFlagRequired("url")

	return cmd
}

func newSitesTestCmd(a *app) *cobra.Command {
	var (
		pages int
		show  int
	)

	cmd := &cobra.Command{
		Use:   "test NAME",
		Short: "Fetch a site and show what would be extracted",
		Long:  "Fetch a site live and print the extracted listings. Nothing is saved and nothing is sent.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.findSite(args[0])
			if err != nil {
				return err
			}

			outcome, err := a.newScraper().ScrapePages(cmd.Context(), cfg, pages)
			if err != nil {
				return err
			}

			detector := markers.NewDetector(cfg.Markers)
			printScrapeOutcome(cmd.OutOrStdout(), outcome, detector.Apply(outcome.Listings), detector, show)

			if len(outcome.Listings) == 0 {
				return errSilent
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&pages, "pages", 1, "maximum pages to fetch")
	cmd.Flags().IntVar(&show, "show", 5, "number of listings to print")

	return cmd
}

func newSitesTestMarkersCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "test-markers NAME",
		Short: "Run marker detection against stored listings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.findSite(args[0])
			if err != nil {
				return err
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			records, err := st.Listings(cfg.Name)
			if err != nil {
				return err
			}

			printMarkerTest(cmd.OutOrStdout(), cfg, records, markers.NewDetector(cfg.Markers), limit)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "number of listings to show")

	return cmd
}

func newSitesStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the health of each site from run history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hist, err := a.openHistory()
			if err != nil {
				return err
			}
			if hist == nil {
				return errors.New("run history is disabled")
			}
			defer hist.Close()

			statuses, err := hist.ListSiteStatus(cmd.Context())
			if err != nil {
				return err
			}

			loaded, err := a.loadSites()
			if err != nil {
				return err
			}

			printStatusTable(cmd.OutOrStdout(), mergeStatus(loaded.Sites, statuses))
			return nil
		},
	}
}

// mergeStatus lists configured sites in configuration order followed by
// sites that only appear in history. Sites that never ran have no
// LastRunAt.
func mergeStatus(sites []*site.SiteConfig, statuses []history.SiteStatus) []history.SiteStatus {
	byName := make(map[string]history.SiteStatus, len(statuses))
	for _, s := range statuses {
		byName[s.Site] = s
	}

	merged := make([]history.SiteStatus, 0, len(sites)+len(statuses))
	for _, cfg := range sites {
		if s, ok := byName[cfg.Name]; ok {
			merged = append(merged, s)
			delete(byName, cfg.Name)
			continue
		}
		merged = append(merged, history.SiteStatus{Site: cfg.Name})
	}
	for _, s := range statuses {
		if _, ok := byName[s.Site]; ok {
			merged = append(merged, s)
		}
	}

	return merged
}
