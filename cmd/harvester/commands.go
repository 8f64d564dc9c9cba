package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JustJay7/court-lead-harvester/internal/api"
	"github.com/JustJay7/court-lead-harvester/internal/documents"
	"github.com/JustJay7/court-lead-harvester/internal/export"
	"github.com/JustJay7/court-lead-harvester/internal/harvest"
	"github.com/JustJay7/court-lead-harvester/internal/server"
	"github.com/spf13/cobra"
)

func init() {
	serveCmd.Flags().Bool("schedule", false, "also run the cron scheduler")

	scrapeCmd.Flags().String("court", "", "scrape only this court (code or name)")
	addWindowFlags(scrapeCmd)

	retrieveCmd.Flags().StringSlice("courts", nil, "court codes or names, all enabled courts when empty")
	addWindowFlags(retrieveCmd)

	documentsCmd.Flags().Int("limit", 100, "documents per step")

	rootCmd.AddCommand(serveCmd, scrapeCmd, retrieveCmd, scheduleCmd, documentsCmd,
		exportCmd, migrateCmd, courtsCmd, resetStateCmd)
}

func addWindowFlags(cmd *cobra.Command) {
	cmd.Flags().String("from", "", "first filing date (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "last filing date (YYYY-MM-DD), today when empty")
	cmd.Flags().Bool("force", false, "replace cases that are already stored")
}

func windowFlags(cmd *cobra.Command) (harvest.Request, error) {
	var req harvest.Request
	for flag, dst := range map[string]*time.Time{"from": &req.From, "to": &req.To} {
		raw, _ := cmd.Flags().GetString(flag)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return req, fmt.Errorf("--%s must be a YYYY-MM-DD date", flag)
		}
		*dst = t
	}
	req.Force, _ = cmd.Flags().GetBool("force")
	return req, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves the read and retrieval HTTP API.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if schedule, _ := cmd.Flags().GetBool("schedule"); schedule {
				s, err := harvest.NewScheduler(a.cfg, a.service, a.log)
				if err != nil {
					return err
				}
				s.Start()
				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
					defer cancel()
					s.Stop(ctx)
				}()
			}

			h := api.NewHandlers(a.cases, a.states, a.cache, a.registry, a.service, a.log)
			a.log.Info("Starting court lead harvester", "host", a.cfg.Host, "port", a.cfg.Port)
			return server.New(a.cfg, h, a.log).Run(cmd.Context())
		})
	},
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape <scraper>",
	Short: "Runs one scraper over its courts, or over a single court with --court.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := windowFlags(cmd)
		if err != nil {
			return err
		}
		court, _ := cmd.Flags().GetString("court")

		return withApp(func(a *app) error {
			list, err := a.registry.Courts(args[0])
			if err != nil {
				return err
			}
			if court != "" {
				c, err := a.registry.ResolveCourt(court)
				if err != nil {
					return err
				}
				if c.Scraper != args[0] {
					return fmt.Errorf("court %s belongs to %s, not %s", c.Code, c.Scraper, args[0])
				}
				req.Courts = []string{c.Code}
			} else {
				for _, c := range list {
					req.Courts = append(req.Courts, c.Code)
				}
			}
			return runRetrieval(cmd, a, req)
		})
	},
}

var retrieveCmd = &cobra.Command{
	Use:   "retrieve",
	Short: "Retrieves new cases for a date range and a list of courts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := windowFlags(cmd)
		if err != nil {
			return err
		}
		req.Courts, _ = cmd.Flags().GetStringSlice("courts")
		return withApp(func(a *app) error { return runRetrieval(cmd, a, req) })
	},
}

func runRetrieval(cmd *cobra.Command, a *app, req harvest.Request) error {
	summary, err := a.service.RetrieveCases(cmd.Context(), req)
	if err != nil {
		return err
	}
	printSummary(cmd.OutOrStdout(), summary)
	if !summary.Success {
		return errors.New(summary.Message)
	}
	return nil
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Retrieves the look-back window on the configured cron schedule until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			s, err := harvest.NewScheduler(a.cfg, a.service, a.log)
			if err != nil {
				return err
			}
			s.Start()
			<-cmd.Context().Done()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			s.Stop(ctx)
			return nil
		})
	},
}

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Downloads pending case documents, archives them and removes old local copies.",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(func(a *app) error {
			storage, err := documents.NewStorage(cmd.Context(), a.cfg)
			if err != nil {
				return err
			}
			p, err := documents.NewPipeline(a.cfg, a.cases, storage, a.log)
			if err != nil {
				return err
			}
			res, err := p.Run(cmd.Context(), limit)
			printDocuments(cmd.OutOrStdout(), storage.Name(), res)
			return err
		})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export-leads",
	Short: "Writes every lead that was not exported yet to a spreadsheet.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			path, count, err := export.NewExporter(a.cases, a.cfg.ExportDir, a.log).Export(cmd.Context())
			if err != nil {
				return err
			}
			if count == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No new leads to export.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d leads to %s\n", count, path)
			return nil
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Creates or updates the database schema.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			a.log.Info("Database migrations completed successfully", "path", a.cfg.DatabasePath)
			return nil
		})
	},
}

var courtsCmd = &cobra.Command{
	Use:   "courts",
	Short: "Lists the courts each scraper covers with its saved cursor.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			saved, err := a.states.All(cmd.Context())
			if err != nil {
				return err
			}
			printCourts(cmd.OutOrStdout(), a.registry, saved)
			return nil
		})
	},
}

var resetStateCmd = &cobra.Command{
	Use:   "reset-state <scraper>",
	Short: "Forgets the saved cursor of a scraper so the next run starts over.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if _, err := a.registry.Courts(args[0]); err != nil {
				return err
			}
			if err := a.states.Reset(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "State of %s reset.\n", args[0])
			return nil
		})
	},
}
