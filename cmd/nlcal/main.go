package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"nlcal/internal/ics"
	appLog "nlcal/internal/log"
	"nlcal/internal/model"
	"nlcal/internal/orchestrator"
	"nlcal/internal/web"
)

const version = "0.1.0"

var (
	configPath string
	debug      bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "nlcal",
		Short:         "Natural-language calendar assistant",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./nlcal.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "force debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sayCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(slotsCmd())
	rootCmd.AddCommand(refreshCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// open loads the config and wires the backends. The caller closes the app.
func open(ctx context.Context) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if debug {
		cfg.LogLevel = "debug"
		appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	}
	return newApp(ctx, cfg)
}

func serveCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with scheduled subscription refresh",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if listen != "" {
				a.cfg.Listen = listen
			}
			appLog.Info("nlcal starting", "version", version)

			c := cron.New(cron.WithLocation(a.cfg.Location()))
			if a.sessions != nil {
				if _, err := a.sessions.ScheduleSweep(c, a.cfg.SweepCron); err != nil {
					return fmt.Errorf("schedule sweep %q: %w", a.cfg.SweepCron, err)
				}
			}
			if len(a.cfg.ICS) > 0 {
				sub := a.subscriber()
				if _, err := sub.Schedule(c, a.cfg.RefreshCron); err != nil {
					return fmt.Errorf("schedule refresh %q: %w", a.cfg.RefreshCron, err)
				}
				go func() {
					rctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
					defer cancel()
					_, _ = sub.Refresh(rctx)
				}()
			}
			c.Start()
			defer func() { <-c.Stop().Done() }()

			err = web.NewServer(a.cfg, a.orch, a.store, a.cfg.LogLevel == "debug").Run(ctx)
			appLog.Info("nlcal exiting")
			return err
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config)")
	return cmd
}

func sayCmd() *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "say [message...]",
		Short: "Run one command, or read commands from stdin when none is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) > 0 {
				printResponse(a.orch.Handle(ctx, session, strings.Join(args, " ")))
				return nil
			}

			sc := bufio.NewScanner(os.Stdin)
			fmt.Print("> ")
			for sc.Scan() {
				line := strings.TrimSpace(sc.Text())
				if line == "" {
					fmt.Print("> ")
					continue
				}
				if line == "exit" || line == "quit" {
					break
				}
				printResponse(a.orch.Handle(ctx, session, line))
				fmt.Print("> ")
			}
			return sc.Err()
		},
	}
	cmd.Flags().StringVar(&session, "session", "cli", "session id for pending confirmations")
	return cmd
}

func printResponse(resp orchestrator.Response) {
	fmt.Println(resp.Message)
	for _, fc := range resp.FunctionCalls {
		appLog.Debug("function call", "name", fc.Name, "success", fc.Success, "result", fc.Result)
	}
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.ics|file.csv>",
		Short: "Add the events of an ICS or CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			path := args[0]
			loc := a.cfg.Location()
			var events []model.CalendarEvent
			switch strings.ToLower(filepath.Ext(path)) {
			case ".ics":
				body, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				items, err := ics.Parse(body, loc)
				if err != nil {
					return err
				}
				for _, it := range items {
					events = append(events, it.Event)
				}
			case ".csv":
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()
				if events, err = ics.ReadCSV(f, loc); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unsupported file type %q", filepath.Ext(path))
			}

			n, err := ics.ImportEvents(ctx, a.store, events)
			fmt.Printf("imported %d of %d events\n", n, len(events))
			return err
		},
	}
}

func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <file.ics|file.csv|file.xlsx>",
		Short: "Write every stored event to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			now := time.Now()
			events, err := a.store.List(ctx, time.Unix(0, 0), now.AddDate(20, 0, 0))
			if err != nil {
				return err
			}

			path := args[0]
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".ics" && ext != ".csv" && ext != ".xlsx" {
				return fmt.Errorf("unsupported file type %q", filepath.Ext(path))
			}
			f, err := os.Create(path)
			if err != nil {
				return err
			}
			defer f.Close()

			switch ext {
			case ".ics":
				err = ics.Export(f, events, now)
			case ".csv":
				err = ics.WriteCSV(f, events)
			default:
				err = ics.WriteXLSX(f, events)
			}
			if err != nil {
				return err
			}
			fmt.Printf("exported %d events to %s\n", len(events), path)
			return nil
		},
	}
}

func slotsCmd() *cobra.Command {
	var (
		date    string
		minutes int
	)
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "List free slots within working hours",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			loc := a.cfg.Location()
			day := model.DayStart(time.Now().In(loc))
			if date != "" {
				if day, err = time.ParseInLocation("2006-01-02", date, loc); err != nil {
					return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
				}
			}
			if minutes <= 0 {
				minutes = a.cfg.DefaultDurationMinutes
			}

			slots, err := a.orch.Slots(ctx, day, time.Duration(minutes)*time.Minute)
			if err != nil {
				return err
			}
			if len(slots) == 0 {
				fmt.Println("no free slots")
				return nil
			}
			for _, s := range slots {
				fmt.Printf("%s - %s\n", s.Start.Format("2006-01-02 15:04"), s.End.Format("15:04"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day to search (YYYY-MM-DD, default today)")
	cmd.Flags().IntVar(&minutes, "duration", 0, "slot length in minutes (default from config)")
	return cmd
}

func refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh ICS subscriptions once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if len(a.cfg.ICS) == 0 {
				return fmt.Errorf("no ics sources in %s", configPath)
			}
			stats, err := a.subscriber().Refresh(ctx)
			fmt.Printf("sources=%d created=%d updated=%d deleted=%d failed=%d\n",
				stats.Sources, stats.Created, stats.Updated, stats.Deleted, stats.Failed)
			return err
		},
	}
}
