package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/xaenox/dump-bot/internal/app"
	"github.com/xaenox/dump-bot/internal/models"
	"github.com/xaenox/dump-bot/internal/pipeline"
	"github.com/xaenox/dump-bot/internal/storage"
	"github.com/xaenox/dump-bot/internal/workspace"
	"github.com/xaenox/dump-bot/pkg/config"
	"go.uber.org/zap"
)

var (
	dbPath     string
	configPath string
	session    string
	verbose    bool
)

func main() {
	// Default database location
	home, _ := os.UserHomeDir()
	defaultDB := filepath.Join(home, ".dump-bot", "dumps.db")

	rootCmd := &cobra.Command{
		Use:          "dumpctl",
		Short:        "Capture dumps and classify them into themes, actions and questions",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDB, "sqlite database path")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "config file for classifier settings")
	rootCmd.PersistentFlags().StringVar(&session, "session", "default", "session name")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr")

	rootCmd.AddCommand(addCmd())
	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(voteCmd())
	rootCmd.AddCommand(doneCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type env struct {
	store  storage.Storage
	ws     *workspace.Service
	logger *zap.Logger
}

func (e *env) Close() {
	e.store.Close()
	e.logger.Sync()
}

func open() (*env, error) {
	logger := zap.NewNop()
	if verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		logger = l
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	cfg.Database.Driver = config.DriverSQLite
	cfg.Database.UseInMemory = false
	cfg.Database.SQLitePath = dbPath

	store, err := app.OpenStorage(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	return &env{store: store, ws: app.NewWorkspace(cfg, store, logger), logger: logger}, nil
}

func addCmd() *cobra.Command {
	var process bool

	cmd := &cobra.Command{
		Use:   "add [content]",
		Short: "Add a new dump",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open()
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := cmd.Context()
			entry, err := e.ws.SubmitDump(ctx, session, os.Getenv("USER"), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Printf("Added dump: %s\n", entry.ID[:8])

			if !process {
				return nil
			}

			fmt.Print("Classifying... ")
			out, err := e.ws.ProcessNow(ctx, session, entry.ID)
			if err != nil {
				fmt.Printf("failed: %v\n", err)
				return nil
			}
			fmt.Printf("%s\n", out.Type)
			for _, a := range out.Actions {
				fmt.Printf("  action   [%s] %s\n", a.Priority, a.Text)
			}
			for _, q := range out.Questions {
				fmt.Printf("  question %s\n", q.Text)
			}
			for _, th := range out.Themes {
				verb := "linked"
				if th.Created {
					verb = "new"
				}
				fmt.Printf("  theme    %s (%d%%, %s)\n", th.Title, th.Confidence, verb)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&process, "process", false, "classify the dump right away")
	return cmd
}

func processCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Classify every unclassified dump in the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open()
			if err != nil {
				return err
			}
			defer e.Close()

			report, err := e.ws.ProcessUnclassified(cmd.Context(), session, func(u pipeline.Update) {
				fmt.Println(formatUpdate(u))
			})
			if err != nil {
				return err
			}

			if len(report.Steps) == 0 {
				fmt.Println("Nothing to process.")
				return nil
			}
			fmt.Printf("\n%d done, %d failed, %d pending\n", report.Done, report.Failed, report.Pending())
			if report.Cancelled {
				fmt.Println("Cancelled before every dump was processed.")
			}
			if report.RefreshErr != nil {
				fmt.Printf("warning: could not refresh session: %v\n", report.RefreshErr)
			}
			return nil
		},
	}
}

func formatUpdate(u pipeline.Update) string {
	s := u.Step()
	line := fmt.Sprintf("[%d/%d] %-10s %s", u.Index+1, len(u.Steps), s.Status, s.Preview)
	switch s.Status {
	case pipeline.StatusDone:
		if s.Result != nil {
			line += fmt.Sprintf("\n         -> %s, %d actions, %d questions, %d themes",
				s.Result.Type, s.Result.ActionsCount, s.Result.QuestionsCount, s.Result.ThemesCount)
		}
	case pipeline.StatusError:
		line += "\n         -> " + strings.Join(s.Reasoning, "; ")
	}
	return line
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "show [themes|actions|questions|dumps]",
		Short:     "Show the session",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"themes", "actions", "questions", "dumps"},
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open()
			if err != nil {
				return err
			}
			defer e.Close()

			agg, err := e.ws.Aggregate(cmd.Context(), session)
			if err != nil {
				return err
			}

			what := ""
			if len(args) == 1 {
				what = args[0]
			}
			printAggregate(agg, what)
			return nil
		},
	}
}

func printAggregate(agg *models.Aggregate, what string) {
	if what == "" || what == "dumps" {
		fmt.Printf("Dumps (%d):\n", len(agg.Entries))
		for _, d := range agg.Entries {
			fmt.Printf("  %s  %-8s %s\n", d.ID[:8], d.Type, pipeline.Preview(d.Content))
		}
	}
	if what == "" || what == "themes" {
		fmt.Printf("Themes (%d):\n", len(agg.Themes))
		for _, th := range agg.Themes {
			fmt.Printf("  %-30s %3d%%  %d dumps", th.Title, th.Confidence, len(th.LinkedEntryIDs))
			if len(th.Tags) > 0 {
				fmt.Printf("  #%s", strings.Join(th.Tags, " #"))
			}
			fmt.Println()
		}
	}
	if what == "" || what == "actions" {
		fmt.Printf("Actions (%d):\n", len(agg.Actions))
		for i, a := range agg.Actions {
			box := "[ ]"
			if a.Done {
				box = "[x]"
			}
			fmt.Printf("  %d. %s %-6s %s (%s)\n", i+1, box, a.Priority, a.Text, a.Owner)
		}
	}
	if what == "" || what == "questions" {
		fmt.Printf("Questions (%d):\n", len(agg.Questions))
		for i, q := range agg.Questions {
			fmt.Printf("  %d. (%d) %s\n", i+1, q.Votes, q.Text)
		}
	}
}

func voteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vote N",
		Short: "Upvote question N as numbered by show questions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open()
			if err != nil {
				return err
			}
			defer e.Close()

			agg, err := e.ws.Aggregate(cmd.Context(), session)
			if err != nil {
				return err
			}
			i, err := parseIndex(args[0], len(agg.Questions))
			if err != nil {
				return err
			}
			q := agg.Questions[i]
			if err := e.ws.VoteQuestion(cmd.Context(), q.ID); err != nil {
				return err
			}
			fmt.Printf("Voted: %s (%d)\n", q.Text, q.Votes+1)
			return nil
		},
	}
}

func doneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "done N",
		Short: "Toggle action N as numbered by show actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open()
			if err != nil {
				return err
			}
			defer e.Close()

			agg, err := e.ws.Aggregate(cmd.Context(), session)
			if err != nil {
				return err
			}
			i, err := parseIndex(args[0], len(agg.Actions))
			if err != nil {
				return err
			}
			a := agg.Actions[i]
			if err := e.ws.ToggleAction(cmd.Context(), a.ID); err != nil {
				return err
			}
			state := "done"
			if a.Done {
				state = "open"
			}
			fmt.Printf("Marked %s: %s\n", state, a.Text)
			return nil
		},
	}
}

func parseIndex(arg string, n int) (int, error) {
	i, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", arg)
	}
	if i < 1 || i > n {
		return 0, fmt.Errorf("no item %d, the list has %d", i, n)
	}
	return i - 1, nil
}
