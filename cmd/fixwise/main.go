package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fixwise/internal/audit"
	"fixwise/internal/config"
	"fixwise/internal/escalation"
	"fixwise/internal/logging"
	"fixwise/internal/retrieval"
	"fixwise/internal/session"
	"fixwise/internal/store"
	"fixwise/internal/types"
)

var (
	// Global flags
	configPath string
	verbose    bool

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "fixwise",
	Short: "fixwise - troubleshooting assistant core",
	Long: `fixwise manages diagnostic conversations end to end: session lifecycle,
knowledge retrieval, human escalation, and the audit trail that must
accompany every interaction.

Run "fixwise chat" to start a troubleshooting conversation.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Verbose = true
		}
		return logging.Initialize(cfg.Verbose)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

// app bundles the wired core for one command invocation.
type app struct {
	cfg        *config.Config
	store      *store.Store
	engine     *retrieval.Engine
	recorder   *audit.Recorder
	classifier *audit.Classifier
	workflow   *escalation.Workflow
	manager    *session.Manager
	purger     *audit.Purger
}

// openApp wires the stores, engine, workflow and sweeps from the loaded
// config, then primes the retrieval snapshot.
func openApp(ctx context.Context) (*app, error) {
	st, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	recorder := audit.NewRecorder(st, cfg.Audit)
	classifier := audit.NewClassifier(cfg.Audit)
	engine := retrieval.NewEngine(cfg.Retrieval)
	if err := engine.Reload(ctx, st); err != nil {
		recorder.Close()
		st.Close()
		return nil, err
	}

	workflow := escalation.NewWorkflow(st, logNotifier{}, recorder, cfg.Escalation, cfg.Retention)
	manager := session.NewManager(st, engine, workflow, recorder, classifier, cfg.Session, cfg.Retention)

	return &app{
		cfg:        cfg,
		store:      st,
		engine:     engine,
		recorder:   recorder,
		classifier: classifier,
		workflow:   workflow,
		manager:    manager,
		purger:     audit.NewPurger(st),
	}, nil
}

func (a *app) Close() {
	a.recorder.Close()
	if err := a.store.Close(); err != nil {
		logging.Get(logging.CategoryBoot).Warnw("store close failed", "err", err)
	}
}

// logNotifier is the default notification port: it records the request in the
// process log. Deployments wire a real mail or paging collaborator here.
type logNotifier struct{}

func (logNotifier) Notify(_ context.Context, ticket types.Ticket, channel string, recipients []string) error {
	logging.Get(logging.CategoryEscalation).Infow("notification request",
		"ticket", ticket.Number, "priority", ticket.Priority,
		"channel", channel, "recipients", len(recipients))
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "fixwise.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(ticketCmd)
	rootCmd.AddCommand(consentCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
