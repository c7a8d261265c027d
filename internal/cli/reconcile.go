package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mrlokans/librarian/internal/audit"
	"github.com/mrlokans/librarian/internal/config"
	auditrepo "github.com/mrlokans/librarian/internal/database/audit"
	"github.com/mrlokans/librarian/internal/entities"
	"github.com/mrlokans/librarian/internal/entrypoint"
	"github.com/mrlokans/librarian/internal/reconcile"
)

// ReconcileCommand runs one reconciliation batch outside the server.
type ReconcileCommand struct {
	DatabasePath string
	Verbose      bool
	DryRun       bool

	Config *config.Config
	Out    io.Writer
}

func NewReconcileCommand() *ReconcileCommand {
	return &ReconcileCommand{Out: os.Stdout}
}

func (cmd *ReconcileCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)

	fs.StringVar(&cmd.DatabasePath, "db", "", "Path to the SQLite database (defaults to DATABASE_PATH)")
	fs.BoolVar(&cmd.Verbose, "verbose", false, "Print every processed loan")
	fs.BoolVar(&cmd.DryRun, "dry-run", false, "Show what would be sent and charged without making changes")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s reconcile [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Send due-soon reminders and issue late penalties for overdue loans.\n")
		fmt.Fprintf(os.Stderr, "Running it more than once never charges a loan twice.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Preview the next batch:\n")
		fmt.Fprintf(os.Stderr, "  %s reconcile -dry-run -verbose\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  # Run against a specific database:\n")
		fmt.Fprintf(os.Stderr, "  %s reconcile -db ./librarian.db\n", os.Args[0])
	}

	return fs.Parse(args)
}

// Run exits non-zero when any record failed, so cron wrappers notice.
func (cmd *ReconcileCommand) Run() error {
	cfg := cmd.Config
	if cfg == nil {
		cfg = config.NewConfig()
	}

	fmt.Fprintln(cmd.Out, "Reconciliation")
	fmt.Fprintln(cmd.Out, "==============")
	if cmd.DryRun {
		fmt.Fprintln(cmd.Out, "DRY RUN MODE - No changes will be made")
	}
	fmt.Fprintln(cmd.Out)

	db, err := openDatabase(cfg, cmd.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	auditor := audit.NewService(auditrepo.NewRepository(db.DB))
	defer auditor.Flush()
	engine := entrypoint.NewReconcileEngine(cfg, db.DB, auditor)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var report *reconcile.Report
	if cmd.DryRun {
		report, err = engine.Preview(ctx)
	} else {
		report, err = engine.Run(ctx, entities.RunTriggerCLI)
	}
	if err != nil {
		return fmt.Errorf("reconciliation aborted: %w", err)
	}

	cmd.printReport(report)
	return report.Err()
}

func (cmd *ReconcileCommand) printReport(r *reconcile.Report) {
	fmt.Fprintf(cmd.Out, "Run:      %s\n", r.RunID)
	fmt.Fprintf(cmd.Out, "Status:   %s\n\n", r.Status())

	for _, pass := range []reconcile.PassReport{r.DueSoon, r.Overdue} {
		fmt.Fprintf(cmd.Out, "%s: scanned=%d succeeded=%d skipped=%d deferred=%d failed=%d\n",
			pass.Name, pass.Scanned, pass.Succeeded, pass.Skipped, pass.Deferred, pass.Failed)
		if pass.Err != "" {
			fmt.Fprintf(cmd.Out, "  pass error: %s\n", pass.Err)
		}
		if pass.DeliveryFailures > 0 {
			fmt.Fprintf(cmd.Out, "  mail delivery failures: %d\n", pass.DeliveryFailures)
		}
		if cmd.Verbose {
			for _, item := range pass.Items {
				cmd.printItem(item)
			}
		}
	}

	if cmd.Verbose {
		return
	}
	if failures := r.Failures(); len(failures) > 0 {
		fmt.Fprintf(cmd.Out, "\nFailed items (%d):\n", len(failures))
		for _, item := range failures {
			cmd.printItem(item)
		}
	}
}

func (cmd *ReconcileCommand) printItem(item reconcile.ItemResult) {
	fmt.Fprintf(cmd.Out, "  loan=%d user=%d book=%d %s", item.LoanID, item.UserID, item.BookID, item.Outcome)
	if item.Amount > 0 {
		fmt.Fprintf(cmd.Out, " days=%d amount=%d", item.DaysOverdue, item.Amount)
	}
	if item.Error != "" {
		fmt.Fprintf(cmd.Out, " error=%q", item.Error)
	}
	fmt.Fprintln(cmd.Out)
}
