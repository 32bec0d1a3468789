package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/subcommands"

	"github.com/finledger/finledger/internal/backup"
	"github.com/finledger/finledger/internal/database"
	"github.com/finledger/finledger/internal/database/repository"
)

// statusCmd prints a summary of the local ledger and sync state.
type statusCmd struct{}

func (*statusCmd) Name() string     { return "status" }
func (*statusCmd) Synopsis() string { return "show accounts, pending changes and sync state" }
func (*statusCmd) Usage() string {
	return `finledger status

  Shows account balances, due recurring rules and the sync checkpoint.
`
}
func (*statusCmd) SetFlags(*flag.FlagSet) {}

func (c *statusCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	a, err := openApp(ctx)
	if err != nil {
		return fail(err)
	}
	defer a.close()

	accounts, err := a.eng.ListAccounts(ctx, a.cfg.Owner.ID)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("Accounts (%d):\n", len(accounts))
	for _, acc := range accounts {
		marker := ""
		if acc.IsArchived {
			marker = " (archived)"
		}
		fmt.Printf("  %-24s %10.2f %s%s\n", acc.Name, float64(acc.Balance)/100, acc.Currency, marker)
	}

	due, err := a.eng.DueRecurring(ctx, a.cfg.Owner.ID, database.Now())
	if err != nil {
		return fail(err)
	}
	fmt.Printf("Recurring rules due: %d\n", len(due))

	syncRepo := repository.NewSyncRepo(a.db)
	pending, err := syncRepo.PendingChanges(ctx)
	if err != nil {
		return fail(err)
	}
	conflicts, err := syncRepo.UnresolvedConflicts(ctx)
	if err != nil {
		return fail(err)
	}
	checkpoint, err := syncRepo.LastSyncTimestamp(ctx)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("Pending changes: %d\n", len(pending))
	fmt.Printf("Unresolved conflicts: %d\n", len(conflicts))
	if checkpoint.IsZero() {
		fmt.Println("Last sync: never")
	} else {
		fmt.Printf("Last sync: %s\n", checkpoint.Format(time.RFC3339))
	}
	return subcommands.ExitSuccess
}

// recurringCmd materializes due recurring transactions.
type recurringCmd struct {
	asOf string
}

func (*recurringCmd) Name() string     { return "recurring" }
func (*recurringCmd) Synopsis() string { return "materialize due recurring transactions" }
func (*recurringCmd) Usage() string {
	return `finledger recurring [-as-of <date>]

  Creates a transaction for every recurring rule whose next occurrence has
  passed, repeating per rule until it is caught up.
`
}

func (c *recurringCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.asOf, "as-of", "", "Process rules due on or before this date (RFC 3339 or YYYY-MM-DD, defaults to now)")
}

func (c *recurringCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	now := database.Now()
	if c.asOf != "" {
		parsed, err := parseDate(c.asOf)
		if err != nil {
			return fail(err)
		}
		now = parsed
	}

	a, err := openApp(ctx)
	if err != nil {
		return fail(err)
	}
	defer a.close()

	created, err := a.eng.CatchUp(ctx, a.cfg.Owner.ID, now)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("Created %d transactions\n", created)
	return subcommands.ExitSuccess
}

// syncCmd runs a sync cycle against the configured server.
type syncCmd struct {
	full     bool
	pushOnly bool
	pullOnly bool
}

func (*syncCmd) Name() string     { return "sync" }
func (*syncCmd) Synopsis() string { return "synchronize with the remote server" }
func (*syncCmd) Usage() string {
	return `finledger sync [-full] [-push] [-pull]

  Pushes pending local changes, then pulls and applies remote changes.
  -full discards the checkpoint and rebuilds from the server's dataset.
`
}

func (c *syncCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.full, "full", false, "full sync from scratch")
	f.BoolVar(&c.pushOnly, "push", false, "push only")
	f.BoolVar(&c.pullOnly, "pull", false, "pull only")
}

func (c *syncCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	a, err := openApp(ctx)
	if err != nil {
		return fail(err)
	}
	defer a.close()

	se, err := a.syncEngine()
	if err != nil {
		return fail(err)
	}

	var res *syncSummary
	switch {
	case c.full:
		r, err := se.FullSync(ctx)
		if err != nil {
			return fail(err)
		}
		res = &syncSummary{Pulled: r.Pulled}
	case c.pushOnly:
		r, err := se.Push(ctx)
		if err != nil {
			return fail(err)
		}
		res = &syncSummary{Pushed: r.Pushed, Conflicts: r.Conflicts}
	case c.pullOnly:
		r, err := se.Pull(ctx)
		if err != nil {
			return fail(err)
		}
		res = &syncSummary{Pulled: r.Pulled}
	default:
		r, err := se.Sync(ctx)
		if err != nil {
			return fail(err)
		}
		res = &syncSummary{Pushed: r.Pushed, Pulled: r.Pulled, Conflicts: r.Conflicts}
	}

	fmt.Printf("Pushed %d, pulled %d, conflicts %d\n", res.Pushed, res.Pulled, res.Conflicts)
	if res.Conflicts > 0 {
		fmt.Println("Run 'finledger conflicts' to review and resolve them.")
	}
	return subcommands.ExitSuccess
}

type syncSummary struct {
	Pushed    int
	Pulled    int
	Conflicts int
}

// conflictsCmd lists unresolved conflicts or resolves one.
type conflictsCmd struct {
	resolve    string
	resolution string
	mergedFile string
}

func (*conflictsCmd) Name() string     { return "conflicts" }
func (*conflictsCmd) Synopsis() string { return "list or resolve sync conflicts" }
func (*conflictsCmd) Usage() string {
	return `finledger conflicts [-resolve <id> -with local|server|merge [-merged <file>]]

  Without flags, lists unresolved conflicts. With -resolve, applies the
  chosen side and marks the conflict resolved. merge reads the merged
  entity payload from -merged (or stdin when the file is "-").
`
}

func (c *conflictsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.resolve, "resolve", "", "conflict id to resolve")
	f.StringVar(&c.resolution, "with", "", "resolution: local, server or merge")
	f.StringVar(&c.mergedFile, "merged", "", "merged payload file for -with merge")
}

func (c *conflictsCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	a, err := openApp(ctx)
	if err != nil {
		return fail(err)
	}
	defer a.close()

	se, err := a.syncEngine()
	if err != nil {
		return fail(err)
	}

	if c.resolve == "" {
		conflicts, err := se.Conflicts(ctx)
		if err != nil {
			return fail(err)
		}
		if len(conflicts) == 0 {
			fmt.Println("No unresolved conflicts.")
			return subcommands.ExitSuccess
		}
		for _, cf := range conflicts {
			fmt.Printf("%s  %s/%s  since %s\n", cf.ID, cf.EntityType, cf.EntityID, cf.CreatedAt.Format(time.RFC3339))
		}
		return subcommands.ExitSuccess
	}

	var merged json.RawMessage
	if c.resolution == "merge" {
		data, err := readPayload(c.mergedFile)
		if err != nil {
			return fail(err)
		}
		merged = data
	}
	if err := se.ResolveConflict(ctx, c.resolve, c.resolution, merged); err != nil {
		return fail(err)
	}
	fmt.Printf("Resolved %s with %s\n", c.resolve, c.resolution)
	return subcommands.ExitSuccess
}

// exportCmd writes a backup document.
type exportCmd struct {
	out string
}

func (*exportCmd) Name() string     { return "export" }
func (*exportCmd) Synopsis() string { return "export the ledger to a backup file" }
func (*exportCmd) Usage() string {
	return `finledger export [-o <file>]

  Writes all ledger data as a JSON backup document to the given file,
  or stdout when omitted.
`
}

func (c *exportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.out, "o", "", "output file (defaults to stdout)")
}

func (c *exportCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	a, err := openApp(ctx)
	if err != nil {
		return fail(err)
	}
	defer a.close()

	w := os.Stdout
	if c.out != "" {
		file, err := os.Create(c.out)
		if err != nil {
			return fail(err)
		}
		defer file.Close()
		w = file
	}
	if err := backup.Export(ctx, a.db, a.cfg.Owner.ID, w); err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}

// importCmd restores a backup document.
type importCmd struct {
	in string
}

func (*importCmd) Name() string     { return "import" }
func (*importCmd) Synopsis() string { return "restore the ledger from a backup file" }
func (*importCmd) Usage() string {
	return `finledger import -i <file>

  Reads a JSON backup document and upserts its rows into the ledger.
  Re-importing the same document is a no-op.
`
}

func (c *importCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.in, "i", "", "backup file to import ('-' for stdin)")
}

func (c *importCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if c.in == "" {
		fmt.Fprintln(os.Stderr, "Error: -i is required")
		return subcommands.ExitUsageError
	}

	a, err := openApp(ctx)
	if err != nil {
		return fail(err)
	}
	defer a.close()

	r := os.Stdin
	if c.in != "-" {
		file, err := os.Open(c.in)
		if err != nil {
			return fail(err)
		}
		defer file.Close()
		r = file
	}
	doc, err := backup.Import(ctx, a.db, r)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("Imported backup of %s exported at %s\n", doc.OwnerID, doc.ExportedAt.Format(time.RFC3339))
	return subcommands.ExitSuccess
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want RFC 3339 or YYYY-MM-DD", s)
	}
	return t.UTC(), nil
}

func readPayload(path string) (json.RawMessage, error) {
	if path == "" {
		return nil, fmt.Errorf("-merged is required for merge resolution")
	}
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("merged payload is not valid JSON")
	}
	return json.RawMessage(data), nil
}
