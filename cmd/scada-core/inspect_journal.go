package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/linkcore/pkg/audit"
	"github.com/cuemby/linkcore/pkg/journal"
	"github.com/cuemby/linkcore/pkg/types"
)

var inspectJournalCmd = &cobra.Command{
	Use:   "inspect-journal",
	Short: "Open a journal.db file directly and print unacked events and the audit trail",
	Long: `inspect-journal opens the journal database directly and reports its
contents for offline postmortems. It opens the file read-write,
creating the events and audit buckets if they are absent, and does not
connect to a running process; the process owning the file must be
stopped first, since Bolt takes an exclusive file lock.`,
	RunE: runInspectJournal,
}

func init() {
	inspectJournalCmd.Flags().String("dir", "", "journal_dir containing journal.db (required)")
	_ = inspectJournalCmd.MarkFlagRequired("dir")
	inspectJournalCmd.Flags().Bool("audit", false, "print the command audit trail instead of unacked events")
}

func runInspectJournal(cmd *cobra.Command, args []string) error {
	dir, _ := cmd.Flags().GetString("dir")
	showAudit, _ := cmd.Flags().GetBool("audit")

	j, err := journal.Open(dir)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close()

	if showAudit {
		return printAuditTrail(j.DB())
	}
	return printUnackedEvents(j)
}

func printUnackedEvents(j *journal.BoltJournal) error {
	n := 0
	err := j.IterUnacked(func(ev types.Event) error {
		n++
		fmt.Printf("%d\t%s\t%s\t%d bytes\n", ev.ID, ev.TargetLink, ev.CreatedAt.Format(time.RFC3339), len(ev.Payload))
		return nil
	})
	if err != nil {
		return fmt.Errorf("iterate journal: %w", err)
	}
	fmt.Printf("%d unacked event(s)\n", n)
	return nil
}

func printAuditTrail(db *bolt.DB) error {
	trail, err := audit.Open(db)
	if err != nil {
		return fmt.Errorf("open audit trail: %w", err)
	}
	n := 0
	err = trail.Iter(func(r audit.Record) error {
		n++
		fmt.Printf("%d\t%s\t%s\t%s\n", r.Seq, r.At.Format(time.RFC3339), r.Kind, string(r.Payload))
		return nil
	})
	if err != nil {
		return fmt.Errorf("iterate audit trail: %w", err)
	}
	fmt.Printf("%d audit record(s)\n", n)
	return nil
}
