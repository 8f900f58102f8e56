package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"escrowhub/internal/bootstrap"
	"escrowhub/pkg/mq"
	"escrowhub/pkg/outbox"
	"escrowhub/pkg/rbac"
	"escrowhub/pkg/util"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create store indexes (mongo) or tables (postgres)",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.backend.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Store %q is up to date\n", e.cfg.Store.Driver)
			return nil
		},
	}
}

func reconcileCmd() *cobra.Command {
	var staleAfter time.Duration
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass over stale pending payments",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			if staleAfter > 0 {
				e.cfg.Reconciler.StaleAfter = staleAfter
			}
			summary, err := bootstrap.NewReconciler(e.svc, e.rdb, e.cfg, e.log).RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(summary)
			}
			fmt.Printf("scanned=%d escrowed=%d failed=%d still_pending=%d skipped=%d held=%d errors=%d\n",
				summary.Scanned, summary.Escrowed, summary.Failed, summary.StillPending, summary.Skipped, summary.Held, summary.Errors)
			return nil
		},
	}
	cmd.Flags().DurationVar(&staleAfter, "stale-after", 0, "override reconciler.stale_after")
	return cmd
}

func replayCmd() *cobra.Command {
	var (
		failed bool
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "replay [event-id]",
		Short: "Re-publish outbox events",
		Long: `Re-publish one outbox event by id, or every failed event with --failed.

Examples:
  escrowctl replay 6f1c0e9a-...
  escrowctl replay --failed --limit 50`,
		Args: func(cmd *cobra.Command, args []string) error {
			if failed && len(args) == 0 || !failed && len(args) == 1 {
				return nil
			}
			return errors.New("pass exactly one event id, or --failed")
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			publisher, err := mq.NewPublisher(e.cfg.MQ.URL)
			if err != nil {
				return fmt.Errorf("failed to connect to broker: %w", err)
			}
			defer publisher.Close()
			replay := outbox.NewReplayService(e.backend.Outbox, publisher, e.log)

			if failed {
				n, err := replay.ReplayFailedEvents(cmd.Context(), limit)
				if err != nil {
					return err
				}
				fmt.Printf("Replayed %d failed events\n", n)
				return nil
			}
			if err := replay.ReplayEvent(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Replayed event %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&failed, "failed", false, "replay every failed event")
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "maximum events with --failed")
	return cmd
}

func anomaliesCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "anomalies",
		Short: "List provider callbacks that need manual reconciliation",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			list, err := e.svc.ListAnomalies(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(list)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CREATED\tPAYMENT\tKIND\tSTATUS\tREPORTED\tDETAIL")
			for _, a := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					a.CreatedAt.Format(time.RFC3339), a.PaymentID, a.Kind, a.PaymentStatus, a.ReportedStatus, a.Detail)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum anomalies")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token [user-id]",
		Short: "Issue a signed JWT for local testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch role {
			case rbac.RoleClient, rbac.RoleFreelancer, rbac.RoleAdmin:
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			token, err := util.GenerateJWT(args[0], role, cfg.JWT.Secret, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&role, "role", "r", rbac.RoleClient, "client, freelancer or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
