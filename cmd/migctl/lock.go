package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// unlockCmd は異常終了などで残ったロックを強制解除する。
func unlockCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock",
		Short: "Force release a stale migration lock",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context) error {
				out := cmd.OutOrStdout()

				holder, err := a.locks.Holder(ctx)
				if err != nil {
					return fmt.Errorf("failed to read lock: %w", err)
				}
				if holder == nil {
					fmt.Fprintln(out, "No lock is held.")
					return nil
				}

				released, err := a.locks.ForceRelease(ctx)
				if err != nil {
					return fmt.Errorf("failed to release lock: %w", err)
				}
				if released {
					fmt.Fprintf(out, "Released lock held by %s since %s\n", holder.Owner, holder.AcquiredAt.Format(timeLayout))
				} else {
					fmt.Fprintln(out, "No lock is held.")
				}
				return nil
			})
		},
	}
}
