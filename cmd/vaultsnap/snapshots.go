// VaultSnap - Consistent Backup and Restore for SQLite-Backed Secret Stores
// Copyright 2026 VaultSnap Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultsnap/vaultsnap

package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newSnapshotsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshots",
		Short: "List snapshots in the repository, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}

			snaps, err := a.repo.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(snaps) == 0 {
				confirm("repository holds no snapshots")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTIME\tHOST\tPATHS")
			for _, s := range snaps {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					s.ShortID, s.Time.Format("2006-01-02 15:04:05"), s.Hostname, strings.Join(s.Paths, ","))
			}
			return w.Flush()
		},
	}
}
