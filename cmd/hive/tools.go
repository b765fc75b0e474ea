// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/molbiohive/hive-browser/internal/store"
	"github.com/molbiohive/hive-browser/internal/tools"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Review external tool scripts",
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tool scripts and their approval status",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(settings.Database.URL)
		if err != nil {
			return err
		}
		defer st.Close()
		ctx := context.Background()

		// pick up any scripts dropped in since the last run
		if _, err := tools.SyncQuarantine(ctx, st, settings.ToolsDir(), logger); err != nil {
			return err
		}
		approvals, err := st.ListApprovals(ctx)
		if err != nil {
			return err
		}
		if len(approvals) == 0 {
			fmt.Println("No external tool scripts found in", settings.ToolsDir())
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "FILENAME\tSTATUS\tHASH\tREVIEWED")
		for _, a := range approvals {
			reviewed := "-"
			if a.ReviewedAt != nil {
				reviewed = a.ReviewedAt.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(tw, "%s\t%s\t%.12s\t%s\n", a.Filename, a.Status, a.FileHash, reviewed)
		}
		return tw.Flush()
	},
}

var toolsApproveCmd = &cobra.Command{
	Use:   "approve <filename>",
	Short: "Approve a quarantined tool script at its current hash",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return reviewTool(args[0], store.ApprovalApproved) },
}

var toolsRejectCmd = &cobra.Command{
	Use:   "reject <filename>",
	Short: "Reject a tool script",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return reviewTool(args[0], store.ApprovalRejected) },
}

func reviewTool(filename, status string) error {
	st, err := store.Open(settings.Database.URL)
	if err != nil {
		return err
	}
	defer st.Close()
	ctx := context.Background()

	if _, err := tools.SyncQuarantine(ctx, st, settings.ToolsDir(), logger); err != nil {
		return err
	}
	if err := st.ReviewTool(ctx, filename, status); err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", filename, status)
	if status == store.ApprovalApproved {
		fmt.Println("The tool loads on next server start.")
	}
	return nil
}

func init() {
	toolsCmd.AddCommand(toolsListCmd, toolsApproveCmd, toolsRejectCmd)
}
