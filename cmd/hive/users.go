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
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage local users",
}

var userCreateCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "Create a user and print their token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(settings.Database.URL)
		if err != nil {
			return err
		}
		defer st.Close()

		user, err := st.CreateUser(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Created user %s (slug %s)\nToken: %s\n", user.Username, user.Slug, user.Token)
		return nil
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(settings.Database.URL)
		if err != nil {
			return err
		}
		defer st.Close()

		users, err := st.ListUsers(context.Background())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tUSERNAME\tSLUG\tCREATED")
		for _, u := range users {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", u.ID, u.Username, u.Slug, u.CreatedAt.Format("2006-01-02"))
		}
		return tw.Flush()
	},
}

func init() {
	userCmd.AddCommand(userCreateCmd, userListCmd)
}
