package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/xtmate/xtmate/internal/rbac"
)

func rolesCmd() *cobra.Command {
	var showPermissions bool
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Print the role registry and each role's effective permissions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printRoles(cmd, showPermissions)
		},
	}
	cmd.Flags().BoolVar(&showPermissions, "permissions", false, "list every effective permission")
	return cmd
}

func printRoles(cmd *cobra.Command, showPermissions bool) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LEVEL\tROLE\tLABEL\tPERMISSIONS")
	for _, role := range rbac.Roles() {
		def, _ := rbac.RoleInfo(role)
		perms := rbac.PermissionsFor(role).Sorted()

		summary := fmt.Sprintf("%d", len(perms))
		if showPermissions {
			names := make([]string, len(perms))
			for i, p := range perms {
				names[i] = p.String()
			}
			summary = strings.Join(names, ",")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", def.Level, role, def.Label, summary)
	}
	return tw.Flush()
}
