package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Inspect managed hosts and their inventory",
}

var hostListCmd = &cobra.Command{
	Use:   "list",
	Short: "List managed hosts",
	RunE: func(cmd *cobra.Command, args []string) error {
		hosts, err := apiClient().Hosts(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tADDRESS\tOS\tREACHABLE")
		for _, h := range hosts {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", h.ID, h.Name, h.Address, h.OS, h.Reachable)
		}
		return w.Flush()
	},
}

var hostCapsCmd = &cobra.Command{
	Use:   "capabilities <host-id>",
	Short: "Show the capabilities active integrations provide on a host",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		caps, err := apiClient().HostCapabilities(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CAPABILITY\tVERBS")
		for _, cap := range caps {
			fmt.Fprintf(w, "%s\t%s\n", cap.Capability, strings.Join(cap.Verbs, ","))
		}
		return w.Flush()
	},
}

var inventoryRefresh bool

var hostInventoryCmd = &cobra.Command{
	Use:   "inventory <host-id>",
	Short: "List the targetable objects on a host",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		items, err := apiClient().HostInventory(cmd.Context(), args[0], inventoryRefresh)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "EXTERNAL ID\tTYPE\tNAME\tSTATE\tREFRESHED")
		for _, item := range items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				item.ExternalID, item.Type, item.Name, item.State, item.RefreshedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var integrationCmd = &cobra.Command{
	Use:   "integration",
	Short: "Inspect the integration catalog and configured instances",
}

var integrationTypesCmd = &cobra.Command{
	Use:   "types",
	Short: "List integration types and their capabilities",
	RunE: func(cmd *cobra.Command, args []string) error {
		types, err := apiClient().IntegrationTypes(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDRIVER\tCAPABILITIES")
		for _, t := range types {
			var caps []string
			for _, cap := range t.Capabilities {
				caps = append(caps, cap.Capability)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", t.Name, t.Driver, strings.Join(caps, ","))
		}
		return w.Flush()
	},
}

var instancesType string

var integrationInstancesCmd = &cobra.Command{
	Use:   "instances",
	Short: "List configured integration instances",
	RunE: func(cmd *cobra.Command, args []string) error {
		instances, err := apiClient().IntegrationInstances(cmd.Context(), instancesType)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tNAME\tHOST\tACTIVE")
		for _, inst := range instances {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", inst.ID, inst.TypeName, inst.Name, inst.HostID, inst.Active)
		}
		return w.Flush()
	},
}

func init() {
	hostInventoryCmd.Flags().BoolVar(&inventoryRefresh, "refresh", false, "poll the host before listing")
	integrationInstancesCmd.Flags().StringVar(&instancesType, "type", "", "filter by integration type name")

	hostCmd.AddCommand(hostListCmd, hostCapsCmd, hostInventoryCmd)
	integrationCmd.AddCommand(integrationTypesCmd, integrationInstancesCmd)
	rootCmd.AddCommand(hostCmd, integrationCmd)
}
