package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/srg/blebattery/internal/profile"
)

// describeCmd represents the describe command
var describeCmd = &cobra.Command{
	Use:   "describe",
	Short: "Print the GATT attribute table served by the peripheral",
	Long: `Print the service, characteristic and descriptor the peripheral registers,
in discovery order, with their properties and permissions.`,
	RunE: runDescribe,
}

var describeFormat string

func init() {
	describeCmd.Flags().StringVarP(&describeFormat, "format", "f", "table", "Output format (table, json)")
}

func runDescribe(cmd *cobra.Command, args []string) error {
	switch describeFormat {
	case "table", "json":
	default:
		return fmt.Errorf("invalid format '%s': must be one of [table json]", describeFormat)
	}
	cmd.SilenceUsage = true

	desc := profile.Battery()
	if err := desc.Validate(); err != nil {
		return err
	}

	if describeFormat == "json" {
		return writeAttributesJSON(cmd.OutOrStdout(), desc)
	}
	return writeAttributesTable(cmd.OutOrStdout(), desc)
}

func writeAttributesJSON(w io.Writer, desc *profile.ServiceDescriptor) error {
	data, err := json.MarshalIndent(desc.Attributes(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode attribute table: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func writeAttributesTable(w io.Writer, desc *profile.ServiceDescriptor) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tUUID\tNAME\tPROPERTIES\tPERMISSIONS")
	for pair := desc.Attributes().Oldest(); pair != nil; pair = pair.Next() {
		a := pair.Value
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.Kind, a.UUID, a.Name, dashIfEmpty(a.Properties), dashIfEmpty(a.Permissions))
	}
	return tw.Flush()
}

func dashIfEmpty(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ",")
}
