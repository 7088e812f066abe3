package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/srg/blebattery/internal/battery"
	"github.com/srg/blebattery/internal/profile"
)

// encodeCmd represents the encode command
var encodeCmd = &cobra.Command{
	Use:   "encode <level|unavailable>",
	Short: "Print the read payload sent for a battery level",
	Long: `Print, as hex bytes, the Battery Level payload a central receives for a
given percentage. Use "unavailable" for the reading reported when the host has
no battery information.

The default "signed" encoding is the minimal big-endian two's-complement form
(100 is one byte, 200 is two). "uint8" is the single unsigned byte the
Battery Level characteristic defines.`,
	Example: `  blebattery encode 100
  blebattery encode 200 --encoding signed
  blebattery encode unavailable`,
	Args: cobra.ExactArgs(1),
	RunE: runEncode,
}

func init() {
	encodeCmd.Flags().String("encoding", "", "Battery level encoding: signed or uint8 (overrides encoding)")
}

func parseLevel(s string) (battery.Level, error) {
	if strings.EqualFold(s, "unavailable") {
		return battery.Unavailable, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid level '%s': must be an integer or \"unavailable\"", s)
	}
	return battery.Level(n), nil
}

func runEncode(cmd *cobra.Command, args []string) error {
	level, err := parseLevel(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	payload, err := profile.EncodeLevel(level, cfg.ServerOptions().Encoding)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "% X\n", payload)
	return err
}
