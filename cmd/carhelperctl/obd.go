package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/carhelperai/carhelper/internal/obd"
	"github.com/spf13/cobra"
)

func newOBDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "obd <code>",
		Short: "Look up an OBD-II trouble code in the built-in catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOBD(cmd.OutOrStdout(), args[0])
		},
	}
}

func runOBD(out io.Writer, code string) error {
	catalog, err := obd.Default()
	if err != nil {
		return err
	}
	e, ok := catalog.Lookup(code)
	if !ok {
		return fmt.Errorf("unknown OBD-II code %q", code)
	}

	fmt.Fprintf(out, "%s  %s\n", e.Code, e.Title)
	fmt.Fprintf(out, "System:   %s\n", e.System)
	fmt.Fprintf(out, "Severity: %s\n", e.Severity)
	if e.Urgency != "" {
		fmt.Fprintf(out, "Urgency:  %s\n", e.Urgency)
	}
	if e.Description != "" {
		fmt.Fprintf(out, "\n%s\n", e.Description)
	}
	if len(e.CommonCauses) > 0 {
		fmt.Fprintf(out, "\nCommon causes:\n  - %s\n", strings.Join(e.CommonCauses, "\n  - "))
	}
	if len(e.CommonFixes) > 0 {
		fmt.Fprintf(out, "\nCommon fixes:\n  - %s\n", strings.Join(e.CommonFixes, "\n  - "))
	}
	return nil
}
