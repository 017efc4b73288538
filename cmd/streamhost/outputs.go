package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/breeze-rmm/streamhost/internal/capture"
)

var outputsFormat string

var outputsCmd = &cobra.Command{
	Use:   "outputs",
	Short: "List connected display outputs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closer, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer closer.Close()

		outputs, err := capture.ListOutputs(dialer(cfg))
		if err != nil {
			return err
		}
		return writeOutputs(os.Stdout, outputs, outputsFormat)
	},
}

func init() {
	outputsCmd.Flags().StringVarP(&outputsFormat, "format", "o", "text", "output format: text, json or yaml")
}

func writeOutputs(w io.Writer, outputs []capture.Output, format string) error {
	if outputs == nil {
		outputs = []capture.Output{}
	}
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(outputs)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(outputs); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "INDEX\tNAME\tGEOMETRY\tPRIMARY\tACTIVE")
		for _, o := range outputs {
			fmt.Fprintf(tw, "%d\t%s\t%dx%d+%d+%d\t%t\t%t\n", o.Index, o.Name, o.Width, o.Height, o.X, o.Y, o.Primary, o.Active)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}
