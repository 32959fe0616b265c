package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/MirrorRoom/internal/capture"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture backends and cameras",
	Long: `List every registered capture backend with its availability, followed by
the cameras the available backends can enumerate.`,
	Example: `  # Table output
  mirrorroom devices

  # JSON output
  mirrorroom devices --format json`,
	RunE: runDevices,
}

var devicesFormat string

func init() {
	rootCmd.AddCommand(devicesCmd)

	devicesCmd.Flags().StringVarP(&devicesFormat, "format", "f", "table", "output format (table or json)")
}

type backendInfo struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

func runDevices(cmd *cobra.Command, args []string) error {
	router := capture.DefaultRouter()

	var backends []backendInfo
	for _, name := range router.Names() {
		b, _ := router.Lookup(name)
		backends = append(backends, backendInfo{Name: name, Available: b.IsAvailable()})
	}
	devs := router.Devices()

	out := cmd.OutOrStdout()
	switch devicesFormat {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{"backends": backends, "devices": devs})
	case "table":
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", devicesFormat)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BACKEND\tAVAILABLE")
	for _, b := range backends {
		fmt.Fprintf(w, "%s\t%t\n", b.Name, b.Available)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "DEVICE\tNAME\tBACKEND")
	for _, d := range devs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", d.ID, d.Name, d.Backend)
	}
	if len(devs) == 0 {
		fmt.Fprintln(w, "(none)\t\t")
	}
	return w.Flush()
}
