package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/searchme/internal/store"
	"github.com/Aman-CERP/searchme/pkg/version"
)

// versionReport is the --json output: build info plus the on-disk index
// format this binary reads and writes.
type versionReport struct {
	version.BuildInfo
	SchemaVersion int `json:"schema_version"`
}

func newVersionCmd() *cobra.Command {
	var asJSON, short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long: `Print the searchme version, commit, build date and Go version, and the
index schema version. An index written with another schema version must be
rebuilt with 'searchme index --force'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			var err error
			switch {
			case short:
				_, err = fmt.Fprintln(out, version.Short())
			case asJSON:
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				err = enc.Encode(versionReport{BuildInfo: version.GetInfo(), SchemaVersion: store.CurrentSchemaVersion})
			default:
				_, err = fmt.Fprintf(out, "%s\nindex schema v%d\n", version.String(), store.CurrentSchemaVersion)
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output version info as JSON")
	cmd.Flags().BoolVar(&short, "short", false, "Output only the version number")
	return cmd
}
