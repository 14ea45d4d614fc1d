package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/activestorage/s3-active-storage/pkg/client"
	"github.com/activestorage/s3-active-storage/pkg/proxyauth"
)

// NewDiscoverCommand creates the discover command.
func NewDiscoverCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "discover <url>",
		Short: "Show how a proxy maps onto its upstream store",
		Long: `Fetch the well-known document of an active storage proxy and print the
upstream endpoint, reducers and dtypes it advertises.

Example:
  s3-active-storage discover http://localhost:8000`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.New(client.Options{Endpoint: args[0]})
			if err != nil {
				return err
			}
			doc, err := c.WellKnown(cmd.Context())
			if err != nil {
				return fmt.Errorf("%s is not an active storage proxy: %w", args[0], err)
			}
			info, err := proxyauth.NewProxyInfo(*doc)
			if err != nil {
				return err
			}
			return printDiscovery(cmd.OutOrStdout(), rootOpts.Format, doc, info)
		},
	}
}

func printDiscovery(w io.Writer, format string, doc *proxyauth.WellKnown, info *proxyauth.ProxyInfo) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			*proxyauth.WellKnown
			PathPattern string `json:"path_pattern"`
		}{doc, info.PathPattern.String()})
	}

	fmt.Fprintf(w, "Version:    %s\n", doc.ActiveStorageVersion)
	fmt.Fprintf(w, "Upstream:   %s://%s\n", info.UpstreamScheme, info.UpstreamHost)
	fmt.Fprintf(w, "Reducers:   %v\n", doc.AvailableReducers)
	fmt.Fprintf(w, "Datatypes:  %v\n", doc.SupportedDatatypes)
	fmt.Fprintf(w, "Pattern:    %s\n", info.PathPattern)
	return nil
}
