package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/spf13/cobra"

	"github.com/activestorage/s3-active-storage/pkg/client"
)

// ReduceOptions holds flags for the reduce command.
type ReduceOptions struct {
	*RootOptions
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
}

// NewReduceCommand creates the reduce command.
func NewReduceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReduceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reduce <reducer> <dtype> <bucket>/<key>",
		Short: "Reduce a whole object through a proxy",
		Long: `Call a path-addressed reducer on a proxy and print the decoded result.
The request is signed for the upstream object, so the upstream's own
credentials are used.

Example:
  s3-active-storage reduce sum int32 sample-data/data.dat --endpoint http://localhost:8000`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			bucket, key, ok := strings.Cut(args[2], "/")
			if !ok || bucket == "" || key == "" {
				return fmt.Errorf("object must be given as <bucket>/<key>, got %q", args[2])
			}

			var creds aws.CredentialsProvider
			if opts.AccessKey != "" {
				creds = credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")
			}
			c, err := client.New(client.Options{
				Endpoint:    opts.Endpoint,
				Region:      opts.Region,
				Credentials: creds,
			})
			if err != nil {
				return err
			}

			res, err := c.Reduce(cmd.Context(), args[0], args[1], bucket, key)
			if err != nil {
				return err
			}
			values, err := res.Values()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.Format == "json" {
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"dtype":  res.DType,
					"shape":  res.Shape,
					"values": values,
				})
			}
			fmt.Fprintf(out, "dtype: %s\nshape: %v\nvalues: %v\n", res.DType, res.Shape, values)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Endpoint, "endpoint", "http://localhost:8000", "proxy base URL")
	cmd.Flags().StringVar(&opts.AccessKey, "access-key", os.Getenv("AWS_ACCESS_KEY_ID"), "upstream access key")
	cmd.Flags().StringVar(&opts.SecretKey, "secret-key", os.Getenv("AWS_SECRET_ACCESS_KEY"), "upstream secret key")
	cmd.Flags().StringVar(&opts.Region, "region", "us-east-1", "signing region")

	return cmd
}
