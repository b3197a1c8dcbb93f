package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/spf13/cobra"

	"github.com/growfile/diffupload/diffupload"
)

func main() {
	var input diffupload.UploadInput

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := log.NewLogger()

	rootCmd := &cobra.Command{
		Use:   "diffupload <source path> <s3://bucket/key>",
		Short: "Incrementally upload a growing file to S3",
		Long: `Uploads a local file to S3 so that bytes uploaded by a previous run are
reused via server-side copy and only new bytes are compressed and transferred.
The uncompressed size is kept in a tag on the object; no local state is kept.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			input.SourcePath = args[0]
			input.DestinationURL = args[1]
			logger.EnableDebugLog(input.Verbose)

			uploader := diffupload.NewUploader(
				env.NewRepository(),
				logger,
				pathutil.NewPathModifier(),
				pathutil.NewPathChecker(),
				nil,
			)
			return uploader.Upload(cmd.Context(), input)
		},
	}

	rootCmd.Flags().BoolVarP(&input.Verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.Flags().StringVar(&input.Region, "region", "", "AWS region (defaults to AWS_REGION)")
	rootCmd.Flags().BoolVar(&input.DisableCompression, "no-compress", false, "Upload raw bytes instead of gzip")
	rootCmd.Flags().IntVar(&input.CompressionLevel, "level", 0, "Gzip compression level (1-9)")
	rootCmd.Flags().BoolVar(&input.StrictRemoteState, "strict-state", false, "Fail instead of re-uploading when the remote size tag is unusable")
	rootCmd.Flags().Int64Var(&input.TailCheckBytes, "tail-check", 0, "Compare this many trailing bytes against the remote object before appending (uncompressed destinations only)")

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// The object is complete when only the tag write failed; report it but
		// don't fail the run.
		if errors.Is(err, diffupload.ErrTagWriteFailed) {
			os.Exit(0)
		}
		logger.Errorf("%s", err)
		os.Exit(1)
	}
}
