// Package cli wires the tilesplit command line: flag and config binding,
// logging setup and exit codes.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"k8s.io/client-go/kubernetes"

	apperrors "github.com/PhantomInTheWire/tilesplit/pkg/errors"
	"github.com/PhantomInTheWire/tilesplit/pkg/kube"
	"github.com/PhantomInTheWire/tilesplit/pkg/output"
	"github.com/PhantomInTheWire/tilesplit/pkg/storage"
)

const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// deps builds the network clients; tests replace them with fakes.
type deps struct {
	newS3   func(ctx context.Context, cfg storage.Config) (storage.API, error)
	newKube func(kubeconfig string) (kubernetes.Interface, error)
}

func defaultDeps() deps {
	return deps{
		newS3: func(ctx context.Context, cfg storage.Config) (storage.API, error) {
			return storage.NewClient(ctx, cfg)
		},
		newKube: kube.NewClientset,
	}
}

// NewRootCommand returns the tilesplit command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(defaultDeps())
}

func newRootCommand(d deps) *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "tilesplit [flags] <image_path> <cols> <rows>",
		Short: "Split an image into a (cols+1) x (rows+1) grid of tiles",
		Long: `tilesplit cuts one image into a grid of equally sized tiles and writes each
tile to its own file.

cols and rows are the number of cut lines, so "tilesplit photo.png 1 0" writes two
tiles side by side. Tile sizes use integer division; leftover pixels on the right
and bottom edges are dropped. Tiles are written to an "output" directory next to
the executable as splitted_<name>_<row>_<col>.png.

Flags must come before the positional arguments.

Every flag can also be set from the environment as TILESPLIT_<FLAG>, with dashes
turned into underscores (TILESPLIT_OUTPUT_DIR, TILESPLIT_S3_SECRET_KEY, ...).
These variables are always read: a TILESPLIT_* variable exported in your shell
changes the defaults below even without --config. Flags given on the command
line take precedence.

Examples:
  # Four quadrants
  tilesplit photo.jpg 1 1

  # Three columns as JPEG into ./tiles, then upload to MinIO
  tilesplit --output-dir tiles --ext jpg --upload --s3-endpoint http://localhost:9000 \
    --s3-access-key minioadmin --s3-secret-key minioadmin --s3-bucket tiles-bucket photo.png 2 0

  # Print one Kubernetes Job per tile without submitting
  tilesplit --dispatch --dry-run --bucket-url http://minio.default.svc:9000/tiles-bucket photo.png 1 1`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v, cfgFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, loadOptions(v), d)
		},
	}

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return apperrors.New(apperrors.CodeValidationFailed, "cli", "invalid flags", err)
	})

	flags := cmd.Flags()
	flags.SetInterspersed(false)

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	// Output options
	flags.String("output-dir", output.DefaultDir(), "directory tiles are written to")
	flags.String("prefix", output.DefaultPrefix, "tile file name prefix")
	flags.String("ext", output.DefaultExtension, "tile format extension (png|jpg|gif|tif|bmp)")
	flags.Int("quality", output.DefaultQuality, "JPEG quality (1-100)")
	flags.Bool("progress", false, "show a progress bar while writing tiles")
	flags.BoolP("verbose", "v", false, "verbose logging")

	// Upload options
	flags.Bool("upload", false, "upload written tiles to an S3-compatible bucket")
	flags.String("s3-endpoint", "", "S3 endpoint URL, e.g. http://localhost:9000 for MinIO")
	flags.String("s3-region", "us-east-1", "S3 region")
	flags.String("s3-access-key", "", "S3 access key")
	flags.String("s3-secret-key", "", "S3 secret key")
	flags.String("s3-bucket", "", "S3 bucket")
	flags.String("s3-prefix", "", "object key prefix (default: source image name)")

	// Dispatch options
	flags.Bool("dispatch", false, "create one Kubernetes Job per uploaded tile")
	flags.Bool("dry-run", false, "print Job manifests instead of creating them")
	flags.String("namespace", kube.DefaultNamespace, "Kubernetes namespace for tile jobs")
	flags.String("job-image", kube.DefaultImage, "container image that processes a tile")
	flags.String("bucket-url", "", "base URL jobs use to fetch tiles")
	flags.String("kubeconfig", "", "kubeconfig path (default: $HOME/.kube/config)")

	for _, name := range []string{
		"output-dir", "prefix", "ext", "quality", "progress", "verbose",
		"upload", "s3-endpoint", "s3-region", "s3-access-key", "s3-secret-key", "s3-bucket", "s3-prefix",
		"dispatch", "dry-run", "namespace", "job-image", "bucket-url", "kubeconfig",
	} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}

	return cmd
}

// initConfig reads the config file, if one was given, and TILESPLIT_* environment variables.
func initConfig(v *viper.Viper, cfgFile string) error {
	v.SetEnvPrefix("TILESPLIT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile == "" {
		return nil
	}
	v.SetConfigFile(cfgFile)
	if err := v.ReadInConfig(); err != nil {
		return apperrors.New(apperrors.CodeValidationFailed, "cli", fmt.Sprintf("read config %s", cfgFile), err)
	}
	return nil
}

// Execute runs the root command against os.Args and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return execute(ctx, NewRootCommand(), os.Args[1:], os.Stderr)
}

func execute(ctx context.Context, cmd *cobra.Command, args []string, stderr io.Writer) int {
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}

	fmt.Fprintf(stderr, "Error: %v\n", err)
	if apperrors.IsUsage(err) {
		fmt.Fprintf(stderr, "Usage: %s\n", cmd.UseLine())
		return ExitUsage
	}
	return ExitFailure
}
