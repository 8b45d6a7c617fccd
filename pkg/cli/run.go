package cli

import (
	"context"
	"time"

	pb "github.com/cheggaaa/pb/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	batchv1 "k8s.io/api/batch/v1"

	apperrors "github.com/PhantomInTheWire/tilesplit/pkg/errors"
	"github.com/PhantomInTheWire/tilesplit/pkg/kube"
	"github.com/PhantomInTheWire/tilesplit/pkg/logger"
	"github.com/PhantomInTheWire/tilesplit/pkg/output"
	"github.com/PhantomInTheWire/tilesplit/pkg/storage"
	"github.com/PhantomInTheWire/tilesplit/pkg/validate"
)

// Options is the resolved command configuration.
type Options struct {
	Output   output.Config
	Progress bool
	Verbose  bool

	Upload  bool
	Storage storage.Config

	Dispatch   bool
	DryRun     bool
	Namespace  string
	JobImage   string
	BucketURL  string
	Kubeconfig string
}

func loadOptions(v *viper.Viper) Options {
	return Options{
		Output: output.Config{
			Dir:         v.GetString("output-dir"),
			Prefix:      v.GetString("prefix"),
			Extension:   v.GetString("ext"),
			JPEGQuality: v.GetInt("quality"),
		},
		Progress: v.GetBool("progress"),
		Verbose:  v.GetBool("verbose"),
		Upload:   v.GetBool("upload"),
		Storage: storage.Config{
			Endpoint:  v.GetString("s3-endpoint"),
			Region:    v.GetString("s3-region"),
			AccessKey: v.GetString("s3-access-key"),
			SecretKey: v.GetString("s3-secret-key"),
			Bucket:    v.GetString("s3-bucket"),
			Prefix:    v.GetString("s3-prefix"),
		},
		Dispatch:   v.GetBool("dispatch"),
		DryRun:     v.GetBool("dry-run"),
		Namespace:  v.GetString("namespace"),
		JobImage:   v.GetString("job-image"),
		BucketURL:  v.GetString("bucket-url"),
		Kubeconfig: v.GetString("kubeconfig"),
	}
}

// check validates option combinations before any file is touched.
func (o *Options) check() error {
	if err := o.Output.Validate(); err != nil {
		return err
	}
	if o.Upload {
		if err := o.Storage.Validate(); err != nil {
			return err
		}
	}
	if o.Dispatch {
		if !o.Upload && !o.DryRun {
			return apperrors.Validation("cli", "--dispatch needs --upload (or --dry-run)")
		}
		if o.BucketURL == "" {
			return apperrors.Validation("cli", "--dispatch needs --bucket-url")
		}
	}
	return nil
}

func run(cmd *cobra.Command, args []string, opts Options, d deps) error {
	req, err := validate.Args(args)
	if err != nil {
		return err
	}
	if err := opts.check(); err != nil {
		return err
	}
	if opts.Storage.Prefix == "" {
		opts.Storage.Prefix = output.BaseName(req.SourcePath)
	}

	logOut := cmd.OutOrStdout()
	if opts.Dispatch && opts.DryRun {
		// stdout carries the manifests
		logOut = cmd.ErrOrStderr()
	}
	log := logger.New(logOut, cmd.ErrOrStderr(), opts.Verbose)
	ctx := cmd.Context()

	var tiles []output.OutputFile
	paths, err := logger.Call(log, "split_image", map[string]interface{}{
		"source":     req.SourcePath,
		"cols":       req.Cols,
		"rows":       req.Rows,
		"output_dir": opts.Output.Dir,
	}, func() ([]string, error) {
		var err error
		tiles, err = splitImage(cmd, req, opts, log)
		return output.Written(tiles), err
	})
	if err != nil {
		return err
	}

	if !opts.Upload && !opts.Dispatch {
		return nil
	}

	objects := plannedObjects(paths, opts.Storage.Prefix)
	if opts.Upload {
		objects, err = upload(ctx, paths, opts, d, log)
		if err != nil {
			return err
		}
	}

	if opts.Dispatch {
		return dispatch(ctx, cmd, tiles, objects, opts, d, log)
	}
	return nil
}

func splitImage(cmd *cobra.Command, req validate.SplitRequest, opts Options, log zerolog.Logger) ([]output.OutputFile, error) {
	img, err := output.Load(req.SourcePath)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	log.Debug().Int("width", b.Dx()).Int("height", b.Dy()).Msg("image decoded")

	w := output.NewWriter(opts.Output, log)
	if opts.Progress {
		bar := pb.New(req.Tiles()).SetWriter(cmd.ErrOrStderr()).Start()
		defer bar.Finish()
		w.OnTile = func(output.OutputFile) { bar.Increment() }
	}
	return w.WriteAll(req.SourcePath, img, req.Cols, req.Rows)
}

func plannedObjects(paths []string, prefix string) []storage.Object {
	objects := make([]storage.Object, 0, len(paths))
	for _, p := range paths {
		objects = append(objects, storage.Object{Path: p, Key: storage.Key(prefix, p)})
	}
	return objects
}

func upload(ctx context.Context, paths []string, opts Options, d deps, log zerolog.Logger) ([]storage.Object, error) {
	client, err := d.newS3(ctx, opts.Storage)
	if err != nil {
		return nil, err
	}
	return storage.NewUploader(client, opts.Storage, log).Upload(ctx, paths)
}

func dispatch(ctx context.Context, cmd *cobra.Command, tiles []output.OutputFile, objects []storage.Object, opts Options, d deps, log zerolog.Logger) error {
	byPath := make(map[string]output.OutputFile, len(tiles))
	for _, t := range tiles {
		byPath[t.Path] = t
	}

	suffix := kube.RunSuffix(time.Now())
	jobs := make([]*batchv1.Job, 0, len(objects))
	for _, obj := range objects {
		t := byPath[obj.Path]
		jobs = append(jobs, kube.BuildJob(kube.TileJob{
			Name:      kube.JobName(obj.Key, suffix),
			Namespace: opts.Namespace,
			Image:     opts.JobImage,
			BucketURL: opts.BucketURL,
			Key:       obj.Key,
			Row:       t.Row,
			Col:       t.Col,
		}))
	}

	if opts.DryRun {
		manifests, err := kube.RenderYAML(jobs)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(manifests)
		return err
	}

	client, err := d.newKube(opts.Kubeconfig)
	if err != nil {
		return err
	}
	created, err := kube.NewDispatcher(client, log).Create(ctx, jobs)
	log.Info().Int("jobs", len(created)).Msg("dispatch finished")
	return err
}
