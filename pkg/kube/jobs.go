// Package kube fans uploaded tiles out to Kubernetes batch Jobs, one per tile.
package kube

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	meta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/retry"
	"sigs.k8s.io/yaml"

	apperrors "github.com/PhantomInTheWire/tilesplit/pkg/errors"
)

const (
	domain = "kube"

	// AppLabel marks every Job created for a tile.
	AppLabel = "tilesplit-tile-processor"

	DefaultImage     = "ghcr.io/phantominthewire/image-pipeline:latest"
	DefaultNamespace = "default"

	maxNameLength = 63
	namePrefix    = "tile-"
)

var invalidNameChars = regexp.MustCompile(`[^a-z0-9-]`)

func int32Ptr(i int32) *int32 { return &i }

// RunSuffix returns the job name suffix for a dispatch started at t. It has
// nanosecond resolution so back-to-back runs get distinct names.
func RunSuffix(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 36)
}

// JobName derives a DNS-1123 label from an object key. The suffix keeps names
// unique across runs and is never truncated away.
func JobName(key, suffix string) string {
	base := strings.TrimSuffix(path.Base(key), path.Ext(key))
	base = invalidNameChars.ReplaceAllString(strings.ToLower(base), "-")
	base = strings.Trim(base, "-")

	suffix = strings.Trim(invalidNameChars.ReplaceAllString(strings.ToLower(suffix), "-"), "-")
	room := maxNameLength - len(namePrefix)
	if suffix != "" {
		room -= len(suffix) + 1
	}
	if len(base) > room {
		base = strings.TrimRight(base[:room], "-")
	}

	parts := []string{}
	for _, p := range []string{base, suffix} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return namePrefix + strings.Join(parts, "-")
}

// TileJob describes the Job for one uploaded tile.
type TileJob struct {
	Name      string
	Namespace string
	Image     string
	BucketURL string
	Key       string
	Row       int
	Col       int
}

// BuildJob returns a batch/v1 Job whose container receives the tile location
// through INPUT_URL and is expected to write its result to OUTPUT_URL.
func BuildJob(t TileJob) *batchv1.Job {
	bucketURL := strings.TrimRight(t.BucketURL, "/")
	labels := map[string]string{"app": AppLabel}

	return &batchv1.Job{
		TypeMeta: meta.TypeMeta{
			APIVersion: "batch/v1",
			Kind:       "Job",
		},
		ObjectMeta: meta.ObjectMeta{
			Name:      t.Name,
			Namespace: t.Namespace,
			Labels:    labels,
			Annotations: map[string]string{
				"tilesplit/key": t.Key,
				"tilesplit/row": strconv.Itoa(t.Row),
				"tilesplit/col": strconv.Itoa(t.Col),
			},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: int32Ptr(1),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: meta.ObjectMeta{
					Labels: map[string]string{"job-name": t.Name, "app": AppLabel},
				},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyOnFailure,
					Containers: []corev1.Container{{
						Name:  "processor",
						Image: t.Image,
						Env: []corev1.EnvVar{
							{Name: "INPUT_URL", Value: fmt.Sprintf("%s/%s", bucketURL, t.Key)},
							{Name: "OUTPUT_URL", Value: fmt.Sprintf("%s/processed/%s", bucketURL, t.Key)},
							{Name: "TILE_ROW", Value: strconv.Itoa(t.Row)},
							{Name: "TILE_COL", Value: strconv.Itoa(t.Col)},
						},
					}},
				},
			},
		},
	}
}

// RenderYAML writes jobs as a multi-document YAML stream.
func RenderYAML(jobs []*batchv1.Job) ([]byte, error) {
	var out []byte
	for i, job := range jobs {
		doc, err := yaml.Marshal(job)
		if err != nil {
			return nil, apperrors.New(apperrors.CodeDispatchFailed, domain, fmt.Sprintf("render job %s", job.Name), err)
		}
		if i > 0 {
			out = append(out, []byte("---\n")...)
		}
		out = append(out, doc...)
	}
	return out, nil
}

// NewClientset loads kubeconfig (the default home file when empty).
func NewClientset(kubeconfig string) (kubernetes.Interface, error) {
	if kubeconfig == "" {
		kubeconfig = clientcmd.RecommendedHomeFile
	}
	cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeDispatchFailed, domain, "loading kubeconfig", err)
	}
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeDispatchFailed, domain, "building clientset", err)
	}
	return clientset, nil
}

type Dispatcher struct {
	client kubernetes.Interface
	log    zerolog.Logger
}

func NewDispatcher(client kubernetes.Interface, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{client: client, log: log}
}

// Create submits each job, retrying on conflict, and returns the names of
// those created before any failure.
func (d *Dispatcher) Create(ctx context.Context, jobs []*batchv1.Job) ([]string, error) {
	created := make([]string, 0, len(jobs))
	for _, job := range jobs {
		err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
			_, err := d.client.BatchV1().Jobs(job.Namespace).Create(ctx, job, meta.CreateOptions{})
			return err
		})
		if err != nil {
			return created, apperrors.New(apperrors.CodeDispatchFailed, domain, fmt.Sprintf("create job %s", job.Name), err)
		}
		d.log.Info().Str("job", job.Name).Str("namespace", job.Namespace).Msg("job created")
		created = append(created, job.Name)
	}
	return created, nil
}
