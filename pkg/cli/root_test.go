package cli

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	meta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/PhantomInTheWire/tilesplit/pkg/storage"
)

type memS3 struct {
	keys []string
}

func (m *memS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func (m *memS3) CreateBucket(context.Context, *s3.CreateBucketInput, ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	return &s3.CreateBucketOutput{}, nil
}

func (m *memS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if _, err := io.Copy(io.Discard, in.Body); err != nil {
		return nil, err
	}
	m.keys = append(m.keys, aws.ToString(in.Key))
	return &s3.PutObjectOutput{}, nil
}

type harness struct {
	s3     *memS3
	kube   *fake.Clientset
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func newHarness() *harness {
	return &harness{s3: &memS3{}, kube: fake.NewSimpleClientset()}
}

func (h *harness) run(args ...string) int {
	cmd := newRootCommand(deps{
		newS3: func(context.Context, storage.Config) (storage.API, error) {
			return h.s3, nil
		},
		newKube: func(string) (kubernetes.Interface, error) {
			return h.kube, nil
		},
	})
	cmd.SetOut(&h.stdout)
	cmd.SetErr(&h.stderr)
	return execute(context.Background(), cmd, args, &h.stderr)
}

func writeImage(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 99, A: 255})
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestRun_SplitsWideImage(t *testing.T) {
	dir := t.TempDir()
	src := writeImage(t, dir, "wide.png", 100, 50)
	out := filepath.Join(dir, "output")

	h := newHarness()
	code := h.run("--output-dir", out, src, "1", "0")
	require.Equal(t, ExitOK, code, h.stderr.String())

	assert.Equal(t, []string{"splitted_wide_0_0.png", "splitted_wide_0_1.png"}, listDir(t, out))
	for _, name := range listDir(t, out) {
		tile, err := imaging.Open(filepath.Join(out, name))
		require.NoError(t, err)
		assert.Equal(t, image.Pt(50, 50), tile.Bounds().Size())
	}

	logs := h.stdout.String()
	assert.Contains(t, logs, "split_image")
	assert.Contains(t, logs, "arguments")
	assert.Contains(t, logs, "result")
}

func TestRun_GridOfSix(t *testing.T) {
	dir := t.TempDir()
	src := writeImage(t, dir, "grid.png", 31, 20)
	out := filepath.Join(dir, "tiles")

	h := newHarness()
	require.Equal(t, ExitOK, h.run("--output-dir", out, "--progress", src, "2", "1"), h.stderr.String())

	assert.Len(t, listDir(t, out), 6)
	tile, err := imaging.Open(filepath.Join(out, "splitted_grid_1_2.png"))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(10, 10), tile.Bounds().Size())
}

func TestRun_NegativeCountsCreateNothing(t *testing.T) {
	dir := t.TempDir()
	src := writeImage(t, dir, "img.png", 10, 10)
	out := filepath.Join(dir, "output")

	for _, args := range [][]string{{src, "-1", "0"}, {src, "0", "-2"}} {
		h := newHarness()
		code := h.run(append([]string{"--output-dir", out}, args...)...)
		assert.Equal(t, ExitUsage, code)
		assert.Contains(t, h.stderr.String(), "VALIDATION_FAILED")
		assert.NoDirExists(t, out)
	}
}

func TestRun_WrongArgumentCount(t *testing.T) {
	dir := t.TempDir()
	src := writeImage(t, dir, "img.png", 10, 10)
	out := filepath.Join(dir, "output")

	for _, args := range [][]string{{src, "1"}, {src, "1", "1", "1"}, {}} {
		h := newHarness()
		code := h.run(append([]string{"--output-dir", out}, args...)...)
		assert.Equal(t, ExitUsage, code, "args %v", args)
		assert.Contains(t, h.stderr.String(), "invalid command line arguments")
		assert.NoDirExists(t, out)
	}
}

func TestRun_MissingSource(t *testing.T) {
	dir := t.TempDir()
	h := newHarness()

	code := h.run("--output-dir", filepath.Join(dir, "output"), filepath.Join(dir, "missing.png"), "x", "1")
	assert.Equal(t, ExitUsage, code)
	assert.Contains(t, h.stderr.String(), "FILE_NOT_FOUND")
}

func TestRun_CorruptSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "broken.png")
	require.NoError(t, os.WriteFile(src, []byte("garbage"), 0o644))
	out := filepath.Join(dir, "output")

	h := newHarness()
	code := h.run("--output-dir", out, src, "1", "1")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, h.stderr.String(), "DECODE_FAILED")
	assert.NoDirExists(t, out)
}

func TestRun_UnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	src := writeImage(t, dir, "img.png", 10, 10)

	h := newHarness()
	code := h.run("--output-dir", filepath.Join(dir, "output"), "--ext", "webp", src, "0", "0")
	assert.Equal(t, ExitUsage, code)
}

func TestRun_UnknownFlag(t *testing.T) {
	h := newHarness()
	assert.Equal(t, ExitUsage, h.run("--no-such-flag", "a", "1", "1"))
}

func TestRun_EnvironmentOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	src := writeImage(t, dir, "img.png", 8, 8)
	out := filepath.Join(dir, "env-out")
	t.Setenv("TILESPLIT_OUTPUT_DIR", out)
	t.Setenv("TILESPLIT_PREFIX", "part")
	t.Setenv("TILESPLIT_EXT", "jpg")

	h := newHarness()
	require.Equal(t, ExitOK, h.run(src, "0", "1"), h.stderr.String())
	assert.Equal(t, []string{"part_img_0_0.jpg", "part_img_1_0.jpg"}, listDir(t, out))
}

func TestRun_FlagBeatsEnvironment(t *testing.T) {
	dir := t.TempDir()
	src := writeImage(t, dir, "img.png", 8, 8)
	out := filepath.Join(dir, "flag-out")
	t.Setenv("TILESPLIT_OUTPUT_DIR", filepath.Join(dir, "env-out"))

	h := newHarness()
	require.Equal(t, ExitOK, h.run("--output-dir", out, src, "0", "0"), h.stderr.String())
	assert.Equal(t, []string{"splitted_img_0_0.png"}, listDir(t, out))
	assert.NoDirExists(t, filepath.Join(dir, "env-out"))
}

func TestHelp_DocumentsEnvironment(t *testing.T) {
	h := newHarness()
	require.Equal(t, ExitOK, h.run("--help"))
	assert.Contains(t, h.stdout.String(), "TILESPLIT_OUTPUT_DIR")
	assert.Contains(t, h.stdout.String(), "always read")
}

func TestRun_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	src := writeImage(t, dir, "img.png", 8, 8)
	out := filepath.Join(dir, "cfg-out")
	cfg := filepath.Join(dir, "tilesplit.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(fmt.Sprintf("output-dir: %s\nprefix: piece\n", out)), 0o644))

	h := newHarness()
	require.Equal(t, ExitOK, h.run("--config", cfg, src, "1", "0"), h.stderr.String())
	assert.Equal(t, []string{"piece_img_0_0.png", "piece_img_0_1.png"}, listDir(t, out))
}

func TestRun_UploadAndDispatch(t *testing.T) {
	dir := t.TempDir()
	src := writeImage(t, dir, "photo.png", 20, 20)

	h := newHarness()
	code := h.run(
		"--output-dir", filepath.Join(dir, "output"),
		"--upload", "--s3-bucket", "tiles-bucket", "--s3-prefix", "job1",
		"--dispatch", "--namespace", "tiles", "--bucket-url", "http://minio:9000/tiles-bucket",
		src, "1", "0",
	)
	require.Equal(t, ExitOK, code, h.stderr.String())

	assert.Equal(t, []string{"job1/splitted_photo_0_0.png", "job1/splitted_photo_0_1.png"}, h.s3.keys)

	jobs, err := h.kube.BatchV1().Jobs("tiles").List(context.Background(), meta.ListOptions{})
	require.NoError(t, err)
	require.Len(t, jobs.Items, 2)
	cols := map[string]bool{}
	for _, j := range jobs.Items {
		cols[j.Annotations["tilesplit/col"]] = true
		assert.Equal(t, "0", j.Annotations["tilesplit/row"])
	}
	assert.Equal(t, map[string]bool{"0": true, "1": true}, cols)
}

func TestRun_DispatchDryRunPrintsManifests(t *testing.T) {
	dir := t.TempDir()
	src := writeImage(t, dir, "photo.png", 20, 20)

	h := newHarness()
	code := h.run(
		"--output-dir", filepath.Join(dir, "output"),
		"--dispatch", "--dry-run", "--bucket-url", "http://minio:9000/tiles-bucket",
		src, "0", "1",
	)
	require.Equal(t, ExitOK, code, h.stderr.String())

	manifests := h.stdout.String()
	assert.Equal(t, 2, strings.Count(manifests, "kind: Job"))
	assert.Contains(t, manifests, "photo/splitted_photo_1_0.png")
	assert.NotContains(t, manifests, "split_image")
	assert.Empty(t, h.s3.keys)

	jobs, err := h.kube.BatchV1().Jobs("default").List(context.Background(), meta.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, jobs.Items)
}

func TestRun_DispatchRequiresUploadOrDryRun(t *testing.T) {
	dir := t.TempDir()
	src := writeImage(t, dir, "photo.png", 20, 20)
	out := filepath.Join(dir, "output")

	h := newHarness()
	code := h.run("--output-dir", out, "--dispatch", "--bucket-url", "http://x", src, "1", "1")
	assert.Equal(t, ExitUsage, code)
	assert.NoDirExists(t, out)
}
