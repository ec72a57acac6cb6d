// Package registry builds container images and pushes them to the
// platform's registry so workers can pull them by reference.
package registry

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	dockerregistry "github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
)

// ErrNoSource is returned when a build request carries neither an inline
// dockerfile nor a repository URL.
var ErrNoSource = errors.New("must provide a dockerfile or a repository")

// BuildSpec describes one image build. Exactly one of Dockerfile and
// RepoURL must be set; a repository must contain a Dockerfile at its root.
type BuildSpec struct {
	// Name is the image name chosen by the owner.
	Name string

	// Login namespaces the image reference under the owner.
	Login string

	// Dockerfile is the inline dockerfile content.
	Dockerfile string

	// RepoURL is a git repository to clone and use as build context.
	RepoURL string

	// NoCache disables the build cache.
	NoCache bool
}

// Builder turns a build spec into a pushed image reference.
type Builder interface {
	Build(ctx context.Context, spec BuildSpec) (ref string, output []string, err error)
	Remove(ctx context.Context, ref string) error
}

// Config holds registry coordinates and optional credentials.
type Config struct {
	// URL is the registry host images are tagged for and pushed to.
	URL string

	Username string
	Password string
}

// DockerBuilder builds through the Docker daemon.
type DockerBuilder struct {
	client *client.Client
	cfg    Config
	log    *slog.Logger
}

// NewDockerBuilder creates a builder using the daemon configured through
// the standard Docker environment variables.
func NewDockerBuilder(cfg Config, log *slog.Logger) (*DockerBuilder, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerBuilder{client: cli, cfg: cfg, log: log}, nil
}

// Ref returns the full reference an image built from spec will carry.
func (b *DockerBuilder) Ref(spec BuildSpec) string {
	return strings.ToLower(fmt.Sprintf("%s/%s/%s", b.cfg.URL, spec.Login, spec.Name))
}

// Build assembles a build context, builds the image, and pushes the result.
// The returned output holds the daemon's build log lines, also on failure.
func (b *DockerBuilder) Build(ctx context.Context, spec BuildSpec) (string, []string, error) {
	buildCtx, cleanup, err := b.buildContext(ctx, spec)
	if err != nil {
		return "", nil, err
	}
	defer cleanup()

	ref := b.Ref(spec)
	resp, err := b.client.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:    []string{ref},
		NoCache: spec.NoCache,
		Remove:  true,
	})
	if err != nil {
		return "", nil, fmt.Errorf("build failed: %w", err)
	}
	defer resp.Body.Close()

	output, err := drainBuildOutput(resp.Body)
	if err != nil {
		return "", output, fmt.Errorf("build failed: %w", err)
	}

	if err := b.push(ctx, ref); err != nil {
		return "", output, err
	}
	return ref, output, nil
}

// Remove deletes the local copy of an image. Missing images are not an
// error: the reference is gone either way.
func (b *DockerBuilder) Remove(ctx context.Context, ref string) error {
	_, err := b.client.ImageRemove(ctx, ref, image.RemoveOptions{Force: true})
	if err != nil && client.IsErrNotFound(err) {
		return nil
	}
	return err
}

func (b *DockerBuilder) push(ctx context.Context, ref string) error {
	auth, err := b.registryAuth()
	if err != nil {
		return err
	}
	rc, err := b.client.ImagePush(ctx, ref, image.PushOptions{RegistryAuth: auth})
	if err != nil {
		return fmt.Errorf("push failed: %w", err)
	}
	defer rc.Close()
	if _, err := drainBuildOutput(rc); err != nil {
		return fmt.Errorf("push failed: %w", err)
	}
	return nil
}

// registryAuth encodes credentials the way the daemon expects them in the
// X-Registry-Auth header. The header must be present even without
// credentials.
func (b *DockerBuilder) registryAuth() (string, error) {
	payload, err := json.Marshal(dockerregistry.AuthConfig{
		Username:      b.cfg.Username,
		Password:      b.cfg.Password,
		ServerAddress: b.cfg.URL,
	})
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(payload), nil
}

// buildContext returns the tar stream the daemon builds from: either a
// single-file context carrying the inline dockerfile, or a shallow clone
// of the given repository.
func (b *DockerBuilder) buildContext(ctx context.Context, spec BuildSpec) (io.Reader, func(), error) {
	none := func() {}
	switch {
	case spec.Dockerfile != "":
		r, err := dockerfileContext(spec.Dockerfile)
		return r, none, err
	case spec.RepoURL != "":
		dir, err := os.MkdirTemp("", "kabuto-build-")
		if err != nil {
			return nil, none, err
		}
		cleanup := func() { os.RemoveAll(dir) }
		if err := cloneRepo(ctx, spec.RepoURL, dir); err != nil {
			cleanup()
			return nil, none, err
		}
		if _, err := os.Stat(dir + "/Dockerfile"); err != nil {
			cleanup()
			return nil, none, errors.New("repository has no file named 'Dockerfile'")
		}
		r, err := dirContext(dir)
		if err != nil {
			cleanup()
			return nil, none, err
		}
		return r, cleanup, nil
	default:
		return nil, none, ErrNoSource
	}
}

func cloneRepo(ctx context.Context, url, dir string) error {
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth=1", url, dir)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("could not clone repository: %s", strings.TrimSpace(string(out)))
	}
	return nil
}

func dockerfileContext(content string) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{Name: "Dockerfile", Mode: 0o644, Size: int64(len(content))}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, err
	}
	if _, err := tw.Write([]byte(content)); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

func dirContext(dir string) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	err := addTree(tw, dir, "")
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

func addTree(tw *tar.Writer, root, prefix string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name() == ".git" {
			continue
		}
		name := prefix + e.Name()
		path := root + "/" + e.Name()
		if e.IsDir() {
			if err := tw.WriteHeader(&tar.Header{
				Name: name + "/", Mode: 0o755, Typeflag: tar.TypeDir,
			}); err != nil {
				return err
			}
			if err := addTree(tw, path, name+"/"); err != nil {
				return err
			}
			continue
		}
		info, err := e.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			continue
		}
		if err := tw.WriteHeader(&tar.Header{
			Name: name, Mode: int64(info.Mode().Perm()), Size: info.Size(),
		}); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		if _, err := io.Copy(tw, f); err != nil {
			f.Close()
			return err
		}
		f.Close()
	}
	return nil
}

// drainBuildOutput reads the daemon's json-line stream, collecting the
// human-readable lines and surfacing any embedded error.
func drainBuildOutput(r io.Reader) ([]string, error) {
	var output []string
	dec := json.NewDecoder(r)
	for {
		var msg struct {
			Stream string `json:"stream"`
			Status string `json:"status"`
			Error  string `json:"error"`
		}
		if err := dec.Decode(&msg); err == io.EOF {
			break
		} else if err != nil {
			return output, err
		}
		if line := strings.TrimSpace(msg.Stream); line != "" {
			output = append(output, line)
		}
		if line := strings.TrimSpace(msg.Status); line != "" {
			output = append(output, line)
		}
		if msg.Error != "" {
			return output, errors.New(msg.Error)
		}
	}
	return output, nil
}
