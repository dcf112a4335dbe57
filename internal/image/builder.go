package image

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"deployhook/internal/container"
	"deployhook/internal/deployment"
	"deployhook/internal/docker"
	"deployhook/internal/security"
	"deployhook/pkg/fileutil"
	"deployhook/pkg/templates"
)

// ContextDir holds generated files inside the workspace so they never
// collide with a Dockerfile committed to the repository.
const ContextDir = ".deployhook"

// Runtime builds images from a context directory.
type Runtime interface {
	BuildImage(ctx context.Context, spec docker.BuildSpec, onOutput docker.BuildOutputCallback) error
}

// Builder packages build output into a tagged image.
type Builder struct {
	runtime  Runtime
	registry string
	logger   *slog.Logger
}

func NewBuilder(runtime Runtime, registry string, logger *slog.Logger) *Builder {
	return &Builder{runtime: runtime, registry: registry, logger: logger}
}

// Prepare writes the Dockerfile (and nginx config for static output) into
// the workspace and returns the build spec without building.
func (b *Builder) Prepare(info *deployment.Info, outputDir string) (docker.BuildSpec, error) {
	genDir := filepath.Join(info.WorkDir, ContextDir)
	if err := os.MkdirAll(genDir, security.PermWorkspace); err != nil {
		return docker.BuildSpec{}, fmt.Errorf("create build context dir: %w", err)
	}

	var recipe Recipe
	switch deployment.KindOf(outputDir) {
	case deployment.KindStandalone:
		recipe = StandaloneRecipe(outputDir, func(rel string) bool {
			return fileutil.PathExists(filepath.Join(info.WorkDir, rel))
		})
	default:
		nginxConf := filepath.ToSlash(filepath.Join(ContextDir, "nginx.conf"))
		conf, err := templates.Render(templates.NginxSPA, templates.TemplateData{
			"PORT": "80",
			"ROOT": nginxRoot,
		})
		if err != nil {
			return docker.BuildSpec{}, fmt.Errorf("render nginx config: %w", err)
		}
		if err := writeFile(filepath.Join(info.WorkDir, nginxConf), conf); err != nil {
			return docker.BuildSpec{}, err
		}
		recipe = StaticRecipe(outputDir, nginxConf)
	}

	dockerfile, err := recipe.Render()
	if err != nil {
		return docker.BuildSpec{}, fmt.Errorf("render Dockerfile: %w", err)
	}
	dockerfilePath := filepath.ToSlash(filepath.Join(ContextDir, "Dockerfile"))
	if err := writeFile(filepath.Join(info.WorkDir, dockerfilePath), dockerfile); err != nil {
		return docker.BuildSpec{}, err
	}

	include := append([]string{ContextDir}, recipe.Paths()...)
	return docker.BuildSpec{
		ContextDir: info.WorkDir,
		Include:    dedupe(include),
		Dockerfile: dockerfilePath,
		Tag:        info.ImageTag(b.registry),
		Labels: map[string]string{
			container.LabelManaged: "true",
			container.LabelBranch:  info.Branch,
			container.LabelSHA:     info.SHA,
		},
	}, nil
}

// BuildImage builds info's image from outputDir and returns its tag.
func (b *Builder) BuildImage(ctx context.Context, info *deployment.Info, outputDir string) (string, error) {
	spec, err := b.Prepare(info, outputDir)
	if err != nil {
		return "", err
	}

	logger := b.logger.With("container", info.ContainerName, "image", spec.Tag)
	logger.Info("Building Docker image", "kind", deployment.KindOf(outputDir))

	err = b.runtime.BuildImage(ctx, spec, func(line string) {
		logger.Debug("docker build", "output", line)
	})
	if err != nil {
		return "", fmt.Errorf("build image %s: %w", spec.Tag, err)
	}

	logger.Info("Docker image built")
	return spec.Tag, nil
}

func writeFile(path, content string) error {
	if err := os.WriteFile(path, []byte(content), security.PermPublicFile); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := paths[:0]
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
