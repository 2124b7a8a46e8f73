package buildplan

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"

	"caliban/internal/calerr"
	"caliban/internal/registry"
)

// Default base images per mode. The TPU host image is CPU-only; the
// accelerator lives behind the TPU service, not in the container.
var defaultBaseImages = map[registry.Mode]string{
	registry.ModeCPU: "gcr.io/blueshift-playground/blueshift:cpu",
	registry.ModeGPU: "gcr.io/blueshift-playground/blueshift:gpu",
	registry.ModeTPU: "gcr.io/blueshift-playground/blueshift:cpu",
}

// dlvmRegistry is the registry the dlvm: short-form expands into.
const dlvmRegistry = "gcr.io/deeplearning-platform-release"

// dlvmVersion rewrites the short-form's trailing framework version into the
// registry's naming scheme: dlvm:tf2-gpu-2.2 -> tf2-gpu.2-2.
var dlvmVersion = regexp.MustCompile(`-(\d+)\.(\d+)$`)

// ModeTag is the lowercase tag substituted for {} placeholders in base-image
// overrides.
func ModeTag(mode registry.Mode) string {
	if mode == registry.ModeGPU {
		return "gpu"
	}
	return "cpu"
}

// ResolveBaseImage picks the base image for a build: an explicit override
// from configuration wins, else the per-mode default. The dlvm: short-form
// expands to its canonical registry reference and single-brace placeholders
// are substituted with the mode tag. The result is validated as a parseable
// image reference.
func ResolveBaseImage(cfg *ProjectConfig, mode registry.Mode) (string, error) {
	ref := ""
	if cfg != nil {
		ref = cfg.BaseImage.ForMode(mode)
	}
	if ref == "" {
		ref = defaultBaseImages[mode]
	}

	ref = strings.ReplaceAll(ref, "{}", ModeTag(mode))
	if rest, ok := strings.CutPrefix(ref, "dlvm:"); ok {
		ref = fmt.Sprintf("%s/%s", dlvmRegistry, dlvmVersion.ReplaceAllString(rest, ".$1-$2"))
	}

	if _, err := name.ParseReference(ref); err != nil {
		return "", &calerr.RecipeInvalidError{Reason: fmt.Sprintf("base image %q is not a valid reference: %v", ref, err)}
	}
	return ref, nil
}
