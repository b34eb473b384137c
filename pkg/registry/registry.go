// Package registry is the artifact-registry collaborator.
//
// The control plane needs two operations of the registry pipeline:
// Import (pull an external image into the internal registry) and
// Publish (combine a source image with config values into the
// runnable release image).
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	gcr "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"

	xe "github.com/dockyard-paas/dockyard/pkg/errors"
)

// ErrRegistry : an import or publish operation failed. Blocks release creation.
var ErrRegistry = errors.New("registry operation failed")

type Client interface {
	// Import pulls image into the internal registry under repo,
	// preserving the source tag if the reference carries one.
	Import(ctx context.Context, image string, repo string) error

	// Publish combines sourceImage with env values and pushes the result
	// to targetImage. Blocking and synchronous.
	Publish(ctx context.Context, sourceImage string, env map[string]string, targetImage string) error
}

type client struct {
	// host:port of the internal registry.
	registry string
}

// New returns a Client against the internal registry at host:port.
func New(host string, port int) Client {
	return &client{registry: fmt.Sprintf("%s:%d", host, port)}
}

func (c *client) image(ctx context.Context, ref string) (gcr.Image, error) {
	parsed, err := name.ParseReference(ref, name.Insecure)
	if err != nil {
		return nil, err
	}
	return remote.Image(
		parsed,
		remote.WithContext(ctx),
		remote.WithAuthFromKeychain(authn.DefaultKeychain),
	)
}

func (c *client) push(ctx context.Context, ref string, img gcr.Image) error {
	parsed, err := name.ParseReference(ref, name.Insecure)
	if err != nil {
		return err
	}
	return remote.Write(
		parsed, img,
		remote.WithContext(ctx),
		remote.WithAuthFromKeychain(authn.DefaultKeychain),
	)
}

func (c *client) Import(ctx context.Context, image string, repo string) error {
	src, err := name.ParseReference(image, name.Insecure)
	if err != nil {
		return fmt.Errorf("%w: import %s: %s", ErrRegistry, image, err)
	}

	img, err := c.image(ctx, image)
	if err != nil {
		return fmt.Errorf("%w: import %s: %s", ErrRegistry, image, xe.Wrap(err))
	}

	target := fmt.Sprintf("%s/%s", c.registry, repo)
	if tag, ok := src.(name.Tag); ok {
		target = fmt.Sprintf("%s:%s", target, tag.TagStr())
	}
	if err := c.push(ctx, target, img); err != nil {
		return fmt.Errorf("%w: import %s -> %s: %s", ErrRegistry, image, target, xe.Wrap(err))
	}
	return nil
}

func (c *client) Publish(ctx context.Context, sourceImage string, env map[string]string, targetImage string) error {
	source := fmt.Sprintf("%s/%s", c.registry, sourceImage)

	img, err := c.image(ctx, source)
	if err != nil {
		return fmt.Errorf("%w: publish %s: %s", ErrRegistry, source, xe.Wrap(err))
	}

	cfgFile, err := img.ConfigFile()
	if err != nil {
		return fmt.Errorf("%w: publish %s: %s", ErrRegistry, source, xe.Wrap(err))
	}

	cfg := cfgFile.Config
	// sorted, so that the same config always produces the same image.
	names := make([]string, 0, len(env))
	for n := range env {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		cfg.Env = append(cfg.Env, fmt.Sprintf("%s=%s", n, env[n]))
	}

	published, err := mutate.Config(img, cfg)
	if err != nil {
		return fmt.Errorf("%w: publish %s: %s", ErrRegistry, source, xe.Wrap(err))
	}

	if err := c.push(ctx, targetImage, published); err != nil {
		return fmt.Errorf("%w: publish %s -> %s: %s", ErrRegistry, source, targetImage, xe.Wrap(err))
	}
	return nil
}
