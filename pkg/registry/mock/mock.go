// Package mock is a recording registry client for tests.
package mock

import (
	"context"
	"sync"

	"github.com/dockyard-paas/dockyard/pkg/registry"
)

type ImportCall struct {
	Image string
	Repo  string
}

type PublishCall struct {
	SourceImage string
	Env         map[string]string
	TargetImage string
}

type Client struct {
	mu sync.Mutex

	Imports   []ImportCall
	Publishes []PublishCall

	// when not nil, Import fails with this error.
	ImportError error

	// when not nil, Publish fails with this error.
	PublishError error
}

var _ registry.Client = &Client{}

func New() *Client {
	return &Client{}
}

func (c *Client) Import(_ context.Context, image string, repo string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ImportError != nil {
		return c.ImportError
	}
	c.Imports = append(c.Imports, ImportCall{Image: image, Repo: repo})
	return nil
}

func (c *Client) Publish(_ context.Context, sourceImage string, env map[string]string, targetImage string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.PublishError != nil {
		return c.PublishError
	}
	copied := map[string]string{}
	for k, v := range env {
		copied[k] = v
	}
	c.Publishes = append(c.Publishes, PublishCall{
		SourceImage: sourceImage, Env: copied, TargetImage: targetImage,
	})
	return nil
}
