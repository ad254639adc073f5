/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package docker provisions challenge instances on a local container
// engine. Each instance gets its own bridge network; containers are
// tagged with the instance id label so teardown can find them without
// any local bookkeeping.
package docker

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"

	"github.com/cfrt-dev/kube-ctf/pkg/apperr"
	"github.com/cfrt-dev/kube-ctf/pkg/builder"
	"github.com/cfrt-dev/kube-ctf/pkg/challenge"
	"github.com/cfrt-dev/kube-ctf/pkg/naming"
)

// Provider runs challenge instances against the local Docker daemon.
// Intended for single-machine deployments and local development; the
// generated subdomains are not wired up here, ports are published on
// random host ports instead.
type Provider struct {
	cli *client.Client
}

// New connects to the daemon using the standard environment settings.
func New() (*Provider, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Provider{cli: cli}, nil
}

// CreateInstance pulls images, creates the instance network and starts
// one container per spec entry. Conflicts with already existing
// containers or networks are treated as success so repeated calls for
// the same id converge. Any other failure triggers compensation before
// the original error is returned.
func (p *Provider) CreateInstance(ctx context.Context, spec []challenge.Container, instanceID string) error {
	if err := p.createInstance(ctx, spec, instanceID); err != nil {
		log.Printf("provider: failed to create containers for %s: %v", instanceID, err)
		if cleanupErr := p.DeleteInstance(ctx, instanceID); cleanupErr != nil {
			log.Printf("provider: cleanup after failed create of %s: %v", instanceID, cleanupErr)
		}
		return apperr.Wrap(apperr.KindDeploy, "failed to deploy instance", err)
	}
	return nil
}

func (p *Provider) createInstance(ctx context.Context, spec []challenge.Container, instanceID string) error {
	networkName, err := p.ensureNetwork(ctx, spec, instanceID)
	if err != nil {
		return err
	}

	for i := range spec {
		if err := p.startContainer(ctx, &spec[i], instanceID, networkName); err != nil {
			return err
		}
	}

	return nil
}

// ensureNetwork creates the per-instance network. The network is
// internal unless at least one container asks for external egress.
func (p *Provider) ensureNetwork(ctx context.Context, spec []challenge.Container, instanceID string) (string, error) {
	name := "kube-ctf-" + instanceID

	internal := true
	for i := range spec {
		if spec[i].AllowExternalNetwork {
			internal = false
		}
	}

	_, err := p.cli.NetworkCreate(ctx, name, network.CreateOptions{
		Internal: internal,
		Labels: map[string]string{
			builder.LabelName: instanceID,
		},
	})
	if err != nil && !errdefs.IsConflict(err) {
		return "", fmt.Errorf("create network %s: %w", name, err)
	}

	return name, nil
}

func (p *Provider) startContainer(ctx context.Context, c *challenge.Container, instanceID, networkName string) error {
	instanceName := naming.InstanceName(c.Name, instanceID)

	reader, err := p.cli.ImagePull(ctx, c.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", c.Image, err)
	}
	_, _ = io.Copy(io.Discard, reader)
	reader.Close()

	env := make([]string, 0, len(c.Envs))
	for _, e := range c.Envs {
		env = append(env, e.Name+"="+e.Value)
	}

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, port := range c.Ports {
		natPort := nat.Port(fmt.Sprintf("%d/tcp", port.Number))
		exposed[natPort] = struct{}{}
		bindings[natPort] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: ""}}
	}

	resp, err := p.cli.ContainerCreate(ctx,
		&container.Config{
			Image:        c.Image,
			Env:          env,
			ExposedPorts: exposed,
			Labels: map[string]string{
				builder.LabelName:     instanceID,
				builder.LabelInstance: instanceName,
			},
		},
		&container.HostConfig{
			PortBindings: bindings,
		},
		&network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				networkName: {},
			},
		},
		nil,
		instanceName,
	)
	if err != nil {
		if errdefs.IsConflict(err) {
			return nil
		}
		return fmt.Errorf("create container %s: %w", instanceName, err)
	}

	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %s: %w", instanceName, err)
	}

	log.Printf("provider: started container %s", instanceName)
	return nil
}

// DeleteInstance force-removes every container tagged with the
// instance id and the instance network. Safe to call on an id with no
// resources; partial failures are logged only.
func (p *Provider) DeleteInstance(ctx context.Context, instanceID string) error {
	listFilters := filters.NewArgs(filters.Arg("label", builder.LabelName+"="+instanceID))

	containers, err := p.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: listFilters})
	if err != nil {
		log.Printf("provider: failed to list containers for %s: %v", instanceID, err)
		return nil
	}

	for _, c := range containers {
		if err := p.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
			log.Printf("provider: failed to remove container %s: %v", c.ID, err)
		}
	}

	if err := p.cli.NetworkRemove(ctx, "kube-ctf-"+instanceID); err != nil && !errdefs.IsNotFound(err) {
		log.Printf("provider: failed to remove network for %s: %v", instanceID, err)
	}

	return nil
}
