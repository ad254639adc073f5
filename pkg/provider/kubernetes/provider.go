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

// Package kubernetes provisions challenge instances as correlated
// cluster resources: one Deployment, Service and NetworkPolicy per
// container plus one Traefik route per exposed port, all tagged with
// the instance id label.
package kubernetes

import (
	"context"
	"log"

	"golang.org/x/sync/errgroup"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/cfrt-dev/kube-ctf/pkg/apperr"
	"github.com/cfrt-dev/kube-ctf/pkg/builder"
	"github.com/cfrt-dev/kube-ctf/pkg/challenge"
)

// Options configures the cluster-level settings of the provider.
type Options struct {
	Namespace  string
	BaseDomain string
	TLSSecret  string
}

// Provider creates and deletes instance resources through the cluster
// API. All state lives in the cluster; the provider itself is
// stateless and safe for concurrent use.
type Provider struct {
	client client.Client
	opts   Options
}

// New creates a Kubernetes-backed provider.
func New(c client.Client, opts Options) *Provider {
	return &Provider{client: c, opts: opts}
}

// CreateInstance materializes every container of the spec. The four
// resource creations of a single container run in parallel; a failure
// of any one fails the whole call, triggering compensation before the
// original error is returned.
func (p *Provider) CreateInstance(ctx context.Context, spec []challenge.Container, instanceID string) error {
	for i := range spec {
		c := &spec[i]

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return p.create(gctx, builder.BuildDeployment(c, instanceID, p.opts.Namespace))
		})
		g.Go(func() error {
			svc := builder.BuildService(c, instanceID, p.opts.Namespace)
			if svc == nil {
				return nil
			}
			return p.create(gctx, svc)
		})
		g.Go(func() error {
			return p.create(gctx, builder.BuildNetworkPolicy(c, instanceID, p.opts.Namespace))
		})
		g.Go(func() error {
			return p.createRoutes(gctx, c, instanceID)
		})

		if err := g.Wait(); err != nil {
			log.Printf("provider: failed to create resources for %s: %v", instanceID, err)
			if cleanupErr := p.DeleteInstance(ctx, instanceID); cleanupErr != nil {
				log.Printf("provider: cleanup after failed create of %s: %v", instanceID, cleanupErr)
			}
			return apperr.Wrap(apperr.KindDeploy, "failed to deploy instance", err)
		}
	}

	return nil
}

func (p *Provider) createRoutes(ctx context.Context, c *challenge.Container, instanceID string) error {
	cfg := builder.RouteConfig{
		BaseDomain: p.opts.BaseDomain,
		TLSSecret:  p.opts.TLSSecret,
	}

	for _, port := range c.Ports {
		route := builder.BuildRoute(c, port, instanceID, p.opts.Namespace, cfg)
		if err := p.create(ctx, route); err != nil {
			return err
		}
	}

	return nil
}

// create swallows AlreadyExists so repeated CreateInstance calls for
// the same id converge instead of failing.
func (p *Provider) create(ctx context.Context, obj client.Object) error {
	err := p.client.Create(ctx, obj)
	if err == nil {
		log.Printf("provider: created %T %s", obj, obj.GetName())
		return nil
	}
	if apierrors.IsAlreadyExists(err) {
		return nil
	}
	return err
}

// DeleteInstance bulk-deletes every resource kind tagged with the
// instance id, concurrently and with immediate termination. Partial
// failures are logged only; the caller treats teardown as fire and
// forget.
func (p *Provider) DeleteInstance(ctx context.Context, instanceID string) error {
	ingressRoutes := &unstructured.Unstructured{}
	ingressRoutes.SetGroupVersionKind(builder.IngressRouteGVK)
	ingressRouteTCPs := &unstructured.Unstructured{}
	ingressRouteTCPs.SetGroupVersionKind(builder.IngressRouteTCPGVK)

	kinds := []client.Object{
		&appsv1.Deployment{},
		&corev1.Service{},
		&networkingv1.NetworkPolicy{},
		ingressRoutes,
		ingressRouteTCPs,
	}

	opts := []client.DeleteAllOfOption{
		client.InNamespace(p.opts.Namespace),
		client.MatchingLabels{builder.LabelName: instanceID},
		client.GracePeriodSeconds(0),
	}

	var g errgroup.Group
	for _, kind := range kinds {
		g.Go(func() error {
			return client.IgnoreNotFound(p.client.DeleteAllOf(ctx, kind, opts...))
		})
	}

	if err := g.Wait(); err != nil {
		log.Printf("provider: failed to delete resources for %s: %v", instanceID, err)
	}

	return nil
}
