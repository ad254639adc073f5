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

// Package challenge holds the deploy-spec value types shared by the
// provisioning providers, the link generator and form validation.
package challenge

import (
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/api/resource"
)

// Protocol selects how a port is routed: HTTP host rules or TCP SNI.
type Protocol string

const (
	ProtocolHTTP Protocol = "http"
	ProtocolTCP  Protocol = "tcp"
)

// Env is a single environment variable injected into a container.
type Env struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Port declares one exposed port of a container. Domain optionally
// overrides the port number as the subdomain prefix.
type Port struct {
	Number   int32    `json:"number"`
	Protocol Protocol `json:"protocol"`
	Domain   string   `json:"domain,omitempty"`
}

// Resource holds resource quantities in Kubernetes notation.
type Resource struct {
	CPU    string `json:"cpu"`
	Memory string `json:"memory"`
}

// Resources holds optional requests and limits for a container.
type Resources struct {
	Requests *Resource `json:"requests,omitempty"`
	Limits   *Resource `json:"limits,omitempty"`
}

// Container describes one container of a challenge deployment. It is
// immutable once an instance has been created from it.
type Container struct {
	Image                string    `json:"image"`
	Name                 string    `json:"name,omitempty"`
	AllowExternalNetwork bool      `json:"allowExternalNetwork,omitempty"`
	Envs                 []Env     `json:"envs,omitempty"`
	Ports                []Port    `json:"ports,omitempty"`
	Resources            *Resources `json:"resources,omitempty"`
}

// DeploySpec is the deployable part of a challenge definition, stored
// as JSON on the challenge row and read-only to the orchestrator.
type DeploySpec struct {
	Containers []Container `json:"containers"`
}

const nameAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Validate checks a deploy spec before it is accepted: non-empty
// container set, unique container names, valid port numbers, lowercase
// naming and unique non-empty domain overrides within a container.
// Subdomain length is checked separately because it depends on the
// instance id; see naming.ValidateSubdomains.
func (s *DeploySpec) Validate() error {
	if len(s.Containers) == 0 {
		return fmt.Errorf("deploy spec must declare at least one container")
	}

	names := make(map[string]struct{}, len(s.Containers))
	for i := range s.Containers {
		c := &s.Containers[i]
		if c.Image == "" {
			return fmt.Errorf("container %q: image is required", c.Name)
		}
		if err := validateContainerName(c.Name); err != nil {
			return err
		}
		if _, ok := names[c.Name]; ok {
			return fmt.Errorf("duplicate container name %q", c.Name)
		}
		names[c.Name] = struct{}{}

		if err := validatePorts(c.Name, c.Ports); err != nil {
			return err
		}
		if err := validateResources(c.Name, c.Resources); err != nil {
			return err
		}
	}

	return nil
}

// validateResources parses every declared quantity so the deployment
// builder never sees a string Kubernetes would not accept.
func validateResources(containerName string, r *Resources) error {
	if r == nil {
		return nil
	}
	for _, side := range []*Resource{r.Requests, r.Limits} {
		if side == nil {
			continue
		}
		for _, quantity := range []string{side.CPU, side.Memory} {
			if quantity == "" {
				continue
			}
			if _, err := resource.ParseQuantity(quantity); err != nil {
				return fmt.Errorf("container %q: invalid resource quantity %q", containerName, quantity)
			}
		}
	}
	return nil
}

func validateContainerName(name string) error {
	if name == "" {
		return nil
	}
	if name[0] >= '0' && name[0] <= '9' {
		return fmt.Errorf("container name %q must not start with a digit", name)
	}
	if !isLowercase(name) {
		return fmt.Errorf("container name %q must be lowercase alphanumeric", name)
	}
	return nil
}

func validatePorts(containerName string, ports []Port) error {
	domains := make(map[string]struct{}, len(ports))
	numbers := make(map[int32]struct{}, len(ports))

	for _, port := range ports {
		if port.Number < 1 || port.Number > 65535 {
			return fmt.Errorf("container %q: port %d out of range", containerName, port.Number)
		}
		if port.Protocol != ProtocolHTTP && port.Protocol != ProtocolTCP {
			return fmt.Errorf("container %q: unknown protocol %q", containerName, port.Protocol)
		}
		if port.Domain != "" {
			if !isLowercase(port.Domain) {
				return fmt.Errorf("container %q: domain %q must be lowercase alphanumeric", containerName, port.Domain)
			}
			if _, ok := domains[port.Domain]; ok {
				return fmt.Errorf("container %q: ports must not share the domain %q", containerName, port.Domain)
			}
			domains[port.Domain] = struct{}{}
		}
		if _, ok := numbers[port.Number]; ok {
			return fmt.Errorf("container %q: duplicate port %d", containerName, port.Number)
		}
		numbers[port.Number] = struct{}{}
	}

	return nil
}

func isLowercase(s string) bool {
	for _, r := range s {
		if !strings.ContainsRune(nameAlphabet, r) {
			return false
		}
	}
	return true
}
