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

// Package naming is the single source of resource and subdomain names.
// The provisioning providers and the link generator both derive names
// here, so an emitted link always addresses the route that was created.
package naming

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"

	"github.com/cfrt-dev/kube-ctf/pkg/challenge"
)

// IDLength is the length of generated instance ids.
const IDLength = 10

const (
	letters  = "abcdefghijklmnopqrstuvwxyz"
	alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// DeriveName joins the non-empty parts with "-". It names route
// objects and the subdomains that address them.
func DeriveName(domainOrPort, containerName, instanceID string) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{domainOrPort, containerName, instanceID} {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, "-")
}

// InstanceName names the per-container workload, service and network
// policy objects: "<containerName>-<instanceID>", container name omitted
// when empty.
func InstanceName(containerName, instanceID string) string {
	return DeriveName("", containerName, instanceID)
}

// PortPart returns the subdomain prefix of a port: its domain override
// when set, the port number otherwise.
func PortPart(port challenge.Port) string {
	if port.Domain != "" {
		return port.Domain
	}
	return strconv.Itoa(int(port.Number))
}

// NewInstanceID generates an instance id of length characters. The
// first character is a lowercase letter so the id is usable as a DNS
// label and a Kubernetes resource name; the rest are lowercase
// alphanumeric.
func NewInstanceID(length int) string {
	if length < 1 {
		length = IDLength
	}

	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(fmt.Sprintf("naming: read random bytes: %v", err))
	}

	buf[0] = letters[int(buf[0])%len(letters)]
	for i := 1; i < length; i++ {
		buf[i] = alphabet[int(buf[i])%len(alphabet)]
	}

	return string(buf)
}

// Link is one externally reachable endpoint of a running instance.
type Link struct {
	URL      string             `json:"url"`
	Protocol challenge.Protocol `json:"protocol"`
}

// ContainerLinks computes the connection links for every port of every
// container, in declaration order.
func ContainerLinks(baseDomain, instanceID string, containers []challenge.Container) []Link {
	var links []Link

	for i := range containers {
		c := &containers[i]
		for _, port := range c.Ports {
			links = append(links, Link{
				URL:      DeriveName(PortPart(port), c.Name, instanceID) + "." + baseDomain,
				Protocol: port.Protocol,
			})
		}
	}

	return links
}

// ValidateSubdomains rejects a deploy spec whose derived subdomains
// would exceed maxLength. It runs at validation time, before any
// provisioning, with the same derivation the provider will use.
func ValidateSubdomains(containers []challenge.Container, instanceID string, maxLength int) error {
	for i := range containers {
		c := &containers[i]
		for _, port := range c.Ports {
			name := DeriveName(PortPart(port), c.Name, instanceID)
			if len(name) > maxLength {
				return fmt.Errorf("subdomain %q exceeds the %d character limit", name, maxLength)
			}
		}
	}
	return nil
}
