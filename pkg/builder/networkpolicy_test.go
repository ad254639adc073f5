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

package builder

import (
	"testing"

	networkingv1 "k8s.io/api/networking/v1"

	"github.com/cfrt-dev/kube-ctf/pkg/challenge"
)

func TestBuildNetworkPolicy(t *testing.T) {
	container := &challenge.Container{
		Image: "nginx:alpine",
		Name:  "web",
	}

	policy := BuildNetworkPolicy(container, "a1b2c3d4e5", "challenges")

	// Check name and namespace
	if policy.Name != "web-a1b2c3d4e5" {
		t.Errorf("Expected policy name web-a1b2c3d4e5, got %s", policy.Name)
	}
	if policy.Namespace != "challenges" {
		t.Errorf("Expected namespace challenges, got %s", policy.Namespace)
	}

	// Both directions enforced
	if len(policy.Spec.PolicyTypes) != 2 {
		t.Errorf("Expected Ingress and Egress policy types, got %v", policy.Spec.PolicyTypes)
	}

	// Without external access: DNS egress and same-instance egress only
	if len(policy.Spec.Egress) != 2 {
		t.Fatalf("Expected 2 egress rules, got %d", len(policy.Spec.Egress))
	}

	dns := policy.Spec.Egress[0]
	if len(dns.Ports) != 2 {
		t.Errorf("Expected TCP and UDP DNS ports, got %d", len(dns.Ports))
	}
	if dns.To[0].NamespaceSelector.MatchLabels["kubernetes.io/metadata.name"] != "kube-system" {
		t.Error("Expected DNS egress restricted to kube-system")
	}

	peer := policy.Spec.Egress[1]
	if peer.To[0].PodSelector.MatchLabels[LabelName] != "a1b2c3d4e5" {
		t.Error("Expected same-instance egress peer selector")
	}

	// Ingress from the ingress controller and instance peers
	if len(policy.Spec.Ingress) != 2 {
		t.Fatalf("Expected 2 ingress rules, got %d", len(policy.Spec.Ingress))
	}
	traefik := policy.Spec.Ingress[0].From[0]
	if traefik.PodSelector.MatchLabels["app.kubernetes.io/instance"] != "traefik-kube-system" {
		t.Error("Expected ingress rule for the traefik controller")
	}
}

func TestBuildNetworkPolicyExternalNetwork(t *testing.T) {
	container := &challenge.Container{
		Image:                "scanner:latest",
		Name:                 "scanner",
		AllowExternalNetwork: true,
	}

	policy := BuildNetworkPolicy(container, "a1b2c3d4e5", "challenges")

	if len(policy.Spec.Egress) != 3 {
		t.Fatalf("Expected 3 egress rules with external access, got %d", len(policy.Spec.Egress))
	}

	var external *networkingv1.IPBlock
	for _, rule := range policy.Spec.Egress {
		for _, to := range rule.To {
			if to.IPBlock != nil {
				external = to.IPBlock
			}
		}
	}
	if external == nil {
		t.Fatal("Expected an IPBlock egress rule")
	}
	if external.CIDR != "0.0.0.0/0" {
		t.Errorf("Expected CIDR 0.0.0.0/0, got %s", external.CIDR)
	}

	// Private ranges stay blocked
	if len(external.Except) != 3 {
		t.Fatalf("Expected 3 excluded ranges, got %v", external.Except)
	}
	want := map[string]bool{"10.0.0.0/8": true, "172.16.0.0/12": true, "192.168.0.0/16": true}
	for _, cidr := range external.Except {
		if !want[cidr] {
			t.Errorf("Unexpected excluded range %s", cidr)
		}
	}
}
