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

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/cfrt-dev/kube-ctf/pkg/challenge"
)

var testRouteConfig = RouteConfig{
	BaseDomain: "tasks.cfrt.dev",
	TLSSecret:  "wildcard-cert",
}

func firstRoute(t *testing.T, obj *unstructured.Unstructured) map[string]interface{} {
	t.Helper()
	routes, found, err := unstructured.NestedSlice(obj.Object, "spec", "routes")
	if err != nil || !found || len(routes) == 0 {
		t.Fatalf("Route object has no spec.routes: %v", obj.Object)
	}
	route, ok := routes[0].(map[string]interface{})
	if !ok {
		t.Fatalf("spec.routes[0] is not an object: %v", routes[0])
	}
	return route
}

func TestBuildRouteHTTP(t *testing.T) {
	container := &challenge.Container{Image: "nginx:alpine", Name: "web"}
	port := challenge.Port{Number: 80, Protocol: challenge.ProtocolHTTP}

	obj := BuildRoute(container, port, "a1b2c3d4e5", "challenges", testRouteConfig)

	if obj.GetKind() != "IngressRoute" {
		t.Errorf("Expected kind IngressRoute, got %s", obj.GetKind())
	}
	if obj.GetName() != "80-web-a1b2c3d4e5" {
		t.Errorf("Expected route name 80-web-a1b2c3d4e5, got %s", obj.GetName())
	}
	if obj.GetNamespace() != "challenges" {
		t.Errorf("Expected namespace challenges, got %s", obj.GetNamespace())
	}

	route := firstRoute(t, obj)
	if route["match"] != "Host(`80-web-a1b2c3d4e5.tasks.cfrt.dev`)" {
		t.Errorf("Unexpected match rule %v", route["match"])
	}
	if route["kind"] != "Rule" {
		t.Errorf("Expected route kind Rule, got %v", route["kind"])
	}

	services, ok := route["services"].([]interface{})
	if !ok || len(services) != 1 {
		t.Fatalf("Expected 1 backend service, got %v", route["services"])
	}
	service := services[0].(map[string]interface{})
	if service["name"] != "web-a1b2c3d4e5" {
		t.Errorf("Expected backend web-a1b2c3d4e5, got %v", service["name"])
	}
	if service["port"] != int64(80) {
		t.Errorf("Expected backend port 80, got %v", service["port"])
	}

	secret, _, _ := unstructured.NestedString(obj.Object, "spec", "tls", "secretName")
	if secret != "wildcard-cert" {
		t.Errorf("Expected TLS secret wildcard-cert, got %s", secret)
	}
}

func TestBuildRouteTCP(t *testing.T) {
	container := &challenge.Container{Image: "pwn:latest", Name: "pwn"}
	port := challenge.Port{Number: 1337, Protocol: challenge.ProtocolTCP}

	obj := BuildRoute(container, port, "a1b2c3d4e5", "challenges", testRouteConfig)

	if obj.GetKind() != "IngressRouteTCP" {
		t.Errorf("Expected kind IngressRouteTCP, got %s", obj.GetKind())
	}
	if obj.GetName() != "1337-pwn-a1b2c3d4e5" {
		t.Errorf("Expected route name 1337-pwn-a1b2c3d4e5, got %s", obj.GetName())
	}

	route := firstRoute(t, obj)
	if route["match"] != "HostSNI(`1337-pwn-a1b2c3d4e5.tasks.cfrt.dev`)" {
		t.Errorf("Unexpected match rule %v", route["match"])
	}
}

func TestBuildRouteDomainOverride(t *testing.T) {
	container := &challenge.Container{Image: "nginx:alpine", Name: "web"}
	port := challenge.Port{Number: 80, Protocol: challenge.ProtocolHTTP, Domain: "shop"}

	obj := BuildRoute(container, port, "a1b2c3d4e5", "challenges", testRouteConfig)

	// The override replaces the port number in the route name
	if obj.GetName() != "shop-web-a1b2c3d4e5" {
		t.Errorf("Expected route name shop-web-a1b2c3d4e5, got %s", obj.GetName())
	}

	route := firstRoute(t, obj)
	if route["match"] != "Host(`shop-web-a1b2c3d4e5.tasks.cfrt.dev`)" {
		t.Errorf("Unexpected match rule %v", route["match"])
	}

	// Port label still records the forwarded port
	if obj.GetLabels()[LabelPort] != "80" {
		t.Errorf("Expected port label 80, got %s", obj.GetLabels()[LabelPort])
	}
}
