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
	"fmt"
	"strconv"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/cfrt-dev/kube-ctf/pkg/challenge"
	"github.com/cfrt-dev/kube-ctf/pkg/naming"
)

// Traefik CRD kinds used for routing. Built as unstructured objects
// because the Traefik types are not part of the compiled scheme.
var (
	IngressRouteGVK = schema.GroupVersionKind{
		Group:   "traefik.io",
		Version: "v1alpha1",
		Kind:    "IngressRoute",
	}
	IngressRouteTCPGVK = schema.GroupVersionKind{
		Group:   "traefik.io",
		Version: "v1alpha1",
		Kind:    "IngressRouteTCP",
	}
)

// RouteConfig carries the cluster-level routing settings shared by all
// route objects.
type RouteConfig struct {
	BaseDomain string
	TLSSecret  string
}

// BuildRoute creates the Traefik route object for one port of one
// container. HTTP ports match on Host rules, TCP ports on SNI; both
// forward to the container's Service under the shared wildcard
// certificate. The route name doubles as the subdomain prefix, so it
// must match what naming.ContainerLinks emits.
func BuildRoute(c *challenge.Container, port challenge.Port, instanceID, namespace string, cfg RouteConfig) *unstructured.Unstructured {
	instanceName := naming.InstanceName(c.Name, instanceID)
	routeName := naming.DeriveName(naming.PortPart(port), c.Name, instanceID)
	host := routeName + "." + cfg.BaseDomain

	labels := map[string]interface{}{
		LabelPort:                      strconv.Itoa(int(port.Number)),
		LabelName:                      instanceID,
		LabelInstance:                  instanceName,
		"app.kubernetes.io/managed-by": managedBy,
	}

	route := &unstructured.Unstructured{}

	switch port.Protocol {
	case challenge.ProtocolTCP:
		route.SetGroupVersionKind(IngressRouteTCPGVK)
		route.Object["spec"] = map[string]interface{}{
			"routes": []interface{}{
				map[string]interface{}{
					"match": fmt.Sprintf("HostSNI(`%s`)", host),
					"services": []interface{}{
						map[string]interface{}{
							"name": instanceName,
							"port": int64(port.Number),
						},
					},
				},
			},
			"tls": map[string]interface{}{
				"secretName": cfg.TLSSecret,
			},
		}
	default:
		route.SetGroupVersionKind(IngressRouteGVK)
		route.Object["spec"] = map[string]interface{}{
			"routes": []interface{}{
				map[string]interface{}{
					"match": fmt.Sprintf("Host(`%s`)", host),
					"kind":  "Rule",
					"services": []interface{}{
						map[string]interface{}{
							"name": instanceName,
							"port": int64(port.Number),
						},
					},
				},
			},
			"tls": map[string]interface{}{
				"secretName": cfg.TLSSecret,
			},
		}
	}

	route.SetName(routeName)
	route.SetNamespace(namespace)
	route.SetUnstructuredContent(withLabels(route.Object, labels))

	return route
}

func withLabels(obj map[string]interface{}, labels map[string]interface{}) map[string]interface{} {
	metadata, ok := obj["metadata"].(map[string]interface{})
	if !ok {
		metadata = map[string]interface{}{}
		obj["metadata"] = metadata
	}
	metadata["labels"] = labels
	return obj
}
