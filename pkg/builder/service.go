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
	"strconv"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/cfrt-dev/kube-ctf/pkg/challenge"
	"github.com/cfrt-dev/kube-ctf/pkg/naming"
)

// BuildService creates the Service exposing all declared ports of one
// container. Returns nil when the container declares no ports.
func BuildService(c *challenge.Container, instanceID, namespace string) *corev1.Service {
	if len(c.Ports) == 0 {
		return nil
	}

	instanceName := naming.InstanceName(c.Name, instanceID)

	ports := make([]corev1.ServicePort, 0, len(c.Ports))
	for _, port := range c.Ports {
		ports = append(ports, corev1.ServicePort{
			Name:     strconv.Itoa(int(port.Number)),
			Port:     port.Number,
			Protocol: corev1.ProtocolTCP,
		})
	}

	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      instanceName,
			Namespace: namespace,
			Labels:    Labels(instanceID, instanceName),
		},
		Spec: corev1.ServiceSpec{
			Selector: selectorLabels(instanceID, instanceName),
			Ports:    ports,
		},
	}
}
