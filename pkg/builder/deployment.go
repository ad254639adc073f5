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
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"

	"github.com/cfrt-dev/kube-ctf/pkg/challenge"
	"github.com/cfrt-dev/kube-ctf/pkg/naming"
)

const (
	defaultCPURequest    = "100m"
	defaultMemoryRequest = "128Mi"
)

// BuildDeployment creates the single-replica Deployment running one
// container of an instance.
func BuildDeployment(c *challenge.Container, instanceID, namespace string) *appsv1.Deployment {
	instanceName := naming.InstanceName(c.Name, instanceID)
	labels := Labels(instanceID, instanceName)

	containerName := c.Name
	if containerName == "" {
		containerName = "container"
	}

	env := make([]corev1.EnvVar, 0, len(c.Envs))
	for _, e := range c.Envs {
		env = append(env, corev1.EnvVar{Name: e.Name, Value: e.Value})
	}

	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      instanceName,
			Namespace: namespace,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(int32(1)),
			Selector: &metav1.LabelSelector{
				MatchLabels: selectorLabels(instanceID, instanceName),
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: labels,
				},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name:            containerName,
							Image:           c.Image,
							ImagePullPolicy: corev1.PullIfNotPresent,
							Env:             env,
							Resources:       buildResources(c.Resources),
						},
					},
				},
			},
		},
	}
}

// buildResources translates the spec resource section, falling back to
// the platform defaults when a side is omitted.
func buildResources(r *challenge.Resources) corev1.ResourceRequirements {
	requirements := corev1.ResourceRequirements{
		Requests: corev1.ResourceList{
			corev1.ResourceCPU:    resource.MustParse(defaultCPURequest),
			corev1.ResourceMemory: resource.MustParse(defaultMemoryRequest),
		},
	}

	if r == nil {
		return requirements
	}

	if r.Requests != nil {
		requirements.Requests = resourceList(r.Requests)
	}
	if r.Limits != nil {
		requirements.Limits = resourceList(r.Limits)
	}

	return requirements
}

func resourceList(r *challenge.Resource) corev1.ResourceList {
	list := corev1.ResourceList{}
	if r.CPU != "" {
		list[corev1.ResourceCPU] = resource.MustParse(r.CPU)
	}
	if r.Memory != "" {
		list[corev1.ResourceMemory] = resource.MustParse(r.Memory)
	}
	return list
}
