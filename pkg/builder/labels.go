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

// Package builder constructs the Kubernetes objects that make up one
// challenge instance. Every object carries the instance id label so the
// whole set can be reconciled and deleted by a single label selector.
package builder

const (
	// LabelName tags every resource of an instance with the instance id.
	LabelName = "kube-ctf.io/name"

	// LabelInstance tags a resource with its per-container instance name.
	LabelInstance = "kube-ctf.io/instance"

	// LabelPort tags a route object with the port it forwards to.
	LabelPort = "kube-ctf.io/port"

	managedBy = "kube-ctf"
)

// Labels returns the label set applied to every resource of a
// container within an instance.
func Labels(instanceID, instanceName string) map[string]string {
	return map[string]string{
		LabelName:                      instanceID,
		LabelInstance:                  instanceName,
		"app.kubernetes.io/managed-by": managedBy,
	}
}

// selectorLabels returns the labels used to match the instance pods.
// Kept minimal because selectors are immutable on workloads.
func selectorLabels(instanceID, instanceName string) map[string]string {
	return map[string]string{
		LabelName:     instanceID,
		LabelInstance: instanceName,
	}
}
