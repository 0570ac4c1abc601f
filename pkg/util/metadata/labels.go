/*
Copyright 2026 Numtide.

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

package metadata

import (
	"maps"

	"github.com/numtide/stack-operator/pkg/util/name"
)

// Standard Kubernetes label keys following kubernetes.io conventions.
//
// See: https://kubernetes.io/docs/concepts/overview/working-with-objects/common-labels/
const (
	// LabelAppName is the standard label key for the application name.
	LabelAppName = "app.kubernetes.io/name"

	// LabelAppInstance is the standard label key for the unique instance name.
	LabelAppInstance = "app.kubernetes.io/instance"

	// LabelAppComponent is the standard label key for the component within the
	// application.
	LabelAppComponent = "app.kubernetes.io/component"

	// LabelAppPartOf is the standard label key for the name of a higher level
	// application this one is part of.
	LabelAppPartOf = "app.kubernetes.io/part-of"

	// LabelAppManagedBy is the standard label key for the tool managing the
	// resource.
	LabelAppManagedBy = "app.kubernetes.io/managed-by"
)

const (
	// AppNameStack is the fixed application name for all stack resources.
	AppNameStack = "tenant-stack"

	// ManagedByStackOperator identifies the operator managing these resources.
	ManagedByStackOperator = "stack-operator"
)

const (
	// ComponentDBPreparation identifies the database preparation job pod.
	ComponentDBPreparation = "db-preparation"

	// ComponentCredentials identifies generated credential secrets.
	ComponentCredentials = "credentials"
)

const (
	// LabelTenantStack identifies which TenantStack a resource belongs to.
	LabelTenantStack = "stack.numtide.com/tenant-stack"

	// LabelJobKind marks job pods with the kind of work they perform. Stale
	// job pods are found and removed by this label.
	LabelJobKind = "stack.numtide.com/job-kind"

	// LabelQualifier distinguishes job pods of the same kind for one owner.
	LabelQualifier = "stack.numtide.com/qualifier"

	// JobKindDBPreparation is the LabelJobKind value of schema preparation pods.
	JobKindDBPreparation = "db-preparation"
)

// BuildStandardLabels returns a map of standard kubernetes labels.
// stackName should be the name of the TenantStack CR (used for instance label).
// component is the name of the component (e.g. db-preparation, credentials).
func BuildStandardLabels(stackName, component string) map[string]string {
	return map[string]string{
		LabelAppName:      AppNameStack,
		LabelAppInstance:  name.LabelValue(stackName),
		LabelAppComponent: component,
		LabelAppPartOf:    AppNameStack,
		LabelAppManagedBy: ManagedByStackOperator,
	}
}

// BuildJobLabels returns the labels of a job pod. The result always carries
// the owner, the job kind and the qualifier so that a previous run of the same
// job can be selected and removed.
func BuildJobLabels(stackName, jobKind, qualifier string) map[string]string {
	labels := BuildStandardLabels(stackName, jobKind)
	AddTenantStackLabel(labels, stackName)
	labels[LabelJobKind] = jobKind
	labels[LabelQualifier] = name.LabelValue(qualifier)
	return labels
}

// AddTenantStackLabel adds the tenant stack label to the provided labels map.
func AddTenantStackLabel(labels map[string]string, stackName string) map[string]string {
	labels[LabelTenantStack] = name.LabelValue(stackName)
	return labels
}

// OwnerKindLabel returns the "<Kind>=<name>" label generated secrets carry so
// they can be listed per owning resource.
func OwnerKindLabel(kind, ownerName string) map[string]string {
	return map[string]string{kind: name.LabelValue(ownerName)}
}

// selectorLabelsAllowList contains the keys that are allowed in label selectors.
// These must be stable identity labels, not mutable metadata.
var selectorLabelsAllowList = map[string]bool{
	LabelAppComponent: true,
	LabelAppInstance:  true,
	LabelTenantStack:  true,
	LabelJobKind:      true,
	LabelQualifier:    true,
}

// GetSelectorLabels filters the provided labels map to return only those keys
// allowed in resource selectors (Identity Labels).
func GetSelectorLabels(labels map[string]string) map[string]string {
	selectorLabels := make(map[string]string)
	for k, v := range labels {
		if selectorLabelsAllowList[k] {
			selectorLabels[k] = v
		}
	}
	return selectorLabels
}

// MergeLabels merges custom labels with standard labels.
//
// Note that standard labels take precedence over custom labels to prevent users
// from overriding critical operator-managed labels.
func MergeLabels(standardLabels, customLabels map[string]string) map[string]string {
	merged := make(map[string]string)

	maps.Copy(merged, customLabels)
	maps.Copy(merged, standardLabels)

	return merged
}
