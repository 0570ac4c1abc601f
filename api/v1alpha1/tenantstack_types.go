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

package v1alpha1

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// DatabaseVendor identifies the DBMS behind a database service.
// +kubebuilder:validation:Enum=postgresql;mysql;oracle
type DatabaseVendor string

const (
	VendorPostgreSQL DatabaseVendor = "postgresql"
	VendorMySQL      DatabaseVendor = "mysql"
	VendorOracle     DatabaseVendor = "oracle"
)

// Phase represents the lifecycle phase of a TenantStack.
type Phase string

const (
	PhasePending   Phase = "Pending"
	PhasePreparing Phase = "Preparing"
	PhaseReady     Phase = "Ready"
	PhaseFailed    Phase = "Failed"
)

// ConditionDatabasePrepared is set once the preparation job pod has completed.
const ConditionDatabasePrepared = "DatabasePrepared"

// ============================================================================
// TenantStack Spec
// ============================================================================

// DatabaseServiceSpec describes the shared database service the stack's
// components get their schemas on.
type DatabaseServiceSpec struct {
	// Host is the in-cluster hostname of the database service.
	// +kubebuilder:validation:MinLength=1
	Host string `json:"host"`

	// Port of the database service.
	// +kubebuilder:validation:Minimum=1
	// +kubebuilder:validation:Maximum=65535
	Port int32 `json:"port"`

	// DatabaseName is the database in which schemas are created.
	// +kubebuilder:validation:MinLength=1
	DatabaseName string `json:"databaseName"`

	// Vendor of the database service.
	Vendor DatabaseVendor `json:"vendor"`

	// AdminSecretName is the Secret holding the administrative credentials
	// under the "username" and "password" keys.
	// +kubebuilder:validation:MinLength=1
	AdminSecretName string `json:"adminSecretName"`

	// Tablespace to create schemas in, when the vendor supports it.
	// +optional
	Tablespace string `json:"tablespace,omitempty"`

	// JDBCParameters are vendor specific connection parameters passed to the
	// schema creation tool.
	// +optional
	JDBCParameters map[string]string `json:"jdbcParameters,omitempty"`
}

// PopulatorSpec describes an optional data loading step that runs after a
// component's schemas exist.
type PopulatorSpec struct {
	// Image is the logical image name of the population tool.
	// +kubebuilder:validation:MinLength=1
	Image string `json:"image"`

	// Command overrides the image entrypoint.
	// +optional
	Command []string `json:"command,omitempty"`

	// Env is passed to the population step in addition to the generated
	// connection variables.
	// +optional
	Env []corev1.EnvVar `json:"env,omitempty"`
}

// ComponentSpec describes one dependent component of the stack.
type ComponentSpec struct {
	// Name qualifies the component within the stack.
	// +kubebuilder:validation:MinLength=1
	// +kubebuilder:validation:MaxLength=32
	Name string `json:"name"`

	// Schemas lists the schema qualifiers the component needs.
	// +kubebuilder:validation:items:Pattern=`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`
	// +kubebuilder:validation:items:MaxLength=32
	// +optional
	Schemas []string `json:"schemas,omitempty"`

	// Populator is run once all the component's schemas have been created.
	// +optional
	Populator *PopulatorSpec `json:"populator,omitempty"`

	// HealthCheckPath is the HTTP path used to probe the component.
	// +optional
	HealthCheckPath string `json:"healthCheckPath,omitempty"`

	// VolumeMountPath is where the component expects its persistent volume.
	// +optional
	VolumeMountPath string `json:"volumeMountPath,omitempty"`
}

// TenantStackSpec defines the desired state of TenantStack.
type TenantStackSpec struct {
	// Database is the shared database service.
	Database DatabaseServiceSpec `json:"database"`

	// Components are processed in order; their init steps run in this order.
	// +listType=map
	// +listMapKey=name
	Components []ComponentSpec `json:"components,omitempty"`
}

// ============================================================================
// TenantStack Status
// ============================================================================

// SchemaStatus reports a schema provisioned for a component.
type SchemaStatus struct {
	Component  string `json:"component"`
	Qualifier  string `json:"qualifier"`
	SchemaName string `json:"schemaName"`
	SecretName string `json:"secretName"`
}

// ComponentStatus reports the health check and volume a component declares.
type ComponentStatus struct {
	Name string `json:"name"`
	// +optional
	HealthCheckPath string `json:"healthCheckPath,omitempty"`
	// +optional
	VolumeMountPath string `json:"volumeMountPath,omitempty"`
}

// TenantStackStatus defines the observed state of TenantStack.
type TenantStackStatus struct {
	// Phase is a high level summary of the stack's lifecycle.
	// +optional
	Phase Phase `json:"phase,omitempty"`

	// ObservedGeneration is the last generation the operator acted on.
	// +optional
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`

	// Conditions represent the latest available observations.
	// +optional
	Conditions []metav1.Condition `json:"conditions,omitempty"`

	// Schemas lists the schemas provisioned for the stack's components.
	// +optional
	Schemas []SchemaStatus `json:"schemas,omitempty"`

	// Components lists the components declaring a health check or a volume.
	// +optional
	Components []ComponentStatus `json:"components,omitempty"`

	// JobPod is the name of the last preparation job pod.
	// +optional
	JobPod string `json:"jobPod,omitempty"`

	// Message carries the failure detail when Phase is Failed.
	// +optional
	Message string `json:"message,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=ts
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=".status.phase"
// +kubebuilder:printcolumn:name="Age",type="date",JSONPath=".metadata.creationTimestamp"

// TenantStack is the Schema for the tenantstacks API.
type TenantStack struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   TenantStackSpec   `json:"spec,omitempty"`
	Status TenantStackStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// TenantStackList contains a list of TenantStack.
type TenantStackList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []TenantStack `json:"items"`
}

func init() {
	SchemeBuilder.Register(&TenantStack{}, &TenantStackList{})
}
