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

package jobcomposer

import (
	"slices"
	"strings"

	corev1 "k8s.io/api/core/v1"

	"github.com/numtide/stack-operator/pkg/schema"
)

// Capability is a tag a component declares to take part in a concern.
type Capability string

const (
	// DeclaresSchemas marks components that need database schemas.
	DeclaresSchemas Capability = "declares-schemas"
	// DeclaresPopulationStep marks components that load data once their
	// schemas exist.
	DeclaresPopulationStep Capability = "declares-population-step"
	// DeclaresHealthCheck marks components exposing an HTTP health check.
	DeclaresHealthCheck Capability = "declares-health-check"
	// DeclaresVolume marks components that need a persistent volume.
	DeclaresVolume Capability = "declares-volume"
)

// Population is the data loading step of a component.
type Population struct {
	// Image is a logical image name resolved through the images.Resolver.
	Image   string
	Command []string
	Env     []corev1.EnvVar
}

// PopulateFunc builds a population step from the descriptors of the
// component's own schemas, keyed by schema qualifier.
type PopulateFunc func(schemas map[string]schema.Descriptor) Population

// Component is one dependent part of a stack as seen by job composition.
type Component struct {
	// Qualifier names the component within its owner.
	Qualifier    string
	Capabilities []Capability

	// SchemaQualifiers are the schemas needed with DeclaresSchemas, in
	// creation order.
	SchemaQualifiers []string
	// Populate is called with DeclaresPopulationStep.
	Populate PopulateFunc

	// HealthCheckPath is reported with DeclaresHealthCheck.
	HealthCheckPath string
	// VolumeMountPath is reported with DeclaresVolume.
	VolumeMountPath string
}

// Has reports whether the component declares c.
func (c Component) Has(capability Capability) bool {
	return slices.Contains(c.Capabilities, capability)
}

// ByCapability returns, in order, the components that declare capability.
func ByCapability(components []Component, capability Capability) []Component {
	var out []Component
	for _, c := range components {
		if c.Has(capability) {
			out = append(out, c)
		}
	}
	return out
}

// SchemaEnv returns the connection variables a population step needs for
// each schema: <QUALIFIER>_SCHEMA, <QUALIFIER>_USER and <QUALIFIER>_PASSWORD.
// Variables are ordered by qualifier.
func SchemaEnv(schemas map[string]schema.Descriptor) []corev1.EnvVar {
	qualifiers := make([]string, 0, len(schemas))
	for q := range schemas {
		qualifiers = append(qualifiers, q)
	}
	slices.Sort(qualifiers)

	env := make([]corev1.EnvVar, 0, 3*len(qualifiers))
	for _, q := range qualifiers {
		d := schemas[q]
		prefix := envPrefix(q)
		env = append(env,
			corev1.EnvVar{Name: prefix + "_SCHEMA", Value: d.SchemaName},
			corev1.EnvVar{Name: prefix + "_USER", ValueFrom: d.UsernameRef()},
			corev1.EnvVar{Name: prefix + "_PASSWORD", ValueFrom: d.PasswordRef()},
		)
	}
	return env
}

func envPrefix(qualifier string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_':
			return r
		default:
			return '_'
		}
	}, qualifier)
}
