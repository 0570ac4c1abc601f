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

// Package dbprep prepares the database schemas of a TenantStack by running
// its composed job pod to completion.
package dbprep

import (
	"context"
	"slices"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/log"

	stackv1alpha1 "github.com/numtide/stack-operator/api/v1alpha1"
	"github.com/numtide/stack-operator/pkg/jobcomposer"
	"github.com/numtide/stack-operator/pkg/podlifecycle"
	"github.com/numtide/stack-operator/pkg/schema"
	"github.com/numtide/stack-operator/pkg/util/metadata"
)

// Result is the outcome of a preparation run.
type Result struct {
	// Pod is the job pod as last observed. It is set for failed runs too.
	Pod *corev1.Pod
	// Schemas maps component name to schema qualifier to descriptor.
	Schemas map[string]map[string]schema.Descriptor
	// Components are the health checks and volumes the components declare.
	Components []stackv1alpha1.ComponentStatus
}

// Runner runs database preparation jobs.
type Runner struct {
	Lifecycle *podlifecycle.Controller
	Composer  *jobcomposer.Composer
}

// Run removes a stale job pod of stack, composes a new one and runs it to
// completion. Errors from podsync and schema are returned unwrapped so that
// callers can tell timeouts from failures.
func (r *Runner) Run(ctx context.Context, stack *stackv1alpha1.TenantStack) (*Result, error) {
	logger := log.FromContext(ctx).WithValues("tenantStack", stack.Name)

	jobLabels := metadata.GetSelectorLabels(r.Composer.JobLabels(stack.Name))
	if err := r.Lifecycle.RemoveAndWait(ctx, stack.Namespace, jobLabels); err != nil {
		return nil, err
	}

	job, err := r.Composer.Compose(ctx, stack, stack.Spec.Database, Components(stack.Spec.Components)...)
	if err != nil {
		return nil, err
	}

	logger.Info("Running database preparation", "pod", job.Pod.Name, "schemas", job.SchemaCount())
	pod, err := r.Lifecycle.RunToCompletion(ctx, job.Pod)
	return &Result{
		Pod:        pod,
		Schemas:    job.Schemas,
		Components: ComponentStatuses(job.HealthChecks, job.Volumes),
	}, err
}

// Components converts the components of a TenantStack spec.
func Components(specs []stackv1alpha1.ComponentSpec) []jobcomposer.Component {
	components := make([]jobcomposer.Component, 0, len(specs))
	for _, spec := range specs {
		c := jobcomposer.Component{
			Qualifier:        spec.Name,
			SchemaQualifiers: spec.Schemas,
			HealthCheckPath:  spec.HealthCheckPath,
			VolumeMountPath:  spec.VolumeMountPath,
		}
		if len(spec.Schemas) > 0 {
			c.Capabilities = append(c.Capabilities, jobcomposer.DeclaresSchemas)
		}
		if spec.Populator != nil {
			c.Capabilities = append(c.Capabilities, jobcomposer.DeclaresPopulationStep)
			c.Populate = populator(*spec.Populator)
		}
		if spec.HealthCheckPath != "" {
			c.Capabilities = append(c.Capabilities, jobcomposer.DeclaresHealthCheck)
		}
		if spec.VolumeMountPath != "" {
			c.Capabilities = append(c.Capabilities, jobcomposer.DeclaresVolume)
		}
		components = append(components, c)
	}
	return components
}

// populator passes the component's schema connection variables after the
// configured environment.
func populator(spec stackv1alpha1.PopulatorSpec) jobcomposer.PopulateFunc {
	return func(schemas map[string]schema.Descriptor) jobcomposer.Population {
		env := slices.Clone(spec.Env)
		env = append(env, jobcomposer.SchemaEnv(schemas)...)
		return jobcomposer.Population{
			Image:   spec.Image,
			Command: slices.Clone(spec.Command),
			Env:     env,
		}
	}
}

// ComponentStatuses merges the declared health checks and volumes, keyed by
// component name, into status entries ordered by name.
func ComponentStatuses(healthChecks, volumes map[string]string) []stackv1alpha1.ComponentStatus {
	byName := make(map[string]*stackv1alpha1.ComponentStatus)
	entry := func(name string) *stackv1alpha1.ComponentStatus {
		if byName[name] == nil {
			byName[name] = &stackv1alpha1.ComponentStatus{Name: name}
		}
		return byName[name]
	}
	for name, path := range healthChecks {
		entry(name).HealthCheckPath = path
	}
	for name, path := range volumes {
		entry(name).VolumeMountPath = path
	}

	out := make([]stackv1alpha1.ComponentStatus, 0, len(byName))
	for _, s := range byName {
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b stackv1alpha1.ComponentStatus) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// SchemaStatuses flattens schemas for the TenantStack status, ordered by
// component and qualifier.
func SchemaStatuses(schemas map[string]map[string]schema.Descriptor) []stackv1alpha1.SchemaStatus {
	var out []stackv1alpha1.SchemaStatus
	for component, byQualifier := range schemas {
		for qualifier, d := range byQualifier {
			out = append(out, stackv1alpha1.SchemaStatus{
				Component:  component,
				Qualifier:  qualifier,
				SchemaName: d.SchemaName,
				SecretName: d.SecretName,
			})
		}
	}
	slices.SortFunc(out, func(a, b stackv1alpha1.SchemaStatus) int {
		if c := strings.Compare(a.Component, b.Component); c != 0 {
			return c
		}
		return strings.Compare(a.Qualifier, b.Qualifier)
	})
	return out
}
