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

// Package jobcomposer assembles the single job pod that prepares the
// database schemas of a stack's components.
//
// Composition runs in three phases:
//
//  1. Plan a schema name and a secret name for every schema qualifier.
//     Existing secrets keep their user name so that re-runs are stable.
//  2. Create the credential secrets that do not exist yet.
//  3. Chain one schema creation init container per qualifier and, after a
//     component's qualifiers, its population step. The pod's only regular
//     container is a no-op that exits once the chain has run.
package jobcomposer

import (
	"context"
	"fmt"
	"maps"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/log"

	stackv1alpha1 "github.com/numtide/stack-operator/api/v1alpha1"
	"github.com/numtide/stack-operator/pkg/images"
	"github.com/numtide/stack-operator/pkg/monitoring"
	"github.com/numtide/stack-operator/pkg/schema"
	"github.com/numtide/stack-operator/pkg/secrets"
	"github.com/numtide/stack-operator/pkg/util/metadata"
	"github.com/numtide/stack-operator/pkg/util/name"
	"github.com/numtide/stack-operator/pkg/util/random"
)

const (
	// DefaultQualifier qualifies the job pod when the Composer has none.
	DefaultQualifier = "db"

	// DefaultMaxRedraws bounds how often a colliding generated name is drawn
	// again.
	DefaultMaxRedraws = 5

	jobPodSuffix = "db-preparation-job"
)

// JobSpec is a composed job pod and what was provisioned for it.
type JobSpec struct {
	// Pod is the job pod, not yet created.
	Pod *corev1.Pod
	// Labels select the pod and any earlier run of the same job.
	Labels map[string]string
	// Schemas maps component qualifier to schema qualifier to descriptor.
	Schemas map[string]map[string]schema.Descriptor
	// Secrets are the credential secrets of the schemas, in creation order.
	Secrets []*corev1.Secret
	// HealthChecks maps the qualifier of components declaring a health
	// check to its path.
	HealthChecks map[string]string
	// Volumes maps the qualifier of components declaring a volume to its
	// mount path.
	Volumes map[string]string
}

// SchemaCount returns the number of planned schemas.
func (j *JobSpec) SchemaCount() int {
	n := 0
	for _, s := range j.Schemas {
		n += len(s)
	}
	return n
}

// Composer builds job pods. Client is used to read and create secrets only.
type Composer struct {
	Client client.Client
	Scheme *runtime.Scheme
	Images images.Resolver
	// Random draws schema name discriminators, container name discriminators
	// and passwords. Nil uses random.Default.
	Random random.Source

	// Qualifier distinguishes the job pod from other preparation jobs of the
	// same owner. Defaults to DefaultQualifier.
	Qualifier string
	// ForcePasswordReset is passed to schema creation containers as
	// FORCE_PASSWORD_RESET when not empty.
	ForcePasswordReset string
	// MaxRedraws defaults to DefaultMaxRedraws.
	MaxRedraws int
}

// plannedSchema is the phase 1 result for one schema qualifier.
type plannedSchema struct {
	component  string
	qualifier  string
	descriptor schema.Descriptor
	existing   *corev1.Secret
}

// JobPodName returns the deterministic name of the job pod of owner.
func JobPodName(ownerName, qualifier string) string {
	return name.JoinWithConstraints(name.PodConstraints, ownerName, qualifier, jobPodSuffix)
}

// JobLabels returns the labels of the job pod the Composer builds for owner.
func (c *Composer) JobLabels(ownerName string) map[string]string {
	return metadata.BuildJobLabels(ownerName, metadata.JobKindDBPreparation, c.qualifier())
}

// Compose plans the schemas of components on database, creates their missing
// credential secrets and returns the job pod that creates and populates the
// schemas. Components are processed in order.
//
// Schemas that cannot be named, or whose names collide, yield a
// *schema.NamingConflictError before any secret is created.
func (c *Composer) Compose(
	ctx context.Context,
	owner client.Object,
	database stackv1alpha1.DatabaseServiceSpec,
	components ...Component,
) (*JobSpec, error) {
	ctx, span := monitoring.StartChildSpan(ctx, "JobComposer.Compose")
	defer span.End()
	logger := log.FromContext(ctx).WithValues("owner", owner.GetName())

	if err := validateComponents(components); err != nil {
		monitoring.RecordSpanError(span, err)
		return nil, err
	}

	vendor, err := schema.LookupVendor(database.Vendor)
	if err != nil {
		monitoring.RecordSpanError(span, err)
		return nil, err
	}

	plans, err := c.planSchemas(ctx, owner, database, vendor, components)
	if err != nil {
		monitoring.RecordSpanError(span, err)
		return nil, err
	}

	created, err := c.ensureSecrets(ctx, owner, plans)
	if err != nil {
		monitoring.RecordSpanError(span, err)
		return nil, err
	}

	job, err := c.buildJob(ctx, owner, database, components, plans)
	if err != nil {
		monitoring.RecordSpanError(span, err)
		return nil, err
	}
	job.Secrets = created
	job.HealthChecks = make(map[string]string)
	for _, comp := range ByCapability(components, DeclaresHealthCheck) {
		job.HealthChecks[comp.Qualifier] = comp.HealthCheckPath
	}
	job.Volumes = make(map[string]string)
	for _, comp := range ByCapability(components, DeclaresVolume) {
		job.Volumes[comp.Qualifier] = comp.VolumeMountPath
	}

	logger.V(1).Info("Composed job pod",
		"pod", job.Pod.Name,
		"initContainers", len(job.Pod.Spec.InitContainers),
		"schemas", job.SchemaCount())
	return job, nil
}

func validateComponents(components []Component) error {
	seen := make(map[string]bool, len(components))
	for _, comp := range components {
		if comp.Qualifier == "" {
			return fmt.Errorf("component without qualifier")
		}
		if seen[comp.Qualifier] {
			return fmt.Errorf("duplicate component %q", comp.Qualifier)
		}
		seen[comp.Qualifier] = true
		if comp.Has(DeclaresPopulationStep) && comp.Populate == nil {
			return fmt.Errorf("component %q declares a population step without Populate", comp.Qualifier)
		}
	}
	return nil
}

// planSchemas names every schema. Schemas with an existing secret claim its
// user name first; new names are then drawn around them.
func (c *Composer) planSchemas(
	ctx context.Context,
	owner client.Object,
	database stackv1alpha1.DatabaseServiceSpec,
	vendor schema.Vendor,
	components []Component,
) ([]*plannedSchema, error) {
	store := &secrets.Store{Client: c.Client}
	resource := owner.GetName()

	port := database.Port
	if port == 0 {
		port = vendor.DefaultPort
	}

	var ordered []*plannedSchema
	plans := make(map[string]*plannedSchema)
	for _, comp := range ByCapability(components, DeclaresSchemas) {
		for _, q := range comp.SchemaQualifiers {
			if q == "" {
				return nil, &schema.NamingConflictError{
					Resource: resource,
					Reason:   fmt.Sprintf("component %q declares an empty schema qualifier", comp.Qualifier),
				}
			}
			if other, ok := plans[q]; ok {
				return nil, &schema.NamingConflictError{
					Resource:  resource,
					Qualifier: q,
					Reason:    fmt.Sprintf("declared by both %q and %q", other.component, comp.Qualifier),
				}
			}

			secretName := schema.SecretName(resource, q)
			existing, err := store.Get(ctx, owner.GetNamespace(), secretName)
			if err != nil {
				return nil, err
			}
			p := &plannedSchema{
				component: comp.Qualifier,
				qualifier: q,
				existing:  existing,
				descriptor: schema.Descriptor{
					SecretName:   secretName,
					Vendor:       vendor.Name,
					Host:         database.Host,
					Port:         port,
					DatabaseName: database.DatabaseName,
				},
			}
			plans[q] = p
			ordered = append(ordered, p)
		}
	}

	taken := make(map[string]string)
	for _, p := range ordered {
		if p.existing == nil {
			continue
		}
		username := secrets.Username(p.existing)
		if username == "" {
			return nil, &schema.NamingConflictError{
				Resource:  resource,
				Qualifier: p.qualifier,
				Reason:    fmt.Sprintf("secret %q has no %s", p.descriptor.SecretName, secrets.UsernameKey),
			}
		}
		if other, ok := taken[username]; ok {
			return nil, &schema.NamingConflictError{
				Resource:  resource,
				Qualifier: p.qualifier,
				Reason:    fmt.Sprintf("schema name %q is already used by %q", username, other),
			}
		}
		taken[username] = p.qualifier
		p.descriptor.SchemaName = username
	}

	planner := &schema.Planner{Random: c.Random}
	for _, p := range ordered {
		if p.existing != nil {
			continue
		}
		schemaName, err := c.drawSchemaName(planner, resource, p.qualifier, vendor.MaxSchemaNameLength, taken)
		if err != nil {
			return nil, err
		}
		p.descriptor.SchemaName = schemaName
	}
	return ordered, nil
}

func (c *Composer) drawSchemaName(
	planner *schema.Planner,
	resource, qualifier string,
	maxLength int,
	taken map[string]string,
) (string, error) {
	var other string
	for range c.maxRedraws() + 1 {
		schemaName, err := planner.PlanSchemaName(resource, qualifier, maxLength)
		if err != nil {
			return "", err
		}
		var ok bool
		if other, ok = taken[schemaName]; !ok {
			taken[schemaName] = qualifier
			return schemaName, nil
		}
	}
	return "", &schema.NamingConflictError{
		Resource:  resource,
		Qualifier: qualifier,
		Reason: fmt.Sprintf("every candidate name collides with the schema of %q after %d attempts",
			other, c.maxRedraws()+1),
	}
}

// ensureSecrets creates the secrets of newly planned schemas. When another
// writer created a secret first, its user name is adopted.
func (c *Composer) ensureSecrets(
	ctx context.Context,
	owner client.Object,
	plans []*plannedSchema,
) ([]*corev1.Secret, error) {
	logger := log.FromContext(ctx)
	store := &secrets.Store{Client: c.Client}

	var out []*corev1.Secret
	for _, p := range plans {
		if p.existing != nil {
			out = append(out, p.existing)
			continue
		}
		secret, err := secrets.Generate(owner, c.Scheme, p.descriptor.SecretName, p.descriptor.SchemaName, c.Random)
		if err != nil {
			return nil, err
		}
		stored, created, err := store.CreateIfAbsent(ctx, secret)
		if err != nil {
			return nil, err
		}
		if created {
			monitoring.RecordSecretCreated(owner.GetNamespace())
			logger.Info("Created schema secret", "secret", stored.Name, "schema", p.descriptor.SchemaName)
		} else if username := secrets.Username(stored); username != "" {
			p.descriptor.SchemaName = username
		}
		out = append(out, stored)
	}
	return out, nil
}

// buildJob chains the init containers in component order and wraps them in
// the job pod. The pod carries the trace context of ctx in its annotations.
func (c *Composer) buildJob(
	ctx context.Context,
	owner client.Object,
	database stackv1alpha1.DatabaseServiceSpec,
	components []Component,
	plans []*plannedSchema,
) (*JobSpec, error) {
	byQualifier := make(map[string]*plannedSchema, len(plans))
	for _, p := range plans {
		byQualifier[p.qualifier] = p
	}
	resource := owner.GetName()
	resolver := c.resolver()
	used := map[string]bool{DummyContainerName: true}

	var initContainers []corev1.Container
	schemas := make(map[string]map[string]schema.Descriptor)
	for _, comp := range components {
		own := make(map[string]schema.Descriptor)
		if comp.Has(DeclaresSchemas) {
			for _, q := range comp.SchemaQualifiers {
				d := byQualifier[q].descriptor
				own[q] = d
				containerName, err := c.containerName(resource+"-"+q+"-"+schemaCreationSuffix, used)
				if err != nil {
					return nil, err
				}
				initContainers = append(initContainers,
					buildSchemaCreationContainer(containerName, database, d, c.ForcePasswordReset, resolver))
			}
			schemas[comp.Qualifier] = own
		}
		if comp.Has(DeclaresPopulationStep) {
			containerName, err := c.containerName(resource+"-"+comp.Qualifier+"-"+populationSuffix, used)
			if err != nil {
				return nil, err
			}
			initContainers = append(initContainers,
				buildPopulationContainer(containerName, comp.Populate(maps.Clone(own)), resolver))
		}
	}

	qualifier := c.qualifier()
	labels := c.JobLabels(resource)
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      JobPodName(resource, qualifier),
			Namespace: owner.GetNamespace(),
			Labels:    labels,
		},
		Spec: corev1.PodSpec{
			InitContainers: initContainers,
			Containers:     []corev1.Container{buildDummyContainer(resolver)},
			RestartPolicy:  corev1.RestartPolicyNever,
		},
	}
	annotations := map[string]string{}
	monitoring.InjectTraceContext(ctx, annotations)
	if len(annotations) > 0 {
		pod.Annotations = annotations
	}
	if err := controllerutil.SetControllerReference(owner, pod, c.Scheme); err != nil {
		return nil, fmt.Errorf("failed to set controller reference: %w", err)
	}

	return &JobSpec{
		Pod:     pod,
		Labels:  metadata.GetSelectorLabels(labels),
		Schemas: schemas,
	}, nil
}

// containerName sanitizes and shortens base to a container name not in used.
func (c *Composer) containerName(base string, used map[string]bool) (string, error) {
	base = name.Sanitize(base)
	for range c.maxRedraws() + 1 {
		n := name.Shorten63(base, c.Random)
		if !used[n] {
			used[n] = true
			return n, nil
		}
	}
	return "", fmt.Errorf("no unique container name for %q after %d attempts", base, c.maxRedraws()+1)
}

func (c *Composer) qualifier() string {
	if c.Qualifier == "" {
		return DefaultQualifier
	}
	return c.Qualifier
}

func (c *Composer) maxRedraws() int {
	if c.MaxRedraws <= 0 {
		return DefaultMaxRedraws
	}
	return c.MaxRedraws
}

func (c *Composer) resolver() images.Resolver {
	if c.Images == nil {
		return &images.RegistryResolver{}
	}
	return c.Images
}
