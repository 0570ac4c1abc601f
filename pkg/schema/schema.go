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

// Package schema plans the names of database schemas and of the secrets that
// hold their credentials.
package schema

import (
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"

	stackv1alpha1 "github.com/numtide/stack-operator/api/v1alpha1"
	"github.com/numtide/stack-operator/pkg/secrets"
	"github.com/numtide/stack-operator/pkg/util/name"
	"github.com/numtide/stack-operator/pkg/util/random"
)

// MinSchemaNameLength is the smallest maximum length a schema name can be
// planned for: one character of the base name and the discriminator.
const MinSchemaNameLength = 1 + name.DiscriminatorLength

// NamingConflictError reports that no acceptable schema name could be planned.
type NamingConflictError struct {
	Resource  string
	Qualifier string
	Reason    string
}

func (e *NamingConflictError) Error() string {
	return fmt.Sprintf("cannot name schema %q of %q: %s", e.Qualifier, e.Resource, e.Reason)
}

// Descriptor describes one planned schema and where to reach it.
type Descriptor struct {
	SchemaName   string
	SecretName   string
	Vendor       stackv1alpha1.DatabaseVendor
	Host         string
	Port         int32
	DatabaseName string
}

// UsernameRef reads the schema user name from its secret.
func (d Descriptor) UsernameRef() *corev1.EnvVarSource {
	return secrets.KeyRef(d.SecretName, secrets.UsernameKey)
}

// PasswordRef reads the schema password from its secret.
func (d Descriptor) PasswordRef() *corev1.EnvVarSource {
	return secrets.KeyRef(d.SecretName, secrets.PasswordKey)
}

// Planner plans schema names. The zero value draws discriminators from
// random.Default.
type Planner struct {
	Random random.Source
}

// PlanSchemaName returns snake(resourceName)_qualifier in lower case. When
// that exceeds maxLength it is cut to maxLength-3 characters and three random
// digits are appended.
func (p *Planner) PlanSchemaName(resourceName, qualifier string, maxLength int) (string, error) {
	if maxLength < MinSchemaNameLength {
		return "", &NamingConflictError{
			Resource:  resourceName,
			Qualifier: qualifier,
			Reason: fmt.Sprintf("maximum length %d is below %d",
				maxLength, MinSchemaNameLength),
		}
	}
	if resourceName == "" || qualifier == "" {
		return "", &NamingConflictError{
			Resource:  resourceName,
			Qualifier: qualifier,
			Reason:    "resource name and qualifier must not be empty",
		}
	}

	base := strings.ToLower(name.Snake(resourceName) + "_" + name.Snake(qualifier))
	return name.Shorten(base, maxLength, name.DiscriminatorLength, p.Random), nil
}

// SecretName returns the name of the secret holding the credentials of the
// qualifier's schema. It is deterministic so that an existing secret is found
// again on later runs.
func SecretName(resourceName, qualifier string) string {
	return name.Fit(resourceName+"-"+qualifier+"-secret", name.MaxObjectNameLength)
}
