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
	"strconv"
	"strings"

	corev1 "k8s.io/api/core/v1"

	stackv1alpha1 "github.com/numtide/stack-operator/api/v1alpha1"
	"github.com/numtide/stack-operator/pkg/images"
	"github.com/numtide/stack-operator/pkg/schema"
	"github.com/numtide/stack-operator/pkg/secrets"
)

const (
	// DummyContainerName is the single regular container of a job pod. It
	// exits immediately once every init container has run.
	DummyContainerName = "dummy"

	// CreateSchemaCommand is the DATABASE_SCHEMA_COMMAND of schema creation
	// containers.
	CreateSchemaCommand = "CREATE_SCHEMA"

	schemaCreationSuffix = "schema-creation-job"
	populationSuffix     = "db-population-job"
)

// Environment of schema creation containers.
const (
	EnvServerHost         = "DATABASE_SERVER_HOST"
	EnvServerPort         = "DATABASE_SERVER_PORT"
	EnvAdminUser          = "DATABASE_ADMIN_USER"
	EnvAdminPassword      = "DATABASE_ADMIN_PASSWORD"
	EnvDatabaseName       = "DATABASE_NAME"
	EnvForcePasswordReset = "FORCE_PASSWORD_RESET"
	EnvVendor             = "DATABASE_VENDOR"
	EnvSchemaCommand      = "DATABASE_SCHEMA_COMMAND"
	EnvUser               = "DATABASE_USER"
	EnvPassword           = "DATABASE_PASSWORD"
	EnvTablespace         = "TABLESPACE"
	EnvJDBCParameters     = "JDBC_PARAMETERS"
)

// buildSchemaCreationContainer creates the init container that creates the
// schema described by d using the administrative credentials of database.
func buildSchemaCreationContainer(
	containerName string,
	database stackv1alpha1.DatabaseServiceSpec,
	d schema.Descriptor,
	forcePasswordReset string,
	resolver images.Resolver,
) corev1.Container {
	return corev1.Container{
		Name:            containerName,
		Image:           resolver.DetermineImageURI(images.DBJob),
		ImagePullPolicy: corev1.PullAlways,
		Env:             buildSchemaCreationEnv(database, d, forcePasswordReset),
	}
}

func buildSchemaCreationEnv(
	database stackv1alpha1.DatabaseServiceSpec,
	d schema.Descriptor,
	forcePasswordReset string,
) []corev1.EnvVar {
	env := []corev1.EnvVar{
		{Name: EnvServerHost, Value: d.Host},
		{Name: EnvServerPort, Value: strconv.Itoa(int(d.Port))},
		{
			Name:      EnvAdminUser,
			ValueFrom: secrets.KeyRef(database.AdminSecretName, secrets.UsernameKey),
		},
		{
			Name:      EnvAdminPassword,
			ValueFrom: secrets.KeyRef(database.AdminSecretName, secrets.PasswordKey),
		},
		{Name: EnvDatabaseName, Value: d.DatabaseName},
	}
	if forcePasswordReset != "" {
		env = append(env, corev1.EnvVar{Name: EnvForcePasswordReset, Value: forcePasswordReset})
	}
	env = append(env,
		corev1.EnvVar{Name: EnvVendor, Value: string(d.Vendor)},
		corev1.EnvVar{Name: EnvSchemaCommand, Value: CreateSchemaCommand},
		corev1.EnvVar{Name: EnvUser, ValueFrom: d.UsernameRef()},
		corev1.EnvVar{Name: EnvPassword, ValueFrom: d.PasswordRef()},
	)
	if database.Tablespace != "" {
		env = append(env, corev1.EnvVar{Name: EnvTablespace, Value: database.Tablespace})
	}
	if params := JDBCParameters(database.JDBCParameters); params != "" {
		env = append(env, corev1.EnvVar{Name: EnvJDBCParameters, Value: params})
	}
	return env
}

// JDBCParameters renders params as "k=v" pairs joined by "," with keys
// sorted.
func JDBCParameters(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	return strings.Join(pairs, ",")
}

// buildPopulationContainer creates the init container running a component's
// population step.
func buildPopulationContainer(
	containerName string,
	p Population,
	resolver images.Resolver,
) corev1.Container {
	return corev1.Container{
		Name:            containerName,
		Image:           resolver.DetermineImageURI(p.Image),
		ImagePullPolicy: corev1.PullAlways,
		Command:         p.Command,
		Env:             p.Env,
	}
}

// buildDummyContainer creates the regular container of a job pod.
func buildDummyContainer(resolver images.Resolver) corev1.Container {
	return corev1.Container{
		Name:  DummyContainerName,
		Image: resolver.DetermineImageURI(images.Busybox),
	}
}
