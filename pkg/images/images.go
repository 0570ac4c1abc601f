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

// Package images maps logical image names used by job composition to
// pullable image references.
//
// When resolving a logical name the RegistryResolver applies the following
// precedence (highest to lowest):
//
//  1. Overrides (a full reference configured for that logical name).
//  2. Registry (the logical name and tag under a configured registry).
//  3. Built-in defaults.
package images

import (
	"strings"
)

const (
	// DBJob is the logical name of the schema creation tool.
	DBJob = "dbjob"

	// Busybox is the logical name of the image running the terminal no-op
	// container of job pods.
	Busybox = "busybox"

	// DefaultTag is appended to logical names resolved under a registry.
	DefaultTag = "latest"
)

// Defaults are the references used when neither an override nor a registry
// is configured.
var Defaults = map[string]string{
	DBJob:   "ghcr.io/numtide/dbjob:main",
	Busybox: "docker.io/library/busybox:1.37",
}

// Resolver turns a logical image name into a registry URI.
type Resolver interface {
	DetermineImageURI(logical string) string
}

// RegistryResolver is the Resolver used by the operator.
type RegistryResolver struct {
	// Registry, when set, hosts every logical image without an override.
	Registry string
	// Tag used with Registry. Defaults to DefaultTag.
	Tag string
	// Overrides maps logical names to full references.
	Overrides map[string]string
}

// DetermineImageURI implements Resolver. Logical names that already look like
// references (containing '/' or ':') and have no override are returned as is.
func (r *RegistryResolver) DetermineImageURI(logical string) string {
	if ref, ok := r.Overrides[logical]; ok && ref != "" {
		return ref
	}
	if strings.ContainsAny(logical, "/:") {
		return logical
	}
	if r.Registry != "" {
		tag := r.Tag
		if tag == "" {
			tag = DefaultTag
		}
		return strings.TrimSuffix(r.Registry, "/") + "/" + logical + ":" + tag
	}
	if ref, ok := Defaults[logical]; ok {
		return ref
	}
	return logical
}
