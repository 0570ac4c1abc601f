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

// Package v1alpha1 defines the API types for the Stack Operator.
//
// This package contains the Go type definitions for the Custom Resources in the
// stack.numtide.com API group.
//
// # Custom Resources
//
//   - TenantStack: a per-tenant application stack. It names the shared database
//     service the stack uses and the dependent components that need database
//     schemas provisioned before their service pods can start.
//
// # Resource Hierarchy
//
//	TenantStack
//	├── Secret (one per requested schema, generated credentials)
//	└── Pod (database preparation job, one init container per step)
//
// Everything the operator creates carries a controller owner reference to the
// TenantStack, so deleting the TenantStack cascades to all of it.
//
// # Versioning
//
// This is the v1alpha1 version, indicating the API is in early development
// and may change in backward-incompatible ways.
package v1alpha1
