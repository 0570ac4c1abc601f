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

// Package secrets generates credential secrets for schemas and creates them
// once per owner and name.
package secrets

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/apiutil"

	"github.com/numtide/stack-operator/pkg/util/metadata"
	"github.com/numtide/stack-operator/pkg/util/random"
)

const (
	// UsernameKey is the secret key holding the user name.
	UsernameKey = "username"

	// PasswordKey is the secret key holding the password.
	PasswordKey = "password"

	// PasswordLength is the number of characters in generated passwords.
	PasswordLength = 10
)

// Generate builds, without creating it, a credential secret named secretName
// in the owner's namespace. The password is PasswordLength random
// alphanumerics drawn from src. The secret carries a controller reference to
// owner and a "<Kind>=<owner name>" label.
func Generate(
	owner client.Object,
	scheme *runtime.Scheme,
	secretName string,
	username string,
	src random.Source,
) (*corev1.Secret, error) {
	gvk, err := apiutil.GVKForObject(owner, scheme)
	if err != nil {
		return nil, fmt.Errorf("failed to determine owner kind: %w", err)
	}

	labels := metadata.BuildStandardLabels(owner.GetName(), metadata.ComponentCredentials)
	metadata.AddTenantStackLabel(labels, owner.GetName())
	labels = metadata.MergeLabels(labels, metadata.OwnerKindLabel(gvk.Kind, owner.GetName()))

	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      secretName,
			Namespace: owner.GetNamespace(),
			Labels:    labels,
		},
		Type: corev1.SecretTypeOpaque,
		Data: map[string][]byte{
			UsernameKey: []byte(username),
			PasswordKey: []byte(random.Alphanumeric(src, PasswordLength)),
		},
	}

	if err := ctrl.SetControllerReference(owner, secret, scheme); err != nil {
		return nil, fmt.Errorf("failed to set controller reference: %w", err)
	}

	return secret, nil
}

// KeyRef returns an env var source reading key from the named secret.
func KeyRef(secretName, key string) *corev1.EnvVarSource {
	return &corev1.EnvVarSource{
		SecretKeyRef: &corev1.SecretKeySelector{
			LocalObjectReference: corev1.LocalObjectReference{Name: secretName},
			Key:                  key,
		},
	}
}

// Username returns the user name stored in secret.
func Username(secret *corev1.Secret) string {
	if secret == nil {
		return ""
	}
	if v, ok := secret.Data[UsernameKey]; ok {
		return string(v)
	}
	return secret.StringData[UsernameKey]
}

// Store reads and creates credential secrets.
type Store struct {
	Client client.Client
}

// Get returns the named secret, or nil when it does not exist.
func (s *Store) Get(ctx context.Context, namespace, name string) (*corev1.Secret, error) {
	secret := &corev1.Secret{}
	err := s.Client.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, secret)
	if apierrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s/%s: %w", namespace, name, err)
	}
	return secret, nil
}

// CreateIfAbsent creates secret unless a secret with the same namespace and
// name exists. Existing secrets are returned untouched, credentials are never
// rotated here. A concurrent creation is treated as success.
func (s *Store) CreateIfAbsent(
	ctx context.Context,
	secret *corev1.Secret,
) (*corev1.Secret, bool, error) {
	existing, err := s.Get(ctx, secret.Namespace, secret.Name)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	if err := s.Client.Create(ctx, secret); err != nil {
		if !apierrors.IsAlreadyExists(err) {
			return nil, false, fmt.Errorf(
				"failed to create secret %s/%s: %w", secret.Namespace, secret.Name, err)
		}
		existing, err := s.Get(ctx, secret.Namespace, secret.Name)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return secret, false, nil
		}
		return existing, false, nil
	}
	return secret, true, nil
}
