package testutil

import (
	"context"
	"fmt"

	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	stackv1alpha1 "github.com/numtide/stack-operator/api/v1alpha1"
)

// FailureConfig configures when the fake client should return errors.
// Each field is a function that receives the object/key and returns an error if the operation should fail.
type FailureConfig struct {
	// OnGet is called before Get operations. Return non-nil to fail the operation.
	OnGet func(key client.ObjectKey) error

	// OnList is called before List operations. Return non-nil to fail the operation.
	OnList func(list client.ObjectList) error

	// OnWatch is called before Watch operations. Return non-nil to fail the operation.
	OnWatch func(list client.ObjectList) error

	// OnCreate is called before Create operations. Return non-nil to fail the operation.
	OnCreate func(obj client.Object) error

	// OnDelete is called before Delete operations. Return non-nil to fail the operation.
	OnDelete func(obj client.Object) error

	// OnDeleteAllOf is called before DeleteAllOf operations. Return non-nil to fail the operation.
	OnDeleteAllOf func(obj client.Object) error

	// OnStatusUpdate is called before Status().Update() operations. Return non-nil to fail the operation.
	OnStatusUpdate func(obj client.Object) error

	// AfterCreate is called after a successful Create with the underlying
	// client, e.g. to start a fake kubelet.
	AfterCreate func(c client.WithWatch, obj client.Object)
}

// NewScheme returns a scheme with the built-in types and the stack API.
func NewScheme() *runtime.Scheme {
	scheme := runtime.NewScheme()
	if err := clientgoscheme.AddToScheme(scheme); err != nil {
		panic(fmt.Sprintf("failed to add client-go types: %v", err))
	}
	if err := stackv1alpha1.AddToScheme(scheme); err != nil {
		panic(fmt.Sprintf("failed to add stack types: %v", err))
	}
	return scheme
}

// NewFakeClient creates a fake client holding objs that can be configured
// to fail operations. Pod and TenantStack status are subresources and must
// be written with Status().Update.
func NewFakeClient(
	scheme *runtime.Scheme,
	config *FailureConfig,
	objs ...client.Object,
) client.WithWatch {
	builder := fake.NewClientBuilder().
		WithScheme(scheme).
		WithObjects(objs...).
		WithStatusSubresource(&stackv1alpha1.TenantStack{})
	if config != nil {
		builder = builder.WithInterceptorFuncs(config.funcs())
	}
	return builder.Build()
}

func (cfg *FailureConfig) funcs() interceptor.Funcs {
	return interceptor.Funcs{
		Get: func(
			ctx context.Context,
			c client.WithWatch,
			key client.ObjectKey,
			obj client.Object,
			opts ...client.GetOption,
		) error {
			if cfg.OnGet != nil {
				if err := cfg.OnGet(key); err != nil {
					return err
				}
			}
			return c.Get(ctx, key, obj, opts...)
		},
		List: func(
			ctx context.Context,
			c client.WithWatch,
			list client.ObjectList,
			opts ...client.ListOption,
		) error {
			if cfg.OnList != nil {
				if err := cfg.OnList(list); err != nil {
					return err
				}
			}
			return c.List(ctx, list, opts...)
		},
		Watch: func(
			ctx context.Context,
			c client.WithWatch,
			list client.ObjectList,
			opts ...client.ListOption,
		) (watch.Interface, error) {
			if cfg.OnWatch != nil {
				if err := cfg.OnWatch(list); err != nil {
					return nil, err
				}
			}
			return c.Watch(ctx, list, opts...)
		},
		Create: func(
			ctx context.Context,
			c client.WithWatch,
			obj client.Object,
			opts ...client.CreateOption,
		) error {
			if cfg.OnCreate != nil {
				if err := cfg.OnCreate(obj); err != nil {
					return err
				}
			}
			if err := c.Create(ctx, obj, opts...); err != nil {
				return err
			}
			if cfg.AfterCreate != nil {
				cfg.AfterCreate(c, obj)
			}
			return nil
		},
		Delete: func(
			ctx context.Context,
			c client.WithWatch,
			obj client.Object,
			opts ...client.DeleteOption,
		) error {
			if cfg.OnDelete != nil {
				if err := cfg.OnDelete(obj); err != nil {
					return err
				}
			}
			return c.Delete(ctx, obj, opts...)
		},
		DeleteAllOf: func(
			ctx context.Context,
			c client.WithWatch,
			obj client.Object,
			opts ...client.DeleteAllOfOption,
		) error {
			if cfg.OnDeleteAllOf != nil {
				if err := cfg.OnDeleteAllOf(obj); err != nil {
					return err
				}
			}
			return c.DeleteAllOf(ctx, obj, opts...)
		},
		SubResourceUpdate: func(
			ctx context.Context,
			c client.Client,
			subResourceName string,
			obj client.Object,
			opts ...client.SubResourceUpdateOption,
		) error {
			if subResourceName == "status" && cfg.OnStatusUpdate != nil {
				if err := cfg.OnStatusUpdate(obj); err != nil {
					return err
				}
			}
			return c.SubResource(subResourceName).Update(ctx, obj, opts...)
		},
	}
}

// Helper functions for common failure scenarios

// FailOnObjectName returns an error if the object name matches.
func FailOnObjectName(name string, err error) func(client.Object) error {
	return func(obj client.Object) error {
		if obj.GetName() == name {
			return err
		}
		return nil
	}
}

// FailOnKeyName returns an error if the key name matches.
func FailOnKeyName(name string, err error) func(client.ObjectKey) error {
	return func(key client.ObjectKey) error {
		if key.Name == name {
			return err
		}
		return nil
	}
}

// FailObjAfterNCalls returns an Object failure function that fails after N successful calls.
func FailObjAfterNCalls(n int, err error) func(client.Object) error {
	count := 0
	return func(client.Object) error {
		count++
		if count > n {
			return err
		}
		return nil
	}
}

// FailListAfterNCalls returns an ObjectList failure function that fails after N successful calls.
// Use for OnList and OnWatch.
func FailListAfterNCalls(n int, err error) func(client.ObjectList) error {
	count := 0
	return func(client.ObjectList) error {
		count++
		if count > n {
			return err
		}
		return nil
	}
}

// Common errors for testing
var (
	ErrInjected        = fmt.Errorf("injected test error")
	ErrPermissionError = fmt.Errorf("permission denied")
)
