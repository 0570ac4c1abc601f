package jobcomposer

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	corev1 "k8s.io/api/core/v1"

	"github.com/numtide/stack-operator/pkg/schema"
	"github.com/numtide/stack-operator/pkg/secrets"
)

func TestByCapability(t *testing.T) {
	t.Parallel()

	components := []Component{
		{Qualifier: "server", Capabilities: []Capability{DeclaresSchemas, DeclaresVolume}},
		{Qualifier: "web", Capabilities: []Capability{DeclaresHealthCheck}},
		{Qualifier: "app", Capabilities: []Capability{DeclaresVolume}},
	}

	tests := map[string]struct {
		capability Capability
		want       []string
	}{
		"schemas":         {capability: DeclaresSchemas, want: []string{"server"}},
		"volume in order": {capability: DeclaresVolume, want: []string{"server", "app"}},
		"health check":    {capability: DeclaresHealthCheck, want: []string{"web"}},
		"none":            {capability: DeclaresPopulationStep, want: nil},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			var got []string
			for _, c := range ByCapability(components, tc.capability) {
				got = append(got, c.Qualifier)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("ByCapability mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSchemaEnv(t *testing.T) {
	t.Parallel()

	schemas := map[string]schema.Descriptor{
		"servdb":     {SchemaName: "shop_servdb", SecretName: "shop-servdb-secret"},
		"port-db.v2": {SchemaName: "shop_port_db_v2", SecretName: "shop-port-db.v2-secret"},
	}

	want := []corev1.EnvVar{
		{Name: "PORT_DB_V2_SCHEMA", Value: "shop_port_db_v2"},
		{Name: "PORT_DB_V2_USER", ValueFrom: secrets.KeyRef("shop-port-db.v2-secret", secrets.UsernameKey)},
		{Name: "PORT_DB_V2_PASSWORD", ValueFrom: secrets.KeyRef("shop-port-db.v2-secret", secrets.PasswordKey)},
		{Name: "SERVDB_SCHEMA", Value: "shop_servdb"},
		{Name: "SERVDB_USER", ValueFrom: secrets.KeyRef("shop-servdb-secret", secrets.UsernameKey)},
		{Name: "SERVDB_PASSWORD", ValueFrom: secrets.KeyRef("shop-servdb-secret", secrets.PasswordKey)},
	}
	if diff := cmp.Diff(want, SchemaEnv(schemas)); diff != "" {
		t.Errorf("SchemaEnv mismatch (-want +got):\n%s", diff)
	}
}

func TestJDBCParameters(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		params map[string]string
		want   string
	}{
		"nil":    {params: nil, want: ""},
		"single": {params: map[string]string{"sslmode": "require"}, want: "sslmode=require"},
		"sorted": {
			params: map[string]string{"z": "1", "a": "2", "m": "3"},
			want:   "a=2,m=3,z=1",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if got := JDBCParameters(tc.params); got != tc.want {
				t.Errorf("JDBCParameters() = %q, want %q", got, tc.want)
			}
		})
	}
}
