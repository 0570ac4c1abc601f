package images

import "testing"

func TestRegistryResolver(t *testing.T) {
	tests := map[string]struct {
		resolver RegistryResolver
		logical  string
		want     string
	}{
		"built-in default": {
			logical: DBJob,
			want:    "ghcr.io/numtide/dbjob:main",
		},
		"unknown logical name without registry": {
			logical: "populator",
			want:    "populator",
		},
		"registry with default tag": {
			resolver: RegistryResolver{Registry: "registry.example.com/stack/"},
			logical:  DBJob,
			want:     "registry.example.com/stack/dbjob:latest",
		},
		"registry with tag": {
			resolver: RegistryResolver{Registry: "registry.example.com", Tag: "v2"},
			logical:  Busybox,
			want:     "registry.example.com/busybox:v2",
		},
		"override wins over registry": {
			resolver: RegistryResolver{
				Registry:  "registry.example.com",
				Overrides: map[string]string{DBJob: "mirror.local/dbjob@sha256:abc"},
			},
			logical: DBJob,
			want:    "mirror.local/dbjob@sha256:abc",
		},
		"full reference is kept": {
			resolver: RegistryResolver{Registry: "registry.example.com"},
			logical:  "quay.io/acme/loader:1.0",
			want:     "quay.io/acme/loader:1.0",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if got := tc.resolver.DetermineImageURI(tc.logical); got != tc.want {
				t.Errorf("DetermineImageURI(%q) = %q, want %q", tc.logical, got, tc.want)
			}
		})
	}
}
