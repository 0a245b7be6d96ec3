package config

import "testing"

func TestResolveHostForDocker_RemoteHostsPassThrough(t *testing.T) {
	// Non-localhost hosts are never rewritten regardless of environment.
	hosts := []string{"db.example.com", "192.168.1.100", "host.docker.internal"}

	for _, host := range hosts {
		if got := ResolveHostForDocker(host); got != host {
			t.Errorf("ResolveHostForDocker(%q) = %q, want unchanged", host, got)
		}
	}
}

func TestResolveHostForDocker_LocalhostVariants(t *testing.T) {
	// The rewrite only applies inside a container, so the expectation
	// depends on where the tests run.
	for _, host := range []string{"localhost", "127.0.0.1"} {
		got := ResolveHostForDocker(host)
		if IsRunningInDocker() {
			if got != "host.docker.internal" {
				t.Errorf("ResolveHostForDocker(%q) in Docker = %q, want host.docker.internal", host, got)
			}
		} else if got != host {
			t.Errorf("ResolveHostForDocker(%q) outside Docker = %q, want unchanged", host, got)
		}
	}
}

func TestIsRunningInDocker_Stable(t *testing.T) {
	// The cached result never flips within a process.
	first := IsRunningInDocker()
	for i := 0; i < 3; i++ {
		if IsRunningInDocker() != first {
			t.Fatal("IsRunningInDocker() changed between calls")
		}
	}
}
