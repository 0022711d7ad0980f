// Package sandbox implements the sandbox execution core: resource limit
// presets, a container driver wrapping the Docker engine API, and an
// executor orchestrating one disposable, confined run of user-submitted
// code.
package sandbox

// ResourceLimits is a strongly-typed bundle of the confinement parameters
// applied to one execution container.
type ResourceLimits struct {
	MemoryBytes    int64 // memory and memory+swap, swap disabled
	CPUQuota       int64 // hundred-thousandths of a CPU-second per 100ms period
	PIDsLimit      int64
	TimeoutSecs    int
	MaxOutputBytes int
	NetworkEnabled bool
}

const cpuPeriod = 100000

// DefaultLimits is the preset used when a caller does not name one
// explicitly: 256MiB / 50% CPU / 64 PIDs / 30s / 1MiB output / no network.
func DefaultLimits() ResourceLimits {
	return ResourceLimits{
		MemoryBytes:    256 * 1024 * 1024,
		CPUQuota:       cpuPeriod / 2,
		PIDsLimit:      64,
		TimeoutSecs:    30,
		MaxOutputBytes: 1 * 1024 * 1024,
		NetworkEnabled: false,
	}
}

// SnippetLimits is the tight preset for short, untrusted code fragments:
// 128MiB / 25% CPU / 32 PIDs / 10s / 64KiB output / no network.
func SnippetLimits() ResourceLimits {
	return ResourceLimits{
		MemoryBytes:    128 * 1024 * 1024,
		CPUQuota:       cpuPeriod / 4,
		PIDsLimit:      32,
		TimeoutSecs:    10,
		MaxOutputBytes: 64 * 1024,
		NetworkEnabled: false,
	}
}

// ProjectLimits is the generous preset for full project runs: 1GiB / 100%
// CPU / 256 PIDs / 300s / 10MiB output / network attached.
func ProjectLimits() ResourceLimits {
	return ResourceLimits{
		MemoryBytes:    1024 * 1024 * 1024,
		CPUQuota:       cpuPeriod,
		PIDsLimit:      256,
		TimeoutSecs:    300,
		MaxOutputBytes: 10 * 1024 * 1024,
		NetworkEnabled: true,
	}
}
