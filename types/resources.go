package types

// Resource names understood by admission limits and resource_limit firebreaks.
const (
	ResourceMemoryMB    = "memory_mb"
	ResourceCPUCores    = "cpu_cores"
	ResourceNetworkMbps = "network_mbps"
	ResourceStorageMB   = "storage_mb"
	ResourceAPICalls    = "api_calls"
)

// ResourceNames lists the known resources in iteration order.
var ResourceNames = []string{
	ResourceMemoryMB,
	ResourceCPUCores,
	ResourceNetworkMbps,
	ResourceStorageMB,
	ResourceAPICalls,
}

// ResourceRequirements is a typed resource vector. Zero means "not requested"
// on a requirement and "unlimited" on a limit.
type ResourceRequirements struct {
	MemoryMB    float64 `json:"memory_mb,omitempty" yaml:"memory_mb"`
	CPUCores    float64 `json:"cpu_cores,omitempty" yaml:"cpu_cores"`
	NetworkMbps float64 `json:"network_mbps,omitempty" yaml:"network_mbps"`
	StorageMB   float64 `json:"storage_mb,omitempty" yaml:"storage_mb"`
	APICalls    float64 `json:"api_calls,omitempty" yaml:"api_calls"`
}

// Get returns the value for a named resource and whether the name is known.
func (r ResourceRequirements) Get(name string) (float64, bool) {
	switch name {
	case ResourceMemoryMB:
		return r.MemoryMB, true
	case ResourceCPUCores:
		return r.CPUCores, true
	case ResourceNetworkMbps:
		return r.NetworkMbps, true
	case ResourceStorageMB:
		return r.StorageMB, true
	case ResourceAPICalls:
		return r.APICalls, true
	default:
		return 0, false
	}
}

// Each calls fn for every non-zero resource in ResourceNames order.
func (r ResourceRequirements) Each(fn func(name string, value float64)) {
	for _, name := range ResourceNames {
		if v, _ := r.Get(name); v != 0 {
			fn(name, v)
		}
	}
}

// IsZero reports whether no resource is set.
func (r ResourceRequirements) IsZero() bool {
	return r == ResourceRequirements{}
}

// IsKnownResource reports whether name is a resource this package understands.
func IsKnownResource(name string) bool {
	_, ok := ResourceRequirements{}.Get(name)
	return ok
}
