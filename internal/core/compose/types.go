package compose

// =============================================================================
// Watch Targets
// =============================================================================

// Label keys read from compose services.
const (
	// LabelEnable set to "false" excludes a service from monitoring.
	LabelEnable = "watchdog.enable"
	// LabelContainer overrides the container name watched for a service.
	LabelContainer = "watchdog.container"
)

// WatchTarget is one container discovered from a compose file.
type WatchTarget struct {
	Service   string            `json:"service" yaml:"service"`
	Container string            `json:"container" yaml:"container"`
	Restart   string            `json:"restart,omitempty" yaml:"restart,omitempty"`
	Labels    map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
	// HasHealthcheck is true when the service defines an enabled healthcheck,
	// i.e. health_status events are expected for it.
	HasHealthcheck bool `json:"has_healthcheck" yaml:"has_healthcheck"`
}

// ContainerNames returns the container names of targets, in order.
func ContainerNames(targets []WatchTarget) []string {
	names := make([]string, 0, len(targets))
	for _, t := range targets {
		names = append(names, t.Container)
	}
	return names
}
