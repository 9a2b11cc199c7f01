package compose

import (
	"context"
	"regexp"
	"slices"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// DefaultProjectName is used when neither the file nor the caller names the project.
const DefaultProjectName = "app"

var invalidProjectChars = regexp.MustCompile(`[^a-z0-9_-]+`)

// =============================================================================
// Parser Functions
// =============================================================================

// ParseWatchTargets discovers the containers to watch from Docker Compose YAML.
// This is a pure function - no I/O, no side effects.
// projectName is the fallback for a file without a top-level name (usually
// the directory holding the file). Services labelled watchdog.enable=false
// are skipped. Targets are sorted by service name.
func ParseWatchTargets(yamlContent, projectName string) ([]WatchTarget, error) {
	// Input validation
	if strings.TrimSpace(yamlContent) == "" {
		return nil, ErrEmptyInput
	}

	fallback := NormalizeProjectName(projectName)
	project, err := loadComposeSpec(yamlContent, fallback)
	if err != nil {
		return nil, err
	}
	name := project.Name
	if name == "" {
		name = fallback
	}

	if len(project.Services) == 0 {
		return nil, ErrNoServices
	}

	targets := make([]WatchTarget, 0, len(project.Services))
	for _, svc := range project.Services {
		if !enabled(svc.Labels) {
			continue
		}
		targets = append(targets, convertService(name, svc))
	}

	if len(targets) == 0 {
		return nil, ErrNoTargets
	}

	slices.SortFunc(targets, func(a, b WatchTarget) int {
		return strings.Compare(a.Service, b.Service)
	})
	return targets, nil
}

// NormalizeProjectName lowercases name and drops characters compose does not
// allow in project names.
func NormalizeProjectName(name string) string {
	name = invalidProjectChars.ReplaceAllString(strings.ToLower(name), "")
	name = strings.TrimLeft(name, "-_")
	if name == "" {
		return DefaultProjectName
	}
	return name
}

// ContainerName returns the name compose gives the first replica of a service.
func ContainerName(project, service string) string {
	return project + "-" + service + "-1"
}

// loadComposeSpec loads a compose spec using compose-go
func loadComposeSpec(yamlContent, projectName string) (*types.Project, error) {
	// Parse YAML into a map first
	var dict map[string]interface{}
	if err := yaml.Unmarshal([]byte(yamlContent), &dict); err != nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}

	// Check if it's a valid object
	if dict == nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}

	// Load the project
	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{
				Content: []byte(yamlContent),
				Config:  dict,
			},
		},
	}, func(opts *loader.Options) {
		opts.SetProjectName(projectName, false)
		opts.SkipValidation = false
		opts.SkipInterpolation = false
		// Don't resolve paths since we're in-memory
		opts.SkipNormalization = true
		opts.SkipExtends = true // Don't try to load external files
	})
	if err != nil {
		return nil, NewParseError("", err.Error(), ErrInvalidYAML)
	}

	return project, nil
}

// convertService converts a compose-go service to a watch target
func convertService(project string, svc types.ServiceConfig) WatchTarget {
	target := WatchTarget{
		Service:        svc.Name,
		Container:      svc.ContainerName,
		Restart:        svc.Restart,
		Labels:         make(map[string]string, len(svc.Labels)),
		HasHealthcheck: svc.HealthCheck != nil && !svc.HealthCheck.Disable,
	}

	for k, v := range svc.Labels {
		target.Labels[k] = v
	}

	if override := strings.TrimSpace(svc.Labels[LabelContainer]); override != "" {
		target.Container = override
	}
	if target.Container == "" {
		target.Container = ContainerName(project, svc.Name)
	}
	return target
}

func enabled(labels types.Labels) bool {
	v, ok := labels[LabelEnable]
	if !ok {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "false", "0", "no", "off":
		return false
	}
	return true
}
