// Package tiers holds the authoritative tier tables the Issuer ships with:
// machine quotas, validity windows, docker service maps, logical service
// permissions, and feature flags, restated as Go value tables rather than
// translated line-by-line from any single source format.
package tiers

// Name is a tier tag. "custom" exists for customers whose quota/validity
// was overridden at creation time and no longer matches any named tier.
type Name string

const (
	Trial      Name = "trial"
	Basic      Name = "basic"
	Pro        Name = "pro"
	Enterprise Name = "enterprise"
	Custom     Name = "custom"
)

// Limits carries a tier's default machine quota and validity window.
type Limits struct {
	MaxMachines         int
	ValidDays           int
	ConcurrentSessions  int // -1 means unlimited
	APIRateLimitPerHour int // -1 means unlimited
}

// DockerServiceDef describes one of the four known container services.
type DockerServiceDef struct {
	Image         string
	DefaultTag    string
	ContainerPort int
	HostPort      int
	Required      bool
	Description   string
}

var tierLimits = map[Name]Limits{
	Trial:      {MaxMachines: 1, ValidDays: 14, ConcurrentSessions: 1, APIRateLimitPerHour: 100},
	Basic:      {MaxMachines: 3, ValidDays: 365, ConcurrentSessions: 5, APIRateLimitPerHour: 1000},
	Pro:        {MaxMachines: 10, ValidDays: 365, ConcurrentSessions: 20, APIRateLimitPerHour: 5000},
	Enterprise: {MaxMachines: 100, ValidDays: 365, ConcurrentSessions: -1, APIRateLimitPerHour: -1},
}

var dockerServices = map[string]DockerServiceDef{
	"frontend":   {Image: "nainovate/nia-frontend", DefaultTag: "v3.0", ContainerPort: 3005, HostPort: 3005, Required: true, Description: "AI Dashboard Frontend"},
	"backend":    {Image: "nainovate/ai-dashboard-backend", DefaultTag: "license", ContainerPort: 8000, HostPort: 8000, Required: false, Description: "AI Dashboard Backend API"},
	"analytics":  {Image: "nainovate/ai-dashboard-analytics", DefaultTag: "latest", ContainerPort: 9000, HostPort: 9000, Required: false, Description: "Analytics Engine"},
	"monitoring": {Image: "nainovate/ai-dashboard-monitoring", DefaultTag: "latest", ContainerPort: 9090, HostPort: 9090, Required: false, Description: "Monitoring Service"},
}

// dockerServiceOrder fixes iteration order for deterministic cert building.
var dockerServiceOrder = []string{"frontend", "backend", "analytics", "monitoring"}

var allowedDockerServices = map[Name][]string{
	Trial:      {"frontend"},
	Basic:      {"frontend", "backend"},
	Pro:        {"frontend", "backend", "analytics"},
	Enterprise: {"frontend", "backend", "analytics", "monitoring"},
}

// LimitsFor returns the tier's default quota/validity table, falling back
// to Basic's table for an unrecognized or "custom" tier name.
func LimitsFor(t Name) Limits {
	if l, ok := tierLimits[t]; ok {
		return l
	}
	return tierLimits[Basic]
}

// AllowedDockerServices returns the default enabled docker-service set for
// a tier, falling back to {"frontend"} for an unknown tier.
func AllowedDockerServices(t Name) []string {
	if s, ok := allowedDockerServices[t]; ok {
		out := make([]string, len(s))
		copy(out, s)
		return out
	}
	return []string{"frontend"}
}

// DockerServiceDefs returns the fixed-order catalogue of all known docker
// services, regardless of tier. Callers mark enabled/disabled per-service
// against a tier's AllowedDockerServices.
func DockerServiceDefs() (order []string, defs map[string]DockerServiceDef) {
	return dockerServiceOrder, dockerServices
}
