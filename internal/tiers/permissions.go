package tiers

// ServicePermission is one entry of the certificate's logical
// service-permission map (distinct from the docker image/service map):
// dashboard/analytics/reports/api/integrations/custom_modules/white_label/sso,
// each gated by a minimum tier.
type ServicePermission struct {
	Enabled      bool
	TierRequired Name
}

var allServicePermissions = []string{
	"dashboard", "analytics", "reports", "api",
	"integrations", "custom_modules", "white_label", "sso",
}

var minimumTierForService = map[string]Name{
	"dashboard":      Trial,
	"analytics":      Basic,
	"reports":        Basic,
	"api":            Pro,
	"integrations":   Pro,
	"custom_modules": Enterprise,
	"white_label":    Enterprise,
	"sso":            Enterprise,
}

var tierServiceAccess = map[Name][]string{
	Trial:      {"dashboard"},
	Basic:      {"dashboard", "analytics", "reports"},
	Pro:        {"dashboard", "analytics", "reports", "api", "integrations"},
	Enterprise: allServicePermissions,
}

// ServicePermissions returns the full logical service-permission map for a
// tier, keyed by service name.
func ServicePermissions(t Name) map[string]ServicePermission {
	enabled := make(map[string]bool)
	access, ok := tierServiceAccess[t]
	if !ok {
		access = tierServiceAccess[Trial]
	}
	for _, s := range access {
		enabled[s] = true
	}

	out := make(map[string]ServicePermission, len(allServicePermissions))
	for _, s := range allServicePermissions {
		required := minimumTierForService[s]
		if required == "" {
			required = Enterprise
		}
		out[s] = ServicePermission{Enabled: enabled[s], TierRequired: required}
	}
	return out
}

// FeatureFlag is one entry of the certificate's feature-flag map. Extra is
// the tier-specific sub-field payload (e.g. max_offline_days, rate_limit,
// sla_hours, formats) carried as a generic map so callers can marshal it
// directly into the certificate JSON without a union type per feature.
type FeatureFlag struct {
	Enabled bool
	Extra   map[string]any
}

// FeatureFlags builds the tier-derived feature-flag map.
func FeatureFlags(t Name) map[string]FeatureFlag {
	inSet := func(names ...Name) bool {
		for _, n := range names {
			if n == t {
				return true
			}
		}
		return false
	}

	maxOfflineDays := 0
	switch t {
	case Basic:
		maxOfflineDays = 7
	case Pro:
		maxOfflineDays = 30
	case Enterprise:
		maxOfflineDays = 90
	}

	apiRateLimit := -1
	if t == Pro {
		apiRateLimit = 5000
	}

	exportFormats := []string{"csv", "json", "xlsx"}
	if t == Basic {
		exportFormats = []string{"csv"}
	}

	autoUpdateChannel := "all"
	if t == Pro {
		autoUpdateChannel = "stable"
	}

	var slaHours any
	if t == Enterprise {
		slaHours = 4
	}

	return map[string]FeatureFlag{
		"offline_mode": {
			Enabled: inSet(Basic, Pro, Enterprise),
			Extra:   map[string]any{"max_offline_days": maxOfflineDays},
		},
		"auto_updates": {
			Enabled: inSet(Pro, Enterprise),
			Extra:   map[string]any{"channel": autoUpdateChannel},
		},
		"priority_support": {
			Enabled: t == Enterprise,
			Extra:   map[string]any{"sla_hours": slaHours},
		},
		"custom_branding": {
			Enabled: t == Enterprise,
			Extra:   map[string]any{},
		},
		"api_access": {
			Enabled: inSet(Pro, Enterprise),
			Extra:   map[string]any{"rate_limit": apiRateLimit},
		},
		"export_data": {
			Enabled: inSet(Basic, Pro, Enterprise),
			Extra:   map[string]any{"formats": exportFormats},
		},
	}
}
