package traefik

import "strings"

const (
	routerLabelPrefix = "traefik.http.routers."
	routerRuleSuffix  = ".rule"
)

// RouterRulesFromLabels extracts the router rules declared on a
// workload's labels, keyed by router name. Non-rule traefik labels are
// ignored.
func RouterRulesFromLabels(labels map[string]string) map[string]string {
	rules := make(map[string]string)
	for key, value := range labels {
		name := routerName(key)
		if name == "" || value == "" {
			continue
		}
		rules[name] = value
	}
	return rules
}

// routerName pulls the router name out of a label key shaped like
// "traefik.http.routers.<name>.rule", or returns empty.
func routerName(key string) string {
	if !strings.HasPrefix(key, routerLabelPrefix) || !strings.HasSuffix(key, routerRuleSuffix) {
		return ""
	}
	return strings.TrimSuffix(strings.TrimPrefix(key, routerLabelPrefix), routerRuleSuffix)
}
