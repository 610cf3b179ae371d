package rediskey

import "fmt"

// Alert cache keys (shared convention between API and worker).
const (
	AlertStatsPrefix = "alerts:stats"
	UsagePrefix      = "usage:report"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildAlertStatsKey returns "alerts:stats:{orgID}"
func BuildAlertStatsKey(orgID string) string {
	return NamespaceKey(AlertStatsPrefix, orgID)
}

// BuildUsageReportKey returns "usage:report:{orgID}:{period}"
func BuildUsageReportKey(orgID, period string) string {
	return NamespaceKey(UsagePrefix, fmt.Sprintf("%s:%s", orgID, period))
}
