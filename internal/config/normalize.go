package config

import "strings"

// normalizeConfig normalizes configuration values.
func normalizeConfig(c *Config) {
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Server.Mode = strings.ToLower(strings.TrimSpace(c.Server.Mode))
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.Alert.Discord.APIBase = strings.TrimRight(c.Alert.Discord.APIBase, "/")
	c.Reports.Email.SenderEmail = strings.TrimSpace(c.Reports.Email.SenderEmail)

	if c.Reports.PremiumRecentLogs < c.Reports.RecentLogs {
		c.Reports.PremiumRecentLogs = c.Reports.RecentLogs
	}
}
