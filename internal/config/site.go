package config

import (
	"encoding/json"
	"maps"
)

// SiteConfig holds crawl overrides for a single domain.
type SiteConfig struct {
	// Cookie is sent with every anonymous HTTP request to this site.
	// Format: "name=value" or "name1=value1; name2=value2"
	Cookie string `yaml:"cookie,omitempty"`

	// Headers are extra HTTP headers sent to this site.
	Headers map[string]string `yaml:"headers,omitempty"`

	// Depth overrides the max depth. Zero keeps the global value.
	Depth int `yaml:"depth,omitempty"`

	// MaxPages overrides the page limit. Zero keeps the global value.
	MaxPages int `yaml:"maxPages,omitempty"`

	// IgnorePatterns are glob patterns of paths to skip.
	IgnorePatterns []string `yaml:"ignorePatterns,omitempty"`

	// FollowPatterns restrict traversal to matching paths when set.
	FollowPatterns []string `yaml:"followPatterns,omitempty"`

	// RouteFamilies names extra route-guess families for this site,
	// for example "lms" or "cms".
	RouteFamilies []string `yaml:"routeFamilies,omitempty"`

	// Auth is an inline auth configuration with the same shape as the
	// JSON accepted by --auth-config. It is decoded by the auth package.
	Auth map[string]any `yaml:"auth,omitempty"`
}

// AuthJSON returns the Auth block encoded as JSON, or nil when absent.
func (s SiteConfig) AuthJSON() ([]byte, error) {
	if len(s.Auth) == 0 {
		return nil, nil
	}
	return json.Marshal(s.Auth)
}

// File represents the structure of the .a11ycrawl configuration file.
type File struct {
	// Sites maps host names (without scheme) to their configuration.
	Sites map[string]SiteConfig `yaml:"sites,omitempty"`

	// Defaults apply to every site unless overridden.
	Defaults SiteConfig `yaml:"defaults,omitempty"`
}

// GetSiteConfig returns the configuration for host merged over the defaults.
// An auth block is never inherited from defaults: credentials belong to one domain.
func (cf *File) GetSiteConfig(host string) SiteConfig {
	result := cf.Defaults
	result.Auth = nil
	if cf.Defaults.Headers != nil {
		result.Headers = maps.Clone(cf.Defaults.Headers)
	}

	siteConfig, ok := cf.Sites[host]
	if !ok {
		return result
	}
	if siteConfig.Cookie != "" {
		result.Cookie = siteConfig.Cookie
	}
	if siteConfig.Depth != 0 {
		result.Depth = siteConfig.Depth
	}
	if siteConfig.MaxPages != 0 {
		result.MaxPages = siteConfig.MaxPages
	}
	if len(siteConfig.Headers) > 0 {
		if result.Headers == nil {
			result.Headers = make(map[string]string)
		}
		maps.Copy(result.Headers, siteConfig.Headers)
	}
	if len(siteConfig.IgnorePatterns) > 0 {
		result.IgnorePatterns = siteConfig.IgnorePatterns
	}
	if len(siteConfig.FollowPatterns) > 0 {
		result.FollowPatterns = siteConfig.FollowPatterns
	}
	if len(siteConfig.RouteFamilies) > 0 {
		result.RouteFamilies = siteConfig.RouteFamilies
	}
	result.Auth = siteConfig.Auth
	return result
}
