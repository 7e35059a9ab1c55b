package bluelink

import (
	"os"
	"path/filepath"
	"time"
)

// Config is the plain account session configuration. Loading it from
// file/env/flags is the CLI's business; the core only sees this struct.
type Config struct {
	Region string
	Brand  string

	// user-supplied oauth overrides
	ClientID     string
	ClientSecret string

	// seedable for pre-authorized flows
	RefreshToken string

	// pin gates actuation commands; optional for read-only use
	PIN string

	// stamp sources; defaults derive from brand and application id
	StampURL         string
	StampFallbackURL string
	CacheDir         string

	// status cache duration for the cached getters
	Cache time.Duration
}

const stampSource = "https://raw.githubusercontent.com/neoPix/bluelinky-stamps/master"

// withDefaults fills unset fields
func (c Config) withDefaults(endpoints Endpoints) Config {
	if c.Region == "" {
		c.Region = RegionEurope
	}
	if c.Brand == "" {
		c.Brand = BrandHyundai
	}
	if c.StampURL == "" {
		c.StampURL = stampSource + "/" + c.Brand + "-" + endpoints.OAuth.ApplicationID + ".v2.json"
	}
	if c.StampFallbackURL == "" {
		c.StampFallbackURL = stampSource + "/" + c.Brand + ".v2.json"
	}
	if c.CacheDir == "" {
		if dir, err := os.UserCacheDir(); err == nil {
			c.CacheDir = filepath.Join(dir, "bluelink")
		} else {
			c.CacheDir = filepath.Join(os.TempDir(), "bluelink")
		}
	}
	if c.Cache == 0 {
		c.Cache = time.Minute
	}
	return c
}
