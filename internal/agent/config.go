// Package agent wires the cache lifecycle, request router and audio
// pipeline into the background caching agent the page talks to.
package agent

import "time"

// Config contains agent configuration. Values come from the config
// file and flags, with environment overrides via the env tags.
type Config struct {
	// ListenAddr is the local address the agent serves the page on.
	ListenAddr string `env:"VOXPROXY_LISTEN" envDefault:"127.0.0.1:8913"`

	// UpstreamURL is the chat application origin requests proxy to.
	UpstreamURL string `env:"VOXPROXY_UPSTREAM"`

	// RealtimeURL is the websocket endpoint of the realtime channel.
	// Empty disables the audio pipeline.
	RealtimeURL string `env:"VOXPROXY_REALTIME_URL"`

	// ManifestPath points at the install manifest, an ordered JSON
	// list of asset paths.
	ManifestPath string `env:"VOXPROXY_MANIFEST"`

	// CacheDir is where store generations live on disk.
	CacheDir string `env:"VOXPROXY_CACHE_DIR"`

	// BypassPrefixes are path prefixes never served from the store.
	BypassPrefixes []string

	// CompressionLevel is the zstd level for stored bodies; zero
	// disables compression.
	CompressionLevel int `env:"VOXPROXY_COMPRESSION" envDefault:"3"`

	// InstallRatePerSecond throttles manifest fetches during install.
	InstallRatePerSecond int

	// AudioEnabled controls whether chunks go to a real audio device.
	AudioEnabled bool `env:"VOXPROXY_AUDIO" envDefault:"true"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration
}
