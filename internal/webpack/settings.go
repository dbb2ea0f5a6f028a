package webpack

import "path/filepath"

// DefaultServiceName is the name the compiler service registers under on the host.
const DefaultServiceName = "webpack"

// Settings is the read-only configuration consumed by the compiler pipeline.
// It is resolved once at startup and never mutated afterwards.
type Settings struct {
	// BundleRoot is the absolute directory bundles are written beneath
	BundleRoot string
	// BundleURL is the public URL prefix BundleRoot is served from, e.g. "/static/"
	BundleURL string
	// BundleDir is the sub directory of BundleRoot holding emitted assets
	BundleDir string

	WatchConfigFiles bool
	WatchSourceFiles bool
	OutputFullStats  bool

	ServiceName string
}

// Validate checks the settings that must be present before any I/O happens.
func (s Settings) Validate() error {
	if s.BundleRoot == "" {
		return &ConfigurationError{
			Setting: "BundleRoot",
			Message: "Please specify a directory to place bundles into",
		}
	}
	if s.BundleURL == "" {
		return &ConfigurationError{
			Setting: "BundleURL",
			Message: "Please specify the url that bundles will be served from",
		}
	}
	return nil
}

// BundleDirPath is the absolute output directory, BundleRoot joined with BundleDir.
func (s Settings) BundleDirPath() string {
	return filepath.Join(s.BundleRoot, s.BundleDir)
}

func (s Settings) serviceName() string {
	if s.ServiceName == "" {
		return DefaultServiceName
	}
	return s.ServiceName
}
