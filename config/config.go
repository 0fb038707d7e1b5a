// Package config reads memres tuning from the environment.
//
//	MEMRES_INITIAL_CHUNK_SIZE  size of the first chunk a monotonic buffer requests (default 1024)
//	MEMRES_GROWTH_FACTOR       factor each monotonic chunk grows by (default 2)
//	MEMRES_SYNCHRONIZED        create monotonic buffers with an internal mutex (default false)
//	MEMRES_DEFAULT_RESOURCE    newdelete, null or pages (default newdelete)
package config

import (
	"strings"

	cerrors "github.com/cockroachdb/errors"
	"github.com/kelseyhightower/envconfig"
	"github.com/vkngwrapper/memres"
	"github.com/vkngwrapper/memres/monotonic"
	"github.com/vkngwrapper/memres/pages"
	"golang.org/x/exp/slog"
)

// Prefix is the prefix of every environment variable read by Load
const Prefix = "MEMRES"

const (
	ResourceNewDelete = "newdelete"
	ResourceNull      = "null"
	ResourcePages     = "pages"
)

// Settings are the values read from the environment
type Settings struct {
	InitialChunkSize int    `envconfig:"INITIAL_CHUNK_SIZE" default:"1024"`
	GrowthFactor     int    `envconfig:"GROWTH_FACTOR" default:"2"`
	Synchronized     bool   `envconfig:"SYNCHRONIZED" default:"false"`
	DefaultResource  string `envconfig:"DEFAULT_RESOURCE" default:"newdelete"`
}

// Load reads Settings from the environment and validates them
func Load() (Settings, error) {
	var settings Settings
	if err := envconfig.Process(Prefix, &settings); err != nil {
		return Settings{}, cerrors.Wrap(err, "could not read memres settings from the environment")
	}

	settings.DefaultResource = strings.ToLower(strings.TrimSpace(settings.DefaultResource))
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// Validate reports settings that cannot be used
func (s Settings) Validate() error {
	if s.InitialChunkSize <= 0 {
		return cerrors.Newf("%s_INITIAL_CHUNK_SIZE must be positive, but was %d", Prefix, s.InitialChunkSize)
	}
	if s.GrowthFactor < 2 {
		return cerrors.Newf("%s_GROWTH_FACTOR must be at least 2, but was %d", Prefix, s.GrowthFactor)
	}

	switch s.DefaultResource {
	case ResourceNewDelete, ResourceNull, ResourcePages:
		return nil
	default:
		return cerrors.Newf("%s_DEFAULT_RESOURCE must be one of %s, %s or %s, but was %q",
			Prefix, ResourceNewDelete, ResourceNull, ResourcePages, s.DefaultResource)
	}
}

// MonotonicOptions returns the options monotonic buffers should be created with
func (s Settings) MonotonicOptions(logger *slog.Logger) monotonic.CreateOptions {
	options := monotonic.CreateOptions{
		InitialSize:  s.InitialChunkSize,
		GrowthFactor: s.GrowthFactor,
		Logger:       logger,
	}
	if s.Synchronized {
		options.Flags |= monotonic.CreateInternallySynchronized
	}
	return options
}

// Resource returns the resource named by DefaultResource. The pages resource is created anew on each call.
func (s Settings) Resource(logger *slog.Logger) (memres.Resource, error) {
	switch s.DefaultResource {
	case ResourceNewDelete, "":
		return memres.NewDelete(), nil
	case ResourceNull:
		return memres.Null(), nil
	case ResourcePages:
		return pages.New(logger), nil
	default:
		return nil, cerrors.Newf("unknown resource %q", s.DefaultResource)
	}
}

// InstallDefault makes the resource named by DefaultResource the process default and returns the
// previous default
func (s Settings) InstallDefault(logger *slog.Logger) (memres.Resource, error) {
	resource, err := s.Resource(logger)
	if err != nil {
		return nil, err
	}
	return memres.SetDefault(resource), nil
}
