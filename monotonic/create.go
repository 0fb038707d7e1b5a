package monotonic

import (
	"fmt"
	"strings"

	cerrors "github.com/cockroachdb/errors"
	"github.com/vkngwrapper/memres"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific buffer resource behaviors to activate or deactivate
type CreateFlags int32

const (
	// CreateInternallySynchronized guards the buffer resource with a mutex so that it can be shared between
	// goroutines. Without it, the consumer must guarantee that Allocate, Release and Close are called from
	// only one goroutine at a time.
	CreateInternallySynchronized CreateFlags = 1 << iota
)

var createFlagsMapping = map[CreateFlags]string{
	CreateInternallySynchronized: "CreateInternallySynchronized",
}

func (f CreateFlags) String() string {
	if f == 0 {
		return "None"
	}

	var names []string
	for i := 0; i < 31; i++ {
		bit := CreateFlags(1) << i
		if f&bit == 0 {
			continue
		}

		name, ok := createFlagsMapping[bit]
		if !ok {
			name = fmt.Sprintf("CreateFlags(%d)", int32(bit))
		}
		names = append(names, name)
	}

	return strings.Join(names, "|")
}

const (
	// DefaultInitialSize is the size of the first chunk requested from upstream when neither an initial
	// size nor an initial buffer is provided.
	DefaultInitialSize int = 1024
	// DefaultGrowthFactor is the factor each chunk size is multiplied by to get the size of the next one
	DefaultGrowthFactor int = 2
)

// CreateOptions contains optional settings when creating a BufferResource. It is valid to leave all
// the fields blank.
type CreateOptions struct {
	// Flags indicates specific buffer resource behaviors to activate or deactivate
	Flags CreateFlags
	// InitialSize is the size in bytes of the first chunk requested from upstream. If InitialBuffer is
	// provided, it is the size of the first chunk requested after the buffer runs out.
	InitialSize int
	// InitialBuffer is served from before anything is requested from upstream. The buffer remains owned
	// by the caller: Release never hands it to upstream, and it is reused after every Release.
	InitialBuffer []byte
	// GrowthFactor multiplies the size of each chunk to get the size of the next. It must be at least 2.
	GrowthFactor int
	// Logger receives debug traces of chunk acquisition and release. slog.Default() is used when nil.
	Logger *slog.Logger
}

func (o CreateOptions) validate() error {
	if o.InitialSize < 0 {
		return cerrors.Wrapf(memres.ErrContractViolation, "monotonic.CreateOptions.InitialSize is negative: %d", o.InitialSize)
	}
	if o.GrowthFactor < 0 || o.GrowthFactor == 1 {
		return cerrors.Wrapf(memres.ErrContractViolation, "monotonic.CreateOptions.GrowthFactor must be at least 2, but was %d", o.GrowthFactor)
	}
	return nil
}

// New creates a BufferResource that requests DefaultInitialSize bytes from upstream first. A nil
// upstream uses the default resource current at the time of the call.
func New(upstream memres.Resource) *BufferResource {
	return newBufferResource(upstream, CreateOptions{})
}

// NewWithSize creates a BufferResource whose first chunk from upstream is initialSize bytes. A
// non-positive initialSize uses DefaultInitialSize.
func NewWithSize(initialSize int, upstream memres.Resource) *BufferResource {
	if initialSize < 0 {
		initialSize = 0
	}
	return newBufferResource(upstream, CreateOptions{InitialSize: initialSize})
}

// NewWithBuffer creates a BufferResource that serves from buffer until it is exhausted and from upstream
// afterwards. The buffer is never returned to upstream.
func NewWithBuffer(buffer []byte, upstream memres.Resource) *BufferResource {
	return newBufferResource(upstream, CreateOptions{InitialBuffer: buffer})
}

// NewWithOptions creates a BufferResource from upstream and options, returning an error if the options
// are invalid.
func NewWithOptions(upstream memres.Resource, options CreateOptions) (*BufferResource, error) {
	if err := options.validate(); err != nil {
		return nil, err
	}
	return newBufferResource(upstream, options), nil
}

func newBufferResource(upstream memres.Resource, options CreateOptions) *BufferResource {
	if upstream == nil {
		upstream = memres.GetDefault()
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	growthFactor := options.GrowthFactor
	if growthFactor == 0 {
		growthFactor = DefaultGrowthFactor
	}

	r := &BufferResource{
		logger:       logger,
		flags:        options.Flags,
		upstream:     upstream,
		growthFactor: growthFactor,
	}
	r.mutex.Synchronize(options.Flags&CreateInternallySynchronized != 0)

	if len(options.InitialBuffer) > 0 {
		r.initialBuffer = options.InitialBuffer
	}

	switch {
	case options.InitialSize > 0:
		r.initialNextSize = options.InitialSize
	case r.initialBuffer != nil:
		r.initialNextSize = r.grow(len(r.initialBuffer))
	default:
		r.initialNextSize = DefaultInitialSize
	}

	r.reset()
	return r
}
