package plugin

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"image"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/golang-lru/v2/expirable"

	verrors "vision-workbench/internal/errors"
	"vision-workbench/internal/metrics"
	"vision-workbench/internal/parameters"
)

// executeWith calls ExecuteContext when alg supports it.
func executeWith(ctx context.Context, alg Algorithm, img image.Image, values parameters.Values) (image.Image, error) {
	if c, ok := alg.(ContextualAlgorithm); ok {
		return c.ExecuteContext(ctx, img, values)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return alg.Execute(img, values)
}

// RetryAlgorithm re-runs a failing Execute with a constant delay between
// attempts. State and parameter errors are returned immediately.
type RetryAlgorithm struct {
	Algorithm
	attempts int
	delay    time.Duration
}

// WithRetry wraps alg so Execute is attempted up to attempts times.
func WithRetry(alg Algorithm, attempts int, delay time.Duration) *RetryAlgorithm {
	if attempts < 1 {
		attempts = 1
	}
	return &RetryAlgorithm{Algorithm: alg, attempts: attempts, delay: delay}
}

// Unwrap returns the decorated algorithm.
func (r *RetryAlgorithm) Unwrap() Algorithm { return r.Algorithm }

func (r *RetryAlgorithm) Execute(img image.Image, values parameters.Values) (image.Image, error) {
	return r.ExecuteContext(context.Background(), img, values)
}

func (r *RetryAlgorithm) ExecuteContext(ctx context.Context, img image.Image, values parameters.Values) (image.Image, error) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.delay), uint64(r.attempts-1)),
		ctx,
	)

	return backoff.RetryWithData(func() (image.Image, error) {
		out, err := executeWith(ctx, r.Algorithm, img, values)
		if err != nil && !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return out, err
	}, policy)
}

func retryable(err error) bool {
	switch verrors.ClassOf(err) {
	case verrors.ClassConfiguration, verrors.ClassState, verrors.ClassResolution:
		return false
	}
	return !verrors.Is(err, context.Canceled) && !verrors.Is(err, context.DeadlineExceeded)
}

// CachedAlgorithm memoizes Execute results keyed by a digest of the input
// pixels and the parameter values. Cached images are shared between callers
// and must not be modified.
type CachedAlgorithm struct {
	Algorithm
	cache   *expirable.LRU[string, image.Image]
	metrics *metrics.Metrics
}

// WithCache wraps alg with an LRU of size entries that expire after ttl.
func WithCache(alg Algorithm, size int, ttl time.Duration, mt *metrics.Metrics) *CachedAlgorithm {
	return &CachedAlgorithm{
		Algorithm: alg,
		cache:     expirable.NewLRU[string, image.Image](size, nil, ttl),
		metrics:   mt,
	}
}

// Unwrap returns the decorated algorithm.
func (c *CachedAlgorithm) Unwrap() Algorithm { return c.Algorithm }

func (c *CachedAlgorithm) Execute(img image.Image, values parameters.Values) (image.Image, error) {
	return c.ExecuteContext(context.Background(), img, values)
}

func (c *CachedAlgorithm) ExecuteContext(ctx context.Context, img image.Image, values parameters.Values) (image.Image, error) {
	id := c.Descriptor().ID
	if s := c.State(); s != StateRunning {
		return nil, verrors.New(component, "Execute", verrors.ErrInvalidState, "plugin %q is %s", id, s)
	}
	key, err := cacheKey(img, values)
	if err != nil {
		return executeWith(ctx, c.Algorithm, img, values)
	}

	if out, ok := c.cache.Get(key); ok {
		c.metrics.RecordCacheLookup(id, true)
		return out, nil
	}
	c.metrics.RecordCacheLookup(id, false)

	out, err := executeWith(ctx, c.Algorithm, img, values)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, out)
	return out, nil
}

// Purge drops every cached result.
func (c *CachedAlgorithm) Purge() {
	c.cache.Purge()
}

func (c *CachedAlgorithm) Len() int {
	return c.cache.Len()
}

func cacheKey(img image.Image, values parameters.Values) (string, error) {
	h := sha256.New()

	if img != nil {
		b := img.Bounds()
		var hdr [16]byte
		binary.LittleEndian.PutUint32(hdr[0:], uint32(b.Min.X))
		binary.LittleEndian.PutUint32(hdr[4:], uint32(b.Min.Y))
		binary.LittleEndian.PutUint32(hdr[8:], uint32(b.Dx()))
		binary.LittleEndian.PutUint32(hdr[12:], uint32(b.Dy()))
		h.Write(hdr[:])

		switch src := img.(type) {
		case *image.RGBA:
			h.Write([]byte("rgba"))
			h.Write(src.Pix)
		case *image.NRGBA:
			h.Write([]byte("nrgba"))
			h.Write(src.Pix)
		case *image.Gray:
			h.Write([]byte("gray"))
			h.Write(src.Pix)
		default:
			var px [8]byte
			for y := b.Min.Y; y < b.Max.Y; y++ {
				for x := b.Min.X; x < b.Max.X; x++ {
					r, g, bl, a := img.At(x, y).RGBA()
					binary.LittleEndian.PutUint16(px[0:], uint16(r))
					binary.LittleEndian.PutUint16(px[2:], uint16(g))
					binary.LittleEndian.PutUint16(px[4:], uint16(bl))
					binary.LittleEndian.PutUint16(px[6:], uint16(a))
					h.Write(px[:])
				}
			}
		}
	}

	encoded, err := parameters.EncodeValues(values)
	if err != nil {
		return "", err
	}
	// encoding/json sorts map keys, so equal values hash equally.
	data, err := json.Marshal(encoded)
	if err != nil {
		return "", err
	}
	h.Write(data)

	return hex.EncodeToString(h.Sum(nil)), nil
}

var (
	_ ContextualAlgorithm = (*RetryAlgorithm)(nil)
	_ ContextualAlgorithm = (*CachedAlgorithm)(nil)
)
