package cache

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Fetcher produces a fresh value for a cache key.
type Fetcher[T any] func(ctx context.Context) (T, error)

// Fetch returns the value for key, applying stale-while-revalidate:
//
//   - a fresh entry is returned as-is, with no fetch;
//   - a stale-but-unexpired entry is returned immediately while a
//     background refresh updates the store for later reads;
//   - anything else is fetched synchronously and stored.
//
// When the synchronous fetch fails and any entry exists, even an expired
// one, the cached value is returned instead of the error. Background
// refresh failures are logged and dropped; the caller already got a value.
//
// Concurrent calls for the same key share a single in-flight fetch.
func Fetch[T any](ctx context.Context, s *Store, key string, opts Options, fn Fetcher[T]) (T, error) {
	var zero T
	if key == "" {
		return zero, ErrInvalidKey
	}
	if opts.TTL < 0 {
		return zero, ErrInvalidTTL
	}

	st := s.lookup(key, opts.MaxAge)
	cached, hit := st.data.(T)
	hit = hit && st.found

	if hit && !st.expired {
		if !st.stale {
			return cached, nil
		}
		if !opts.NoRevalidate {
			bg := context.WithoutCancel(ctx)
			go func() {
				if _, err := refresh(bg, s, key, opts, fn); err != nil {
					logrus.Errorf("Background revalidation of %s failed: %v", key, err)
				}
			}()
			return cached, nil
		}
	}

	v, err := refresh(ctx, s, key, opts, fn)
	if err != nil {
		if hit {
			logrus.Debugf("Fetch of %s failed, serving cached value: %v", key, err)
			return cached, nil
		}
		return zero, err
	}
	return v, nil
}

// refresh runs fn through the store's singleflight group and stores the
// result on success.
func refresh[T any](ctx context.Context, s *Store, key string, opts Options, fn Fetcher[T]) (T, error) {
	v, err, _ := s.sf.Do(key, func() (any, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.Set(key, v, opts); err != nil {
			return nil, err
		}
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
