package model

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// PreloadedDecoder serves textures decoded ahead of time and falls back to its
// underlying decoder for anything else.
type PreloadedDecoder struct {
	fallback ImageDecoder

	lock     sync.Mutex
	textures map[string]*Texture
	failures map[string]error
}

func (d *PreloadedDecoder) Decode(path string) (*Texture, error) {
	d.lock.Lock()
	texture, ok := d.textures[path]
	failure := d.failures[path]
	d.lock.Unlock()

	if ok {
		return texture, nil
	}
	if failure != nil {
		return nil, failure
	}
	return d.fallback.Decode(path)
}

func (d *PreloadedDecoder) Len() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return len(d.textures)
}

// PreloadTextures decodes paths in parallel, running at most limit decodes at
// once (limit <= 0 means no limit). A decode failure is recorded and returned
// again when the path is requested; it does not stop the other decodes. Only
// cancellation of ctx is returned as an error.
func PreloadTextures(ctx context.Context, decoder ImageDecoder, paths []string, limit int) (*PreloadedDecoder, error) {
	preloaded := &PreloadedDecoder{
		fallback: decoder,
		textures: make(map[string]*Texture),
		failures: make(map[string]error),
	}

	group, groupCtx := errgroup.WithContext(ctx)
	if limit > 0 {
		group.SetLimit(limit)
	}

	for _, path := range paths {
		path := path
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}

			texture, err := decoder.Decode(path)

			preloaded.lock.Lock()
			defer preloaded.lock.Unlock()
			if err != nil {
				preloaded.failures[path] = err
				return nil
			}
			preloaded.textures[path] = texture
			return nil
		})
	}

	err := group.Wait()
	if err != nil {
		return nil, errors.Wrap(err, "preload textures")
	}

	return preloaded, nil
}
