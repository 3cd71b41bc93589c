package render

import (
	"bytes"
	"encoding/binary"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"golang.org/x/exp/slog"
)

const pipelineCacheHeaderVersionOne = 1

// pipelineCacheHeader is the fixed prefix of the data returned by
// vkGetPipelineCacheData.
type pipelineCacheHeader struct {
	HeaderLength uint32
	Version      uint32
	VendorID     uint32
	DeviceID     uint32
	CacheUUID    uuid.UUID
}

const pipelineCacheHeaderSize = 16 + 16

// validateCacheData reports whether data was produced by a device matching the
// given identity.
func validateCacheData(data []byte, vendorID, deviceID uint32, cacheUUID uuid.UUID) error {
	var header pipelineCacheHeader
	err := binary.Read(bytes.NewReader(data), common.ByteOrder, &header)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "read pipeline cache header"), ErrStaleCache)
	}

	switch {
	case header.HeaderLength < pipelineCacheHeaderSize || int(header.HeaderLength) > len(data):
		return errors.Wrapf(ErrStaleCache, "bad header length %d", header.HeaderLength)
	case header.Version != pipelineCacheHeaderVersionOne:
		return errors.Wrapf(ErrStaleCache, "unsupported header version %d", header.Version)
	case header.VendorID != vendorID:
		return errors.Wrapf(ErrStaleCache, "vendor 0x%x, device reports 0x%x", header.VendorID, vendorID)
	case header.DeviceID != deviceID:
		return errors.Wrapf(ErrStaleCache, "device 0x%x, device reports 0x%x", header.DeviceID, deviceID)
	case header.CacheUUID != cacheUUID:
		return errors.Wrapf(ErrStaleCache, "cache id %s, driver expects %s", header.CacheUUID, cacheUUID)
	}

	return nil
}

// loadPipelineCacheData reads the cache file at path. A missing or stale file yields
// nil data so the driver starts from an empty cache.
func (r *Renderer) loadPipelineCacheData(path string) []byte {
	if path == "" {
		return nil
	}

	data, err := r.opts.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		r.logger.Info("pipeline cache miss", slog.String("path", path))
		return nil
	} else if err != nil {
		r.logger.Warn("could not read pipeline cache", slog.String("path", path), slog.Any("error", err))
		return nil
	}

	props := r.ctx.Properties()
	err = validateCacheData(data, props.VendorID, props.DeviceID, props.PipelineCacheUUID)
	if err != nil {
		r.logger.Info("discarding pipeline cache", slog.String("path", path), slog.Any("reason", err))
		// not important if this fails
		_ = os.Remove(path)
		return nil
	}

	return data
}

func (r *Renderer) createPipelineCache() error {
	var err error
	r.pipelineCache, _, err = r.ctx.Device().CreatePipelineCache(nil, core1_0.PipelineCacheCreateInfo{
		InitialData: r.loadPipelineCacheData(r.opts.PipelineCachePath),
	})
	return errors.Wrap(err, "create pipeline cache")
}

// savePipelineCache writes the cache back to disk. Failures are logged only.
func (r *Renderer) savePipelineCache() {
	if r.opts.PipelineCachePath == "" || !r.pipelineCache.Initialized() {
		return
	}

	data, _, err := r.ctx.Device().GetPipelineCacheData(r.pipelineCache)
	if err != nil {
		r.logger.Warn("could not fetch pipeline cache data", slog.Any("error", err))
		return
	}

	err = os.WriteFile(r.opts.PipelineCachePath, data, 0o666)
	if err != nil {
		r.logger.Warn("could not write pipeline cache", slog.String("path", r.opts.PipelineCachePath), slog.Any("error", err))
		return
	}

	r.logger.Debug("pipeline cache written", slog.String("path", r.opts.PipelineCachePath), slog.Int("bytes", len(data)))
}
