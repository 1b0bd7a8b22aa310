package firmware

import (
	"errors"
	"fmt"
	"sync"
)

// BlockSize is the fixed transfer unit of the OTA protocol.
const BlockSize = 16

// maxBlocks keeps the block count representable in the u16 wire field.
const maxBlocks = 0xFFFF

var (
	ErrEmptyImage           = errors.New("empty firmware image")
	ErrImageTooLarge        = errors.New("firmware image too large")
	ErrImageInUse           = errors.New("firmware image in use by an active update")
	ErrUnknownFirmware      = errors.New("unknown firmware")
	ErrBlockIndexOutOfRange = errors.New("block index out of range")
)

type Key struct {
	Type    uint16
	Version uint16
}

type Image struct {
	Type       uint16
	Version    uint16
	BlockCount uint16
	Crc        uint16
	data       []byte // padded to a BlockSize multiple
}

type Info struct {
	Type       uint16 `json:"firmware_type"`
	Version    uint16 `json:"firmware_version"`
	BlockCount uint16 `json:"blocks"`
	Crc        uint16 `json:"crc"`
}

// UsageChecker reports whether any non-terminal update session references
// the given firmware key. Injected by the orchestrator so the repository
// stays free of session bookkeeping.
type UsageChecker func(fwType, fwVersion uint16) bool

// Repository holds parsed firmware images keyed by (type, version).
// Reads vastly outnumber uploads, hence the RWMutex.
type Repository struct {
	images map[Key]*Image
	inUse  UsageChecker
	mux    sync.RWMutex
}

func NewRepository() *Repository {
	return &Repository{
		images: make(map[Key]*Image),
	}
}

// SetUsageChecker attaches the session-usage callback, nil disables the check.
func (r *Repository) SetUsageChecker(checker UsageChecker) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.inUse = checker
}

// Upload parses hexText, splits it into zero-padded blocks and stores the
// image, replacing any previous image with the same key. Replacement is
// refused while an active session still serves the old image.
func (r *Repository) Upload(fwType, fwVersion uint16, hexText string) (blockCount uint16, crc uint16, err error) {
	raw, err := ParseHex(hexText)
	if err != nil {
		return 0, 0, err
	}
	if len(raw) == 0 {
		return 0, 0, ErrEmptyImage
	}
	blocks := (len(raw) + BlockSize - 1) / BlockSize
	if blocks > maxBlocks {
		return 0, 0, fmt.Errorf("%d blocks: %w", blocks, ErrImageTooLarge)
	}

	padded := make([]byte, blocks*BlockSize)
	copy(padded, raw)

	// the usage checker walks per-node session locks whose holders read from
	// this repository, so it must never run under r.mux
	key := Key{Type: fwType, Version: fwVersion}
	r.mux.RLock()
	_, exists := r.images[key]
	inUse := r.inUse
	r.mux.RUnlock()
	if exists && inUse != nil && inUse(fwType, fwVersion) {
		return 0, 0, ErrImageInUse
	}

	r.mux.Lock()
	defer r.mux.Unlock()
	image := &Image{
		Type:       fwType,
		Version:    fwVersion,
		BlockCount: uint16(blocks),
		Crc:        Crc16(padded),
		data:       padded,
	}
	r.images[key] = image
	return image.BlockCount, image.Crc, nil
}

// GetBlock returns the 16 bytes of the given block index.
func (r *Repository) GetBlock(fwType, fwVersion, index uint16) ([]byte, error) {
	r.mux.RLock()
	defer r.mux.RUnlock()
	image, ok := r.images[Key{Type: fwType, Version: fwVersion}]
	if !ok {
		return nil, fmt.Errorf("type %d version %d: %w", fwType, fwVersion, ErrUnknownFirmware)
	}
	if index >= image.BlockCount {
		return nil, fmt.Errorf("block %d of %d: %w", index, image.BlockCount, ErrBlockIndexOutOfRange)
	}
	start := int(index) * BlockSize
	block := make([]byte, BlockSize)
	copy(block, image.data[start:start+BlockSize])
	return block, nil
}

// Describe returns block count and checksum for a stored image.
func (r *Repository) Describe(fwType, fwVersion uint16) (blockCount uint16, crc uint16, err error) {
	r.mux.RLock()
	defer r.mux.RUnlock()
	image, ok := r.images[Key{Type: fwType, Version: fwVersion}]
	if !ok {
		return 0, 0, fmt.Errorf("type %d version %d: %w", fwType, fwVersion, ErrUnknownFirmware)
	}
	return image.BlockCount, image.Crc, nil
}

// Delete removes a stored image. Refused while an active session still
// serves it.
func (r *Repository) Delete(fwType, fwVersion uint16) error {
	key := Key{Type: fwType, Version: fwVersion}
	r.mux.RLock()
	_, ok := r.images[key]
	inUse := r.inUse
	r.mux.RUnlock()
	if !ok {
		return fmt.Errorf("type %d version %d: %w", fwType, fwVersion, ErrUnknownFirmware)
	}
	// same ordering rule as Upload: the checker runs outside r.mux
	if inUse != nil && inUse(fwType, fwVersion) {
		return ErrImageInUse
	}
	r.mux.Lock()
	defer r.mux.Unlock()
	delete(r.images, key)
	return nil
}

// ListAvailable enumerates stored images for the scheduling API.
func (r *Repository) ListAvailable() []Info {
	r.mux.RLock()
	defer r.mux.RUnlock()
	list := make([]Info, 0, len(r.images))
	for _, image := range r.images {
		list = append(list, Info{
			Type:       image.Type,
			Version:    image.Version,
			BlockCount: image.BlockCount,
			Crc:        image.Crc,
		})
	}
	return list
}
