package romulator

import (
	"bytes"
	"context"

	"github.com/pkg/errors"
)

// BlockRetries is how many times an image block is attempted before the
// transfer is abandoned.
const BlockRetries = 3

// Progress is told how many bytes of an image have been transferred.
type Progress func(done, total int)

func checkImage(img []byte) error {
	if len(img) != ROMSize {
		return errors.Wrapf(ErrDataLen, "image is %d bytes, want %d", len(img), ROMSize)
	}
	return nil
}

func (r *Romulator) retryBlock(addr uint16, fn func() error) error {
	var err error
	for i := 1; i <= BlockRetries; i++ {
		if err = fn(); err == nil || !retryable(err) {
			return err
		}
		r.logger.Debugf("block 0x%04x attempt %d of %d failed: %v", addr, i, BlockRetries, err)
	}
	return errors.Wrapf(err, "block 0x%04x failed %d times", addr, BlockRetries)
}

// WriteImage uploads a full image block by block. Each block is retried
// on timeout or checksum failure; rewriting a block is always safe.
func (r *Romulator) WriteImage(ctx context.Context, img []byte, progress Progress) error {
	if err := checkImage(img); err != nil {
		return err
	}

	for off := 0; off < ROMSize; off += BlockSize {
		addr := uint16(off)
		block := img[off : off+BlockSize]
		err := r.retryBlock(addr, func() error {
			return r.WriteBuffer(ctx, addr, block)
		})
		if err != nil {
			return errors.Wrap(err, "writing image")
		}
		if progress != nil {
			progress(off+BlockSize, ROMSize)
		}
	}
	return nil
}

// ReadImage downloads a full image block by block.
func (r *Romulator) ReadImage(ctx context.Context, progress Progress) ([]byte, error) {
	img := make([]byte, 0, ROMSize)
	for off := 0; off < ROMSize; off += BlockSize {
		addr := uint16(off)
		var block []byte
		err := r.retryBlock(addr, func() error {
			var err error
			block, err = r.ReadBuffer(ctx, addr, BlockSize)
			return err
		})
		if err != nil {
			return nil, errors.Wrap(err, "reading image")
		}
		img = append(img, block...)
		if progress != nil {
			progress(len(img), ROMSize)
		}
	}
	return img, nil
}

// VerifyImage reads the device's image back and returns the addresses of
// the blocks that differ from img.
func (r *Romulator) VerifyImage(ctx context.Context, img []byte, progress Progress) ([]uint16, error) {
	if err := checkImage(img); err != nil {
		return nil, err
	}

	got, err := r.ReadImage(ctx, progress)
	if err != nil {
		return nil, errors.Wrap(err, "verifying image")
	}

	var mismatched []uint16
	for off := 0; off < ROMSize; off += BlockSize {
		if !bytes.Equal(got[off:off+BlockSize], img[off:off+BlockSize]) {
			mismatched = append(mismatched, uint16(off))
		}
	}
	return mismatched, nil
}
