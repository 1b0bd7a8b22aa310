package firmware

import (
	"bytes"
	"errors"
	"testing"
)

func TestUploadPadsFinalBlock(t *testing.T) {
	repo := NewRepository()

	blocks, crc, err := repo.Upload(1, 2, buildImage(17))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if blocks != 2 {
		t.Fatalf("Upload() blocks = %d, want 2", blocks)
	}

	padded := make([]byte, 32)
	for i := 0; i < 17; i++ {
		padded[i] = byte(i)
	}
	if want := Crc16(padded); crc != want {
		t.Errorf("Upload() crc = 0x%04X, want 0x%04X", crc, want)
	}

	block, err := repo.GetBlock(1, 2, 1)
	if err != nil {
		t.Fatalf("GetBlock() error = %v", err)
	}
	want := append([]byte{16}, make([]byte, 15)...)
	if !bytes.Equal(block, want) {
		t.Errorf("GetBlock(1) = %x, want %x", block, want)
	}
}

func TestUploadExactBlockNotPadded(t *testing.T) {
	repo := NewRepository()
	blocks, _, err := repo.Upload(1, 1, buildImage(32))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if blocks != 2 {
		t.Errorf("Upload() blocks = %d, want 2", blocks)
	}
}

func TestUploadEmptyImage(t *testing.T) {
	repo := NewRepository()
	_, _, err := repo.Upload(1, 1, eofRecord+"\n")
	if !errors.Is(err, ErrEmptyImage) {
		t.Errorf("Upload() error = %v, want %v", err, ErrEmptyImage)
	}
}

func TestUploadInUse(t *testing.T) {
	repo := NewRepository()
	if _, _, err := repo.Upload(1, 2, buildImage(17)); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	active := true
	repo.SetUsageChecker(func(fwType, fwVersion uint16) bool {
		return active && fwType == 1 && fwVersion == 2
	})

	if _, _, err := repo.Upload(1, 2, buildImage(33)); !errors.Is(err, ErrImageInUse) {
		t.Fatalf("Upload() error = %v, want %v", err, ErrImageInUse)
	}
	// a different key is not blocked
	if _, _, err := repo.Upload(1, 3, buildImage(33)); err != nil {
		t.Fatalf("Upload() other version error = %v", err)
	}

	// session finished, overwrite allowed again
	active = false
	blocks, _, err := repo.Upload(1, 2, buildImage(33))
	if err != nil {
		t.Fatalf("Upload() after release error = %v", err)
	}
	if blocks != 3 {
		t.Errorf("Upload() blocks = %d, want 3", blocks)
	}
}

func TestDelete(t *testing.T) {
	repo := NewRepository()
	if _, _, err := repo.Upload(1, 2, buildImage(17)); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	active := true
	repo.SetUsageChecker(func(fwType, fwVersion uint16) bool {
		return active
	})
	if err := repo.Delete(1, 2); !errors.Is(err, ErrImageInUse) {
		t.Fatalf("Delete() error = %v, want %v", err, ErrImageInUse)
	}

	active = false
	if err := repo.Delete(1, 2); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := repo.Delete(1, 2); !errors.Is(err, ErrUnknownFirmware) {
		t.Errorf("Delete() repeated error = %v, want %v", err, ErrUnknownFirmware)
	}
	if _, _, err := repo.Describe(1, 2); !errors.Is(err, ErrUnknownFirmware) {
		t.Errorf("Describe() after delete error = %v, want %v", err, ErrUnknownFirmware)
	}
}

func TestGetBlockErrors(t *testing.T) {
	repo := NewRepository()
	if _, _, err := repo.Upload(1, 2, buildImage(17)); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	if _, err := repo.GetBlock(9, 9, 0); !errors.Is(err, ErrUnknownFirmware) {
		t.Errorf("GetBlock(unknown) error = %v, want %v", err, ErrUnknownFirmware)
	}
	if _, err := repo.GetBlock(1, 2, 2); !errors.Is(err, ErrBlockIndexOutOfRange) {
		t.Errorf("GetBlock(2) error = %v, want %v", err, ErrBlockIndexOutOfRange)
	}
}

func TestDescribeAndList(t *testing.T) {
	repo := NewRepository()
	if _, _, err := repo.Upload(1, 2, buildImage(17)); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	blocks, crc, err := repo.Describe(1, 2)
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if blocks != 2 || crc == 0 {
		t.Errorf("Describe() = (%d, 0x%04X)", blocks, crc)
	}

	if _, _, err = repo.Describe(9, 9); !errors.Is(err, ErrUnknownFirmware) {
		t.Errorf("Describe(unknown) error = %v, want %v", err, ErrUnknownFirmware)
	}

	list := repo.ListAvailable()
	if len(list) != 1 {
		t.Fatalf("ListAvailable() length = %d, want 1", len(list))
	}
	if list[0].Type != 1 || list[0].Version != 2 || list[0].BlockCount != 2 || list[0].Crc != crc {
		t.Errorf("ListAvailable()[0] = %+v", list[0])
	}
}
