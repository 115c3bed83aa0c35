package basedev

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileReadWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "base.img")
	if err := os.WriteFile(path, make([]byte, 1<<20), 0o600); err != nil {
		t.Fatalf("create backing file: %v", err)
	}

	dev, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer dev.Close()

	if dev.Size() != 1<<20 {
		t.Fatalf("Size() = %d, want %d", dev.Size(), int64(1<<20))
	}

	data := []byte("raid base device")
	if _, err := dev.WriteAt(data, 4096); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	readBuf := make([]byte, len(data))
	if _, err := dev.ReadAt(readBuf, 4096); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(readBuf) != string(data) {
		t.Fatalf("ReadAt got %q, want %q", readBuf, data)
	}

	if err := dev.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}
