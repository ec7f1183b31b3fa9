package audio

import (
	"testing"
)

func TestRingBuffer_Write(t *testing.T) {
	rb := NewRingBuffer(10)

	data := []byte{1, 2, 3, 4, 5}
	written := rb.Write(data)
	if written != 5 {
		t.Errorf("Expected to write 5 bytes, got %d", written)
	}
	if rb.Available() != 5 {
		t.Errorf("Expected available 5, got %d", rb.Available())
	}

	written = rb.Write([]byte{6, 7, 8})
	if written != 3 {
		t.Errorf("Expected to write 3 bytes, got %d", written)
	}
	if rb.Available() != 8 {
		t.Errorf("Expected available 8, got %d", rb.Available())
	}
}

func TestRingBuffer_WriteOverflow(t *testing.T) {
	rb := NewRingBuffer(5)

	// Capacity is size-1 to avoid full/empty ambiguity
	rb.Write([]byte{1, 2, 3, 4})
	if !rb.IsFull() {
		t.Error("Expected buffer to be full after writing size-1 bytes")
	}

	written := rb.Write([]byte{5, 6})
	if written != 0 {
		t.Errorf("Expected to write 0 bytes to full buffer, got %d", written)
	}
	if rb.Available() != 4 {
		t.Errorf("Expected available 4 after overflow, got %d", rb.Available())
	}
}

func TestRingBuffer_Read(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Write([]byte{1, 2, 3, 4, 5})

	readBuf := make([]byte, 3)
	read := rb.Read(readBuf)
	if read != 3 {
		t.Errorf("Expected to read 3 bytes, got %d", read)
	}
	if readBuf[0] != 1 || readBuf[1] != 2 || readBuf[2] != 3 {
		t.Errorf("Read incorrect data: %v", readBuf)
	}
	if rb.Available() != 2 {
		t.Errorf("Expected available 2 after read, got %d", rb.Available())
	}
}

func TestRingBuffer_ReadEmpty(t *testing.T) {
	rb := NewRingBuffer(10)

	if !rb.IsEmpty() {
		t.Error("Expected buffer to be empty initially")
	}

	readBuf := make([]byte, 5)
	if read := rb.Read(readBuf); read != 0 {
		t.Errorf("Expected to read 0 bytes from empty buffer, got %d", read)
	}
}

func TestRingBuffer_Space(t *testing.T) {
	rb := NewRingBuffer(10)
	if rb.Space() != 9 {
		t.Errorf("Expected space 9 in empty buffer, got %d", rb.Space())
	}

	rb.Write([]byte{1, 2, 3})
	if rb.Space() != 6 {
		t.Errorf("Expected space 6 after writing 3 bytes, got %d", rb.Space())
	}
}

func TestRingBuffer_Clear(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Write([]byte{1, 2, 3, 4, 5})

	rb.Clear()
	if rb.Available() != 0 {
		t.Errorf("Expected available 0 after clear, got %d", rb.Available())
	}
	if !rb.IsEmpty() {
		t.Error("Expected buffer to be empty after clear")
	}
}

func TestRingBuffer_WrapAround(t *testing.T) {
	rb := NewRingBuffer(5)

	rb.Write([]byte{1, 2, 3, 4})

	readBuf := make([]byte, 2)
	rb.Read(readBuf)

	// Should wrap around
	rb.Write([]byte{5, 6})
	if rb.Available() != 4 {
		t.Errorf("Expected available 4, got %d", rb.Available())
	}

	readBuf = make([]byte, 4)
	read := rb.Read(readBuf)
	if read != 4 {
		t.Errorf("Expected to read 4 bytes, got %d", read)
	}
	expected := []byte{3, 4, 5, 6}
	for i := range expected {
		if readBuf[i] != expected[i] {
			t.Errorf("Expected %d at position %d, got %d", expected[i], i, readBuf[i])
		}
	}
}
