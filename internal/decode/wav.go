package decode

import (
	"encoding/binary"
	"fmt"
	"io"
)

// wavInfo describes the PCM payload located behind a parsed WAV header.
type wavInfo struct {
	sampleRate int
	dataSize   int64
}

// WriteWAV encodes mono 16-bit little-endian PCM samples as a WAV file body.
func WriteWAV(w io.Writer, samples []int16, sampleRate int) error {
	dataSize := len(samples) * 2
	if err := writeWAVHeader(w, sampleRate, dataSize); err != nil {
		return err
	}

	buf := make([]byte, dataSize)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}

	_, err := w.Write(buf)
	return err
}

// writeWAVHeader writes a minimal 44-byte WAV header for 16-bit mono PCM.
func writeWAVHeader(w io.Writer, sampleRate, dataSize int) error {
	totalSize := 36 + dataSize

	// RIFF header
	if _, err := w.Write([]byte("RIFF")); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(totalSize)); err != nil {
		return err
	}
	if _, err := w.Write([]byte("WAVE")); err != nil {
		return err
	}

	// fmt sub-chunk
	if _, err := w.Write([]byte("fmt ")); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(16)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(1)); err != nil { // PCM format
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(1)); err != nil { // mono
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(sampleRate)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(sampleRate*2)); err != nil { // byte rate
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(2)); err != nil { // block align
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(16)); err != nil { // bits per sample
		return err
	}

	// data sub-chunk
	if _, err := w.Write([]byte("data")); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, uint32(dataSize))
}

// readWAVHeader parses a WAV header and validates the 16-bit mono PCM layout.
// The reader is left positioned at the first sample of the data chunk.
func readWAVHeader(r io.Reader) (wavInfo, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return wavInfo{}, fmt.Errorf("read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return wavInfo{}, fmt.Errorf("not a wav file")
	}

	var info wavInfo
	sawFormat := false
	for {
		var header [8]byte
		if _, err := io.ReadFull(r, header[:]); err != nil {
			return wavInfo{}, fmt.Errorf("read chunk header: %w", err)
		}

		id := string(header[0:4])
		size := int64(binary.LittleEndian.Uint32(header[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return wavInfo{}, fmt.Errorf("fmt chunk too small: %d", size)
			}
			var fmtBody [16]byte
			if _, err := io.ReadFull(r, fmtBody[:]); err != nil {
				return wavInfo{}, fmt.Errorf("read fmt chunk: %w", err)
			}
			audioFormat := binary.LittleEndian.Uint16(fmtBody[0:2])
			channels := binary.LittleEndian.Uint16(fmtBody[2:4])
			sampleRate := binary.LittleEndian.Uint32(fmtBody[4:8])
			bitsPerSample := binary.LittleEndian.Uint16(fmtBody[14:16])

			if audioFormat != 1 {
				return wavInfo{}, fmt.Errorf("unsupported wav encoding: %d", audioFormat)
			}
			if channels != 1 {
				return wavInfo{}, fmt.Errorf("expected mono audio, got %d channels", channels)
			}
			if bitsPerSample != 16 {
				return wavInfo{}, fmt.Errorf("expected 16-bit samples, got %d", bitsPerSample)
			}

			info.sampleRate = int(sampleRate)
			sawFormat = true

			if rest := size - 16; rest > 0 {
				if _, err := io.CopyN(io.Discard, r, rest); err != nil {
					return wavInfo{}, fmt.Errorf("skip fmt extension: %w", err)
				}
			}
		case "data":
			if !sawFormat {
				return wavInfo{}, fmt.Errorf("data chunk before fmt chunk")
			}
			info.dataSize = size
			return info, nil
		default:
			if _, err := io.CopyN(io.Discard, r, size); err != nil {
				return wavInfo{}, fmt.Errorf("skip %q chunk: %w", id, err)
			}
		}
	}
}
