package storage

import (
	"bytes"
	"io"
	"os"
)

// DetectExt reads the first bytes of a file to guess its container.
// Returns the extension without dot, or "" if unknown.
func DetectExt(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	header := make([]byte, 12)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF {
		return ""
	}
	return sniff(header[:n])
}

func sniff(header []byte) string {
	n := len(header)

	// ISO BMFF: ....ftyp
	if n >= 12 && string(header[4:8]) == "ftyp" {
		if string(header[8:11]) == "M4A" {
			return "m4a"
		}
		return "mp4"
	}

	// Matroska / WebM: 1A 45 DF A3
	if n >= 4 && bytes.Equal(header[0:4], []byte{0x1A, 0x45, 0xDF, 0xA3}) {
		return "webm"
	}

	// MP3 with ID3 tag
	if n >= 3 && string(header[0:3]) == "ID3" {
		return "mp3"
	}

	// MPEG-TS sync byte
	if n >= 1 && header[0] == 0x47 {
		return "ts"
	}

	return ""
}
