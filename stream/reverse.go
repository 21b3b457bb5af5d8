package stream

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
)

// reverseChunkSize is how much of the file is pulled into the rolling
// buffer per read, working backwards from EOF.
const reverseChunkSize = 64 * 1024

// ScanReverse streams path from EOF to BOF, calling fn once per line
// starting with the last line written to the file. It is used for
// "latest first" queries and for locating the last match of a
// first() query without scanning the whole file forward.
//
// The rolling buffer only ever holds a bounded suffix of the file
// plus one partially-seen line, regardless of file size.
func ScanReverse(path string, fn VisitFunc) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	winStart := info.Size()
	if winStart == 0 {
		return nil
	}
	var window []byte
	trimmedFinalNewline := false

	loadMore := func() error {
		if winStart == 0 {
			return nil
		}
		readLen := int64(reverseChunkSize)
		if readLen > winStart {
			readLen = winStart
		}
		newStart := winStart - readLen
		chunk := make([]byte, readLen)
		if _, err := f.ReadAt(chunk, newStart); err != nil {
			return err
		}
		window = append(chunk, window...)
		winStart = newStart
		return nil
	}

	for {
		if !trimmedFinalNewline {
			if err := loadMore(); err != nil {
				return err
			}
			if n := len(window); n > 0 && window[n-1] == '\n' {
				window = window[:n-1]
			}
			trimmedFinalNewline = true
		}

		idx := bytes.LastIndexByte(window, '\n')
		if idx < 0 {
			if winStart > 0 {
				if err := loadMore(); err != nil {
					return err
				}
				continue
			}
			if len(window) == 0 {
				return nil
			}
			rec := LineRecord{Position: 0, Length: len(window), Text: window}
			if _, err := fn(rec); err != nil {
				return err
			}
			return nil
		}

		record := window[idx+1:]
		pos := winStart + int64(idx+1)
		rec := LineRecord{Position: pos, Length: len(record), Text: append([]byte(nil), record...)}
		cont, err := fn(rec)
		if err != nil {
			return err
		}
		window = window[:idx]
		if !cont {
			return nil
		}
	}
}
