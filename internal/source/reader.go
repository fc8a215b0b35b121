// Package source reads module source files, honoring declared text
// encodings, and computes content fingerprints.
package source

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/encoding/ianaindex"

	"github.com/vk/modbuildgo/internal/fscache"
)

var utf8BOM = []byte{0xef, 0xbb, 0xbf}

// codingRe matches a declared-encoding cookie in a comment, e.g.
// "# -*- coding: latin-1 -*-" or "# coding=utf-8".
var codingRe = regexp.MustCompile(`coding[:=]\s*([-\w.]+)`)

// File is the decoded contents of one module source file.
type File struct {
	Path        string
	Text        string
	Fingerprint string
}

// Read loads and decodes the file at path through the snapshot cache.
func Read(fs *fscache.Cache, path string) (*File, error) {
	data, err := fs.Read(path)
	if err != nil {
		return nil, fmt.Errorf("can't read file %q: %w", path, err)
	}
	text, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("can't decode file %q: %w", path, err)
	}
	return &File{Path: path, Text: text, Fingerprint: Fingerprint(data)}, nil
}

// Decode converts raw source bytes to text, applying the declared
// encoding from the first two lines, if any. A UTF-8 byte-order mark is
// stripped and wins over any cookie.
func Decode(data []byte) (string, error) {
	if bytes.HasPrefix(data, utf8BOM) {
		return string(data[len(utf8BOM):]), nil
	}
	name := declaredEncoding(data)
	if name == "" || isUTF8Name(name) {
		return string(data), nil
	}
	enc, err := ianaindex.IANA.Encoding(ianaName(name))
	if err != nil || enc == nil {
		return "", fmt.Errorf("unknown encoding %q", name)
	}
	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decoding as %q: %w", name, err)
	}
	return string(decoded), nil
}

// declaredEncoding scans the first two lines for an encoding cookie.
// Cookies only count inside comments.
func declaredEncoding(data []byte) string {
	rest := data
	for i := 0; i < 2; i++ {
		var line []byte
		if idx := bytes.IndexByte(rest, '\n'); idx >= 0 {
			line, rest = rest[:idx], rest[idx+1:]
		} else {
			line, rest = rest, nil
		}
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) > 0 && trimmed[0] == '#' {
			if m := codingRe.FindSubmatch(trimmed); m != nil {
				return string(m[1])
			}
		}
		if rest == nil {
			break
		}
	}
	return ""
}

// ianaName maps common cookie spellings onto registered IANA names;
// "latin-1" and friends are not IANA aliases but appear in real files.
func ianaName(name string) string {
	switch strings.ToLower(strings.ReplaceAll(name, "_", "-")) {
	case "latin-1", "latin1", "iso-latin-1":
		return "latin1"
	default:
		return name
	}
}

func isUTF8Name(name string) bool {
	switch strings.ToLower(name) {
	case "utf-8", "utf8", "ascii", "us-ascii":
		return true
	}
	return false
}

// Fingerprint returns a stable content fingerprint of the raw bytes.
func Fingerprint(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}
