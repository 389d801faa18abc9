// Package sfv reads Simple File Verification listings and computes the
// CRC32 checksums they carry.
//
// An SFV file lists one "name CRC" pair per line; lines starting with ';'
// are comments. The CRC is the last whitespace-separated field, so names
// may contain spaces.
package sfv

import (
	"bufio"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/aweris/crccache/internal/store"
)

var ErrMalformed = errors.New("sfv: malformed line")

// Parse reads an SFV listing. CRCs are normalized to lowercase; a later
// line for the same name wins.
func Parse(r io.Reader) (store.ChecksumMap, error) {
	m := make(store.ChecksumMap)
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, ";") {
			continue
		}
		i := strings.LastIndexAny(text, " \t")
		if i < 0 {
			return nil, fmt.Errorf("%w %d: %q", ErrMalformed, line, text)
		}
		name := strings.TrimSpace(text[:i])
		crc := text[i+1:]
		if name == "" || !validCRC(crc) {
			return nil, fmt.Errorf("%w %d: %q", ErrMalformed, line, text)
		}
		m[name] = strings.ToLower(crc)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read sfv: %w", err)
	}
	return m, nil
}

// ParseFile parses the SFV file at path.
func ParseFile(path string) (store.ChecksumMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

func validCRC(s string) bool {
	if len(s) != 8 {
		return false
	}
	_, err := strconv.ParseUint(s, 16, 32)
	return err == nil
}

// ParseCRC parses an 8 digit hex checksum.
func ParseCRC(s string) (store.Checksum, error) {
	if !validCRC(s) {
		return 0, fmt.Errorf("sfv: invalid checksum %q", s)
	}
	v, _ := strconv.ParseUint(s, 16, 32)
	return store.Checksum(v), nil
}

// Checksum computes the IEEE CRC32 of r.
func Checksum(r io.Reader) (store.Checksum, error) {
	h := crc32.NewIEEE()
	if _, err := io.Copy(h, r); err != nil {
		return 0, err
	}
	return store.Checksum(h.Sum32()), nil
}

// FileCRC computes the IEEE CRC32 of the file at path.
func FileCRC(path string) (store.Checksum, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	crc, err := Checksum(f)
	if err != nil {
		return 0, fmt.Errorf("checksum %s: %w", path, err)
	}
	return crc, nil
}
