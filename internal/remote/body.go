package remote

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
)

// MaxResponseBytes caps how much of a response body is read.
const MaxResponseBytes int64 = 16 << 20

// decodeError marks a body that was read in full but is not text.
type decodeError struct {
	err error
}

func (e *decodeError) Error() string { return e.err.Error() }

// readText reads the body and converts it to UTF-8 using the charset declared
// in Content-Type. Bodies without a charset must already be valid UTF-8.
func readText(resp *http.Response) (string, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes+1))
	if err != nil {
		return "", err
	}
	if int64(len(raw)) > MaxResponseBytes {
		return "", &decodeError{err: fmt.Errorf("body exceeds %d bytes", MaxResponseBytes)}
	}
	label := charsetLabel(resp.Header.Get("Content-Type"))
	if label != "" && !isUTF8Label(label) {
		reader, err := charset.NewReaderLabel(label, bytes.NewReader(raw))
		if err != nil {
			return "", &decodeError{err: err}
		}
		converted, err := io.ReadAll(reader)
		if err != nil {
			return "", &decodeError{err: err}
		}
		raw = converted
	}
	if !utf8.Valid(raw) {
		return "", &decodeError{err: fmt.Errorf("body is not valid UTF-8")}
	}
	return string(raw), nil
}

func charsetLabel(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(params["charset"]))
}

func isUTF8Label(label string) bool {
	switch label {
	case "utf-8", "utf8", "us-ascii", "ascii":
		return true
	}
	return false
}
