package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"github.com/klauspost/compress/flate"
	"io"
	"strings"
)

const (
	// EnvelopeTag marks chat frames that carry protocol messages instead of visible text.
	EnvelopeTag = "ClubLink"

	// compressThreshold is the encoded JSON size above which payloads are deflated.
	// Roster snapshots with appearance blobs are the usual reason to cross it.
	compressThreshold = 1024
	compressedPrefix  = "z:"

	// maxDecompressedSize bounds what a single envelope may inflate to.
	maxDecompressedSize = 1 << 20
)

// EncodeEnvelope serialises msg into chat-safe text.
func EncodeEnvelope(msg Message) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encode %s message: %w", msg.GetKind(), err)
	}

	if len(data) <= compressThreshold {
		return string(data), nil
	}

	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return "", fmt.Errorf("create deflate writer: %w", err)
	}
	if _, err = w.Write(data); err != nil {
		return "", fmt.Errorf("deflate %s message: %w", msg.GetKind(), err)
	}
	if err = w.Close(); err != nil {
		return "", fmt.Errorf("deflate %s message: %w", msg.GetKind(), err)
	}

	return compressedPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeEnvelope is the inverse of EncodeEnvelope.
func DecodeEnvelope(content string) (Message, error) {
	if !strings.HasPrefix(content, compressedPrefix) {
		return ParseMessage([]byte(content))
	}

	compressed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(content, compressedPrefix))
	if err != nil {
		return nil, fmt.Errorf("decode compressed envelope: %w", err)
	}

	r := flate.NewReader(bytes.NewReader(compressed))
	defer func(r io.ReadCloser) {
		_ = r.Close()
	}(r)

	data, err := io.ReadAll(io.LimitReader(r, maxDecompressedSize+1))
	if err != nil {
		return nil, fmt.Errorf("inflate envelope: %w", err)
	}
	if len(data) > maxDecompressedSize {
		return nil, fmt.Errorf("inflated envelope exceeds %d bytes", maxDecompressedSize)
	}

	return ParseMessage(data)
}
