// Package codec converts audio payloads between raw bytes and the text form
// they are persisted in.
package codec

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"

	perrors "github.com/jmgilman/go/errors"

	"github.com/yangwenmai/gitpodcast/internal/model"
)

// readChunk is the buffer size used by ReadAll between cancellation checks.
const readChunk = 32 * 1024

// EncodeToText returns the standard base64 encoding of b.
func EncodeToText(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeText reverses EncodeToText.
func DecodeText(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, perrors.Wrap(err, model.CodeDecode, "decode cached audio")
	}
	return b, nil
}

// ReadAll reads r until EOF. It stops with an IO_ERROR when the read fails or
// ctx is done before the body is complete.
func ReadAll(ctx context.Context, r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, readChunk)
	for {
		if err := ctx.Err(); err != nil {
			return nil, perrors.Wrap(err, model.CodeIO, "read aborted")
		}
		n, err := r.Read(chunk)
		buf.Write(chunk[:n])
		if err == io.EOF {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, perrors.Wrap(err, model.CodeIO, "read binary body")
		}
	}
}
