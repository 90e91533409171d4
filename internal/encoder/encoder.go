// Package encoder turns uploaded image bytes into the base64 payload sent to
// the generation backends.
package encoder

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrRead is returned when the image source cannot be read in full.
var ErrRead = errors.New("failed to read image")

// ErrDataURI is returned by FromDataURI for malformed input.
var ErrDataURI = errors.New("malformed data uri")

// Request is a transport-ready image: a standard base64 payload and the media
// type supplied by the caller.
type Request struct {
	Payload   string
	MediaType string
}

// Empty reports whether the request carries no image data. Callers treat an
// empty payload as an encoding failure.
func (r Request) Empty() bool {
	return r.Payload == ""
}

// Bytes decodes the payload back to the original image bytes.
func (r Request) Bytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(r.Payload)
}

// DataURI renders the request as data:<type>;base64,<payload>.
func (r Request) DataURI() string {
	return "data:" + r.MediaType + ";base64," + r.Payload
}

// FromDataURI parses a base64 data URI, stripping the header prefix.
func FromDataURI(uri string) (Request, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return Request{}, ErrDataURI
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return Request{}, ErrDataURI
	}
	mediaType, ok := strings.CutSuffix(header, ";base64")
	if !ok {
		return Request{}, fmt.Errorf("%w: payload is not base64", ErrDataURI)
	}
	return Request{Payload: payload, MediaType: mediaType}, nil
}

// ctxReader stops a read loop once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// Encode reads r in full and base64-encodes it. The media type is returned
// verbatim; no format validation is done here.
//
// On a read failure the returned Request has an empty payload and the error
// wraps ErrRead.
func Encode(ctx context.Context, r io.Reader, mediaType string) (Request, error) {
	data, err := io.ReadAll(ctxReader{ctx: ctx, r: r})
	if err != nil {
		return Request{MediaType: mediaType}, fmt.Errorf("%w: %w", ErrRead, err)
	}
	return Request{
		Payload:   base64.StdEncoding.EncodeToString(data),
		MediaType: mediaType,
	}, nil
}
