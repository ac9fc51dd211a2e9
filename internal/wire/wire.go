// Package wire defines the XML request/response documents exchanged between
// client and server, per the protocol's application/xml media type.
//
// This is one of the external-collaborator seams spec.md names explicitly
// ("the XML encoder used on the wire") — the encoder itself is
// encoding/xml from the standard library; this package only owns the
// document shapes and the thin encode/decode helpers around them.
package wire

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

// Result is the outcome of a push request.
type Result string

const (
	ResultOK              Result = "OK"
	ResultFormatConflict  Result = "FORMAT_CONFLICT"
)

// RequestType selects pull or push handling.
type RequestType string

const (
	TypePull RequestType = "pull"
	TypePush RequestType = "push"
)

// Row is a single wire row. ID and Version are omitted when zero, so
// new-row submissions carry neither, and the header row (id 0) travels
// without an id attribute and decodes back to 0. Push-response row-id
// acknowledgements use IDRow instead.
type Row struct {
	ID      int64  `xml:"id,attr,omitempty"`
	Version int64  `xml:"version,attr,omitempty"`
	Data    string `xml:",chardata"`
}

// Request is the <request> document. PulledVersion is meaningful for pull
// only; Rows/NewRows are meaningful for push only.
type Request struct {
	XMLName       xml.Name    `xml:"request"`
	Type          RequestType `xml:"type"`
	PulledVersion *int64      `xml:"pulled_version,omitempty"`
	Rows          []Row       `xml:"rows>row"`
	NewRows       []Row       `xml:"new_rows>row"`
}

// PullResponse is the <response> document returned for a pull request.
type PullResponse struct {
	XMLName xml.Name `xml:"response"`
	Version int64    `xml:"version"`
	Rows    []Row    `xml:"rows>row"`
}

// PushResponse is the <response> document returned for a push request.
type PushResponse struct {
	XMLName       xml.Name `xml:"response"`
	Result        Result   `xml:"result"`
	Version       int64    `xml:"version"`
	ConflictCount int      `xml:"conflict_count"`
	ModifiedRows  []IDRow  `xml:"modified_rows>row"`
	NewRows       []IDRow  `xml:"new_rows>row"`
}

// IDRow carries only an id attribute, used in push-response row lists.
type IDRow struct {
	ID int64 `xml:"id,attr"`
}

// Encode marshals v (a *Request, *PullResponse, or *PushResponse) with an
// XML header, matching the wire media type application/xml.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("wire: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeRequest parses a <request> document.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := xml.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("wire: decode request: %w", err)
	}
	return &req, nil
}

// DecodePullResponse parses a pull <response> document.
func DecodePullResponse(data []byte) (*PullResponse, error) {
	var resp PullResponse
	if err := xml.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("wire: decode pull response: %w", err)
	}
	return &resp, nil
}

// DecodePushResponse parses a push <response> document.
func DecodePushResponse(data []byte) (*PushResponse, error) {
	var resp PushResponse
	if err := xml.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("wire: decode push response: %w", err)
	}
	return &resp, nil
}
