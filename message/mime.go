package message

import (
	"bytes"
	"fmt"
)

// maxBoundaryAttempts bounds the collision-scan/regenerate loop (spec §4.3
// "regenerated on collision"); a real collision against a cryptographic
// 48-octet token is astronomically unlikely, so this only guards against a
// broken RNG.
const maxBoundaryAttempts = 8

// SerializePart renders p into buf as its headers, a blank line, and its
// body, recursing into Multipart children. It is the entry point used by
// the Message builder's Finalize step.
func SerializePart(buf *bytes.Buffer, p Part, opts EncodeOptions) error {
	switch v := p.(type) {
	case *Single:
		return serializeSingle(buf, v, opts)
	case *Multipart:
		return serializeMultipart(buf, v, opts)
	default:
		return fmt.Errorf("message: unknown part type %T", p)
	}
}

func serializeSingle(buf *bytes.Buffer, p *Single, opts EncodeOptions) error {
	enc, body := EncodeBody(p, opts)
	header := cloneHeader(p.Header)
	if !header.Has("Content-Type") {
		header.Set("Content-Type", "text/plain; charset=us-ascii")
	}
	header.Set("Content-Transfer-Encoding", string(enc))
	header.Render(buf)
	buf.WriteString("\r\n")
	buf.Write(body)
	return nil
}

func serializeMultipart(buf *bytes.Buffer, p *Multipart, opts EncodeOptions) error {
	childBufs := make([]*bytes.Buffer, len(p.Children))
	for i, child := range p.Children {
		cb := &bytes.Buffer{}
		if err := SerializePart(cb, child, opts); err != nil {
			return err
		}
		childBufs[i] = cb
	}

	boundary, err := chooseBoundary(childBufs)
	if err != nil {
		return err
	}
	p.boundary = boundary

	header := cloneHeader(p.Header)
	header.Set("Content-Type", fmt.Sprintf("multipart/%s; boundary=%q", p.Subtype, boundary))
	header.Render(buf)
	buf.WriteString("\r\n")

	buf.WriteString("This is a multi-part message in MIME format.\r\n")
	for _, cb := range childBufs {
		buf.WriteString("--")
		buf.WriteString(boundary)
		buf.WriteString("\r\n")
		buf.Write(cb.Bytes())
		buf.WriteString("\r\n")
	}
	buf.WriteString("--")
	buf.WriteString(boundary)
	buf.WriteString("--\r\n")
	return nil
}

// chooseBoundary draws a boundary token and verifies it is absent from
// every child's serialized bytes (spec §4.3, §8 property 4), regenerating
// on collision.
func chooseBoundary(childBufs []*bytes.Buffer) (string, error) {
	for attempt := 0; attempt < maxBoundaryAttempts; attempt++ {
		b, err := newBoundary()
		if err != nil {
			return "", err
		}
		collide := false
		for _, cb := range childBufs {
			if bytes.Contains(cb.Bytes(), []byte(b)) {
				collide = true
				break
			}
		}
		if !collide {
			return b, nil
		}
	}
	return "", fmt.Errorf("message: could not find a collision-free boundary after %d attempts", maxBoundaryAttempts)
}

func cloneHeader(h *Set) *Set {
	if h == nil {
		return NewSet()
	}
	out := NewSet()
	for _, f := range h.Fields() {
		out.Add(f.Name, f.Value)
	}
	return out
}

// Boundary returns the boundary token chosen the last time p was
// serialized, or empty if p has never been serialized.
func (p *Multipart) Boundary() string {
	return p.boundary
}
