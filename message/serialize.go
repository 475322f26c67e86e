package message

import "bytes"

// Serialize renders msg to its final RFC 5322 wire byte stream: header
// block, blank line, body. opts tells the transfer-encoding selection
// rule (§4.3) and the MIME-Version decision whether 8-bit/UTF-8 data is
// safe to send unencoded — the encoder is told, never guesses (spec §9).
func Serialize(msg *Message, opts EncodeOptions) ([]byte, error) {
	var buf bytes.Buffer

	header := cloneHeader(msg.Header)

	single, isSingle := msg.Root.(*Single)
	plain := isSingle && !single.Header.Has("Content-Type") && selectEncoding(single, opts) == SevenBit

	if plain {
		header.Render(&buf)
		buf.WriteString("\r\n")
		buf.Write(normalizeCRLF(single.Body))
		return buf.Bytes(), nil
	}

	header.Set("MIME-Version", "1.0")
	header.Render(&buf)
	buf.WriteString("\r\n")
	if err := SerializePart(&buf, msg.Root, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
