package models

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// EncodeFrame encodes a client or server frame for a binary websocket message.
func EncodeFrame(frame any) ([]byte, error) {
	data, err := msgpack.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return data, nil
}

// DecodeFrame decodes a binary websocket message into frame. Values decode
// loosely: integers as int64 or uint64, maps as map[string]any.
func DecodeFrame(data []byte, frame any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(frame); err != nil {
		return fmt.Errorf("failed to decode frame: %w", err)
	}
	return nil
}
