package storage

import (
	"bytes"
	"encoding"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBToken struct {
	Hash      string `msgpack:"hash"`
	Username  string `msgpack:"username"`
	ExpiresAt int64  `msgpack:"expiresAt"`
}

func (t *DBToken) Key() []byte {
	return []byte(t.Hash)
}

func (t *DBToken) MarshalBinary() (data []byte, err error) {
	type alias DBToken
	return msgpack.Marshal((*alias)(t))
}

func (t *DBToken) UnmarshalBinary(data []byte) error {
	type alias DBToken
	return msgpack.Unmarshal(data, (*alias)(t))
}

// DBLeaf is a single scalar of the realtime tree stored under its full path.
type DBLeaf struct {
	Path  string `msgpack:"-"`
	Value any    `msgpack:"v"`
}

func (l *DBLeaf) Key() []byte {
	return []byte(l.Path)
}

func (l *DBLeaf) MarshalBinary() (data []byte, err error) {
	type alias DBLeaf
	return msgpack.Marshal((*alias)(l))
}

func (l *DBLeaf) UnmarshalBinary(data []byte) error {
	type alias DBLeaf
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	return dec.Decode((*alias)(l))
}
