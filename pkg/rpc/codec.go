package rpc

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is the content-subtype gobCodec is registered under (see init).
// Clients select it on every call with the ForceCodec option returned by
// Codec(); the server looks it up in grpc's codec registry by that name, so
// no protobuf codec is ever reached for.
const codecName = "gob"

// gobCodec implements grpc/encoding.Codec by gob-encoding whatever struct
// pointer grpc hands it. It relies on gob's own self-describing type stream,
// the same mechanism pkg/engine uses for segment records and pkg/raftstore
// uses for its Raft log entries and snapshots.
type gobCodec struct{}

func (gobCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("rpc: gob marshal: %w", err)
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("rpc: gob unmarshal: %w", err)
	}
	return nil
}

func (gobCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(gobCodec{})
}
