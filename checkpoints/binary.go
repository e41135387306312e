package checkpoints

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Binary checkpoint format: a protobuf wire-format message assembled with
// protowire. Weight payloads are packed fixed64 (IEEE-754 bits), so the
// round-trip is bit exact. Field numbers are frozen; add new fields, never
// renumber.
const (
	fieldModelName      protowire.Number = 1
	fieldEpoch          protowire.Number = 2
	fieldCurStep        protowire.Number = 3
	fieldBestValidScore protowire.Number = 4
	fieldConfig         protowire.Number = 5
	fieldWeight         protowire.Number = 6
	fieldOptimizerEntry protowire.Number = 7
	fieldMetadata       protowire.Number = 8

	// weight tensor sub-message
	fieldTensorName protowire.Number = 1
	fieldTensorData protowire.Number = 2
	fieldTensorKind protowire.Number = 3

	// optimizer entry sub-message
	fieldOptKey   protowire.Number = 1
	fieldOptType  protowire.Number = 2
	fieldOptParam protowire.Number = 3
	fieldOptState protowire.Number = 4

	// metadata sub-message
	fieldMetaVersion   protowire.Number = 1
	fieldMetaFramework protowire.Number = 2
	fieldMetaCreatedAt protowire.Number = 3
)

func marshalBinary(c *Checkpoint) ([]byte, error) {
	var b []byte

	b = protowire.AppendTag(b, fieldModelName, protowire.BytesType)
	b = protowire.AppendString(b, c.ModelName)
	b = protowire.AppendTag(b, fieldEpoch, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.Epoch))
	b = protowire.AppendTag(b, fieldCurStep, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.CurStep))
	b = protowire.AppendTag(b, fieldBestValidScore, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(c.BestValidScore))

	if len(c.Config) > 0 {
		b = protowire.AppendTag(b, fieldConfig, protowire.BytesType)
		b = protowire.AppendBytes(b, c.Config)
	}

	for _, w := range c.Weights {
		b = protowire.AppendTag(b, fieldWeight, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalTensor(w.Name, "", w.Data))
	}

	// deterministic entry order for stable artifacts
	keys := make([]string, 0, len(c.OptimizerStates))
	for k := range c.OptimizerStates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		entry, err := marshalOptimizerEntry(k, c.OptimizerStates[k])
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, fieldOptimizerEntry, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}

	var meta []byte
	meta = protowire.AppendTag(meta, fieldMetaVersion, protowire.BytesType)
	meta = protowire.AppendString(meta, c.Metadata.Version)
	meta = protowire.AppendTag(meta, fieldMetaFramework, protowire.BytesType)
	meta = protowire.AppendString(meta, c.Metadata.Framework)
	meta = protowire.AppendTag(meta, fieldMetaCreatedAt, protowire.VarintType)
	meta = protowire.AppendVarint(meta, uint64(c.Metadata.CreatedAt.UnixNano()))
	b = protowire.AppendTag(b, fieldMetadata, protowire.BytesType)
	b = protowire.AppendBytes(b, meta)

	return b, nil
}

func marshalTensor(name, kind string, data []float64) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldTensorName, protowire.BytesType)
	b = protowire.AppendString(b, name)

	packed := make([]byte, 0, 8*len(data))
	for _, v := range data {
		packed = protowire.AppendFixed64(packed, math.Float64bits(v))
	}
	b = protowire.AppendTag(b, fieldTensorData, protowire.BytesType)
	b = protowire.AppendBytes(b, packed)

	if kind != "" {
		b = protowire.AppendTag(b, fieldTensorKind, protowire.BytesType)
		b = protowire.AppendString(b, kind)
	}
	return b
}

func marshalOptimizerEntry(key string, st *OptimizerState) ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, fieldOptKey, protowire.BytesType)
	b = protowire.AppendString(b, key)
	b = protowire.AppendTag(b, fieldOptType, protowire.BytesType)
	b = protowire.AppendString(b, st.Type)

	params, err := encodeParams(st.Parameters)
	if err != nil {
		return nil, fmt.Errorf("failed to encode optimizer parameters for %q: %v", key, err)
	}
	b = protowire.AppendTag(b, fieldOptParam, protowire.BytesType)
	b = protowire.AppendBytes(b, params)

	for _, t := range st.StateData {
		b = protowire.AppendTag(b, fieldOptState, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalTensor(t.Name, t.StateType, t.Data))
	}
	return b, nil
}

func unmarshalBinary(data []byte, c *Checkpoint) error {
	c.OptimizerStates = nil
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		switch num {
		case fieldModelName:
			v, n, err := consumeString(data, typ)
			if err != nil {
				return err
			}
			c.ModelName = v
			data = data[n:]
		case fieldEpoch, fieldCurStep:
			if typ != protowire.VarintType {
				return fmt.Errorf("unexpected wire type %d for field %d", typ, num)
			}
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			if num == fieldEpoch {
				c.Epoch = int(v)
			} else {
				c.CurStep = int(v)
			}
			data = data[n:]
		case fieldBestValidScore:
			if typ != protowire.Fixed64Type {
				return fmt.Errorf("unexpected wire type %d for best_valid_score", typ)
			}
			v, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			c.BestValidScore = math.Float64frombits(v)
			data = data[n:]
		case fieldConfig:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			c.Config = append([]byte(nil), v...)
			data = data[n:]
		case fieldWeight:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			name, _, vals, err := unmarshalTensor(v)
			if err != nil {
				return err
			}
			c.Weights = append(c.Weights, WeightTensor{Name: name, Data: vals})
			data = data[n:]
		case fieldOptimizerEntry:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			key, st, err := unmarshalOptimizerEntry(v)
			if err != nil {
				return err
			}
			if c.OptimizerStates == nil {
				c.OptimizerStates = make(map[string]*OptimizerState)
			}
			c.OptimizerStates[key] = st
			data = data[n:]
		case fieldMetadata:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			if err := unmarshalMetadata(v, &c.Metadata); err != nil {
				return err
			}
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return nil
}

func unmarshalTensor(data []byte) (name, kind string, vals []float64, err error) {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return "", "", nil, protowire.ParseError(n)
		}
		data = data[n:]

		switch num {
		case fieldTensorName:
			v, n, err := consumeString(data, typ)
			if err != nil {
				return "", "", nil, err
			}
			name = v
			data = data[n:]
		case fieldTensorKind:
			v, n, err := consumeString(data, typ)
			if err != nil {
				return "", "", nil, err
			}
			kind = v
			data = data[n:]
		case fieldTensorData:
			packed, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return "", "", nil, protowire.ParseError(n)
			}
			if len(packed)%8 != 0 {
				return "", "", nil, fmt.Errorf("tensor payload not a multiple of 8 bytes")
			}
			vals = make([]float64, 0, len(packed)/8)
			for len(packed) > 0 {
				bits, m := protowire.ConsumeFixed64(packed)
				if m < 0 {
					return "", "", nil, protowire.ParseError(m)
				}
				vals = append(vals, math.Float64frombits(bits))
				packed = packed[m:]
			}
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return "", "", nil, protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return name, kind, vals, nil
}

func unmarshalOptimizerEntry(data []byte) (string, *OptimizerState, error) {
	var key string
	st := &OptimizerState{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return "", nil, protowire.ParseError(n)
		}
		data = data[n:]

		switch num {
		case fieldOptKey:
			v, n, err := consumeString(data, typ)
			if err != nil {
				return "", nil, err
			}
			key = v
			data = data[n:]
		case fieldOptType:
			v, n, err := consumeString(data, typ)
			if err != nil {
				return "", nil, err
			}
			st.Type = v
			data = data[n:]
		case fieldOptParam:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return "", nil, protowire.ParseError(n)
			}
			params, err := decodeParams(v)
			if err != nil {
				return "", nil, fmt.Errorf("failed to decode optimizer parameters: %v", err)
			}
			st.Parameters = params
			data = data[n:]
		case fieldOptState:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return "", nil, protowire.ParseError(n)
			}
			name, kind, vals, err := unmarshalTensor(v)
			if err != nil {
				return "", nil, err
			}
			st.StateData = append(st.StateData, OptimizerTensor{Name: name, StateType: kind, Data: vals})
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return "", nil, protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	if key == "" {
		return "", nil, fmt.Errorf("optimizer entry missing key")
	}
	return key, st, nil
}

func unmarshalMetadata(data []byte, meta *Metadata) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		switch num {
		case fieldMetaVersion:
			v, n, err := consumeString(data, typ)
			if err != nil {
				return err
			}
			meta.Version = v
			data = data[n:]
		case fieldMetaFramework:
			v, n, err := consumeString(data, typ)
			if err != nil {
				return err
			}
			meta.Framework = v
			data = data[n:]
		case fieldMetaCreatedAt:
			if typ != protowire.VarintType {
				return fmt.Errorf("unexpected wire type %d for created_at", typ)
			}
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			meta.CreatedAt = time.Unix(0, int64(v)).UTC()
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return nil
}

// Optimizer hyperparameters are an open map; they travel as embedded JSON.
func encodeParams(m map[string]interface{}) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func decodeParams(b []byte) (map[string]interface{}, error) {
	m := make(map[string]interface{})
	if len(b) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func consumeString(data []byte, typ protowire.Type) (string, int, error) {
	if typ != protowire.BytesType {
		return "", 0, fmt.Errorf("unexpected wire type %d for string field", typ)
	}
	v, n := protowire.ConsumeString(data)
	if n < 0 {
		return "", 0, protowire.ParseError(n)
	}
	return v, n, nil
}
