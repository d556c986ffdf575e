package buffer

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"math"
	"os"
	"path/filepath"

	logs "github.com/danmuck/smplog"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/protobuf/encoding/protowire"

	"ppo-experience-buffer/internal/rollout"
	"ppo-experience-buffer/internal/serde"
	"ppo-experience-buffer/internal/tensor"
)

const (
	ExperienceBufferFile    = "experience_buffer.bin"
	TrajectoryProcessorFile = "trajectory_processor.json"

	checkpointVersion = 1
)

// envelope fields
const (
	fieldBody     protowire.Number = 1
	fieldChecksum protowire.Number = 2
)

// body fields
const (
	fieldVersion      protowire.Number = 1
	fieldDType        protowire.Number = 2
	fieldLength       protowire.Number = 3
	fieldAgentIDs     protowire.Number = 4
	fieldObservations protowire.Number = 5
	fieldActions      protowire.Number = 6
	fieldLogProbs     protowire.Number = 7
	fieldValues       protowire.Number = 8
	fieldAdvantages   protowire.Number = 9
)

// SaveCheckpoint writes the stored samples and the processor state as two
// sibling files under folder, creating it if needed. Each file is published
// with a rename so a crash never leaves a partial file under its final name.
func (b *ExperienceBuffer[ID, Obs, Act, S]) SaveCheckpoint(folder string) error {
	if err := b.synchronize(); err != nil {
		return err
	}
	data, err := encodeSamples(b.samples, b.dtype, b.codec)
	if err != nil {
		return err
	}

	state, err := b.processor.StateDict()
	if err != nil {
		return err
	}
	stateJSON, err := json.MarshalIndent(state, "", "    ")
	if err != nil {
		return goerr.Wrap(tag(ErrInvalidArgument, err), "processor state is not JSON encodable")
	}

	if err := os.MkdirAll(folder, 0755); err != nil {
		return goerr.Wrap(tag(ErrStorageFailure, err), "failed to create checkpoint folder", goerr.V("folder", folder))
	}
	if err := writeFileAtomic(filepath.Join(folder, ExperienceBufferFile), data); err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(folder, TrajectoryProcessorFile), stateJSON); err != nil {
		return err
	}

	logs.Infof("checkpoint saved to %s (%d samples, %d bytes)", folder, b.Len(), len(data))
	return nil
}

// LoadCheckpoint replaces the stored samples and processor state with the
// checkpoint in folder. Nothing is modified unless both files decode; a
// missing or malformed file fails with ErrCheckpointCorrupt.
func (b *ExperienceBuffer[ID, Obs, Act, S]) LoadCheckpoint(folder string) error {
	binPath := filepath.Join(folder, ExperienceBufferFile)
	data, err := os.ReadFile(binPath)
	if err != nil {
		return goerr.Wrap(tag(ErrCheckpointCorrupt, err), "failed to read experience buffer file", goerr.V("path", binPath))
	}
	statePath := filepath.Join(folder, TrajectoryProcessorFile)
	stateJSON, err := os.ReadFile(statePath)
	if err != nil {
		return goerr.Wrap(tag(ErrCheckpointCorrupt, err), "failed to read trajectory processor file", goerr.V("path", statePath))
	}

	samples, dtype, err := decodeSamples(data, b.codec)
	if err != nil {
		return goerr.Wrap(err, "failed to decode experience buffer file", goerr.V("path", binPath))
	}
	var state map[string]any
	if err := json.Unmarshal(stateJSON, &state); err != nil {
		return goerr.Wrap(tag(ErrCheckpointCorrupt, err), "failed to decode trajectory processor file", goerr.V("path", statePath))
	}
	if state == nil {
		return goerr.Wrap(ErrCheckpointCorrupt, "trajectory processor state is empty", goerr.V("path", statePath))
	}

	if dtype != b.dtype {
		logs.Warnf("checkpoint dtype %s differs from configured %s; converting", dtype, b.dtype)
		samples.LogProbs = tensor.New(b.dtype, b.device, samples.LogProbs.Float64s())
		samples.Values = tensor.New(b.dtype, b.device, samples.Values.Float64s())
		samples.Advantages = tensor.New(b.dtype, b.device, samples.Advantages.Float64s())
	} else {
		samples.LogProbs = samples.LogProbs.To(b.device)
		samples.Values = samples.Values.To(b.device)
		samples.Advantages = samples.Advantages.To(b.device)
	}
	if samples.Len() > b.config.MaxSize {
		logs.Warnf("checkpoint holds %d samples, keeping the newest %d", samples.Len(), b.config.MaxSize)
	}
	empty := rollout.EmptySamples[ID, Obs, Act](b.dtype, b.device)
	samples, err = mergeBounded(empty, samples, b.config.MaxSize)
	if err != nil {
		return err
	}

	if err := b.processor.LoadStateDict(state); err != nil {
		return err
	}
	b.samples = samples

	logs.Infof("checkpoint loaded from %s (%d samples)", folder, b.Len())
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+"-*.tmp")
	if err != nil {
		return goerr.Wrap(tag(ErrStorageFailure, err), "failed to create temp file", goerr.V("path", path))
	}
	tmpPath := tmp.Name()

	cleanupTmp := true
	defer func() {
		if cleanupTmp {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return goerr.Wrap(tag(ErrStorageFailure, err), "failed to write temp file", goerr.V("path", tmpPath))
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return goerr.Wrap(tag(ErrStorageFailure, err), "failed to sync temp file", goerr.V("path", tmpPath))
	}
	if err := tmp.Close(); err != nil {
		return goerr.Wrap(tag(ErrStorageFailure, err), "failed to close temp file", goerr.V("path", tmpPath))
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return goerr.Wrap(tag(ErrStorageFailure, err), "failed to publish checkpoint file", goerr.V("path", path))
	}
	cleanupTmp = false
	return nil
}

func encodeSamples[ID, Obs, Act any](s rollout.Samples[ID, Obs, Act], dtype tensor.DType, codec Codec[ID, Obs, Act]) ([]byte, error) {
	var (
		body []byte
		err  error
	)
	body = protowire.AppendTag(body, fieldVersion, protowire.VarintType)
	body = protowire.AppendVarint(body, checkpointVersion)
	body = protowire.AppendTag(body, fieldDType, protowire.BytesType)
	body = protowire.AppendString(body, dtype.String())
	body = protowire.AppendTag(body, fieldLength, protowire.VarintType)
	body = protowire.AppendVarint(body, uint64(s.Len()))

	if body, err = appendPayloads(body, fieldAgentIDs, s.AgentIDs, codec.AgentIDs); err != nil {
		return nil, err
	}
	if body, err = appendPayloads(body, fieldObservations, s.Observations, codec.Observations); err != nil {
		return nil, err
	}
	if body, err = appendPayloads(body, fieldActions, s.Actions, codec.Actions); err != nil {
		return nil, err
	}
	body = appendTensor(body, fieldLogProbs, s.LogProbs)
	body = appendTensor(body, fieldValues, s.Values)
	body = appendTensor(body, fieldAdvantages, s.Advantages)

	sum := sha256.Sum256(body)
	out := make([]byte, 0, len(body)+len(sum)+16)
	out = protowire.AppendTag(out, fieldBody, protowire.BytesType)
	out = protowire.AppendBytes(out, body)
	out = protowire.AppendTag(out, fieldChecksum, protowire.BytesType)
	out = protowire.AppendBytes(out, sum[:])
	return out, nil
}

func appendPayloads[T any](b []byte, num protowire.Number, values []T, s serde.Serde[T]) ([]byte, error) {
	for i, v := range values {
		raw, err := s.Encode(v)
		if err != nil {
			return nil, goerr.Wrap(tag(ErrInvalidArgument, err), "failed to encode payload", goerr.V("field", int(num)), goerr.V("index", i))
		}
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendBytes(b, raw)
	}
	return b, nil
}

// appendTensor writes t as packed little-endian fixed32 or fixed64 values.
func appendTensor(b []byte, num protowire.Number, t tensor.Tensor) []byte {
	packed := make([]byte, 0, t.Len()*t.DType().Size())
	if t.DType() == tensor.Float64 {
		for _, v := range t.Raw64() {
			packed = protowire.AppendFixed64(packed, math.Float64bits(v))
		}
	} else {
		for _, v := range t.Float32s() {
			packed = protowire.AppendFixed32(packed, math.Float32bits(v))
		}
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

// splitEnvelope returns the checkpoint body after verifying its checksum.
func splitEnvelope(data []byte) ([]byte, error) {
	var body, checksum []byte
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, goerr.Wrap(tag(ErrCheckpointCorrupt, protowire.ParseError(n)), "bad envelope tag")
		}
		data = data[n:]
		if typ != protowire.BytesType || (num != fieldBody && num != fieldChecksum) {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, goerr.Wrap(tag(ErrCheckpointCorrupt, protowire.ParseError(n)), "bad envelope field")
			}
			data = data[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, goerr.Wrap(tag(ErrCheckpointCorrupt, protowire.ParseError(n)), "truncated envelope field", goerr.V("field", int(num)))
		}
		data = data[n:]
		if num == fieldBody {
			body = v
		} else {
			checksum = v
		}
	}
	if body == nil || checksum == nil {
		return nil, goerr.Wrap(ErrCheckpointCorrupt, "envelope is missing body or checksum")
	}
	sum := sha256.Sum256(body)
	if !bytes.Equal(sum[:], checksum) {
		return nil, goerr.Wrap(ErrCheckpointCorrupt, "checksum mismatch", goerr.V("want", checksum), goerr.V("got", sum[:]))
	}
	return body, nil
}

func decodeSamples[ID, Obs, Act any](data []byte, codec Codec[ID, Obs, Act]) (rollout.Samples[ID, Obs, Act], tensor.DType, error) {
	var out rollout.Samples[ID, Obs, Act]

	body, err := splitEnvelope(data)
	if err != nil {
		return out, 0, err
	}

	var (
		version, length           uint64
		dtypeName                 string
		haveVersion, haveLength   bool
		logProbs, values, adv     []byte
		haveLogProbs, haveValues  bool
		haveAdvantages, haveDType bool
	)
	ids := []ID{}
	observations := []Obs{}
	actions := []Act{}

	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return out, 0, goerr.Wrap(tag(ErrCheckpointCorrupt, protowire.ParseError(n)), "bad body tag")
		}
		body = body[n:]

		switch {
		case typ == protowire.VarintType && (num == fieldVersion || num == fieldLength):
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return out, 0, goerr.Wrap(tag(ErrCheckpointCorrupt, protowire.ParseError(n)), "bad varint", goerr.V("field", int(num)))
			}
			body = body[n:]
			if num == fieldVersion {
				version, haveVersion = v, true
			} else {
				length, haveLength = v, true
			}
		case typ == protowire.BytesType && num >= fieldDType && num <= fieldAdvantages && num != fieldLength:
			v, n := protowire.ConsumeBytes(body)
			if n < 0 {
				return out, 0, goerr.Wrap(tag(ErrCheckpointCorrupt, protowire.ParseError(n)), "truncated field", goerr.V("field", int(num)))
			}
			body = body[n:]
			switch num {
			case fieldDType:
				dtypeName, haveDType = string(v), true
			case fieldAgentIDs:
				id, err := codec.AgentIDs.Decode(v)
				if err != nil {
					return out, 0, goerr.Wrap(tag(ErrCheckpointCorrupt, err), "failed to decode agent id", goerr.V("index", len(ids)))
				}
				ids = append(ids, id)
			case fieldObservations:
				obs, err := codec.Observations.Decode(v)
				if err != nil {
					return out, 0, goerr.Wrap(tag(ErrCheckpointCorrupt, err), "failed to decode observation", goerr.V("index", len(observations)))
				}
				observations = append(observations, obs)
			case fieldActions:
				act, err := codec.Actions.Decode(v)
				if err != nil {
					return out, 0, goerr.Wrap(tag(ErrCheckpointCorrupt, err), "failed to decode action", goerr.V("index", len(actions)))
				}
				actions = append(actions, act)
			case fieldLogProbs:
				logProbs, haveLogProbs = v, true
			case fieldValues:
				values, haveValues = v, true
			case fieldAdvantages:
				adv, haveAdvantages = v, true
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, body)
			if n < 0 {
				return out, 0, goerr.Wrap(tag(ErrCheckpointCorrupt, protowire.ParseError(n)), "bad field", goerr.V("field", int(num)))
			}
			body = body[n:]
		}
	}

	if !haveVersion || version != checkpointVersion {
		return out, 0, goerr.Wrap(ErrCheckpointCorrupt, "unsupported checkpoint version", goerr.V("version", version))
	}
	if !haveDType || !haveLength || !haveLogProbs || !haveValues || !haveAdvantages {
		return out, 0, goerr.Wrap(ErrCheckpointCorrupt, "checkpoint is missing required fields")
	}
	dtype, err := tensor.ParseDType(dtypeName)
	if err != nil {
		return out, 0, goerr.Wrap(tag(ErrCheckpointCorrupt, err), "bad dtype")
	}

	out.AgentIDs = ids
	out.Observations = observations
	out.Actions = actions
	if out.LogProbs, err = decodeTensor(logProbs, dtype); err != nil {
		return out, 0, err
	}
	if out.Values, err = decodeTensor(values, dtype); err != nil {
		return out, 0, err
	}
	if out.Advantages, err = decodeTensor(adv, dtype); err != nil {
		return out, 0, err
	}

	for _, n := range out.Lengths() {
		if uint64(n) != length {
			return out, 0, goerr.Wrap(ErrCheckpointCorrupt, "container lengths disagree",
				goerr.V("length", length), goerr.V("lengths", out.Lengths()))
		}
	}
	return out, dtype, nil
}

func decodeTensor(raw []byte, dtype tensor.DType) (tensor.Tensor, error) {
	if len(raw)%dtype.Size() != 0 {
		return tensor.Tensor{}, goerr.Wrap(ErrCheckpointCorrupt, "packed tensor has a partial element",
			goerr.V("bytes", len(raw)), goerr.V("dtype", dtype.String()))
	}
	if dtype == tensor.Float64 {
		values := make([]float64, 0, len(raw)/8)
		for len(raw) > 0 {
			bits, n := protowire.ConsumeFixed64(raw)
			values = append(values, math.Float64frombits(bits))
			raw = raw[n:]
		}
		return tensor.FromFloat64(tensor.CPU, values), nil
	}
	values := make([]float32, 0, len(raw)/4)
	for len(raw) > 0 {
		bits, n := protowire.ConsumeFixed32(raw)
		values = append(values, math.Float32frombits(bits))
		raw = raw[n:]
	}
	return tensor.FromFloat32(tensor.CPU, values), nil
}
