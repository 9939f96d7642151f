package records

import (
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Feature keys used in stored examples.
const (
	FeatureImage = "image"
	FeatureLabel = "label"
	FeatureID    = "id"
)

// Field numbers of the tf.train.Example message family.
const (
	fieldExampleFeatures protowire.Number = 1
	fieldFeaturesMap     protowire.Number = 1
	fieldMapKey          protowire.Number = 1
	fieldMapValue        protowire.Number = 2
	fieldBytesList       protowire.Number = 1
	fieldFloatList       protowire.Number = 2
	fieldInt64List       protowire.Number = 3
	fieldListValue       protowire.Number = 1
)

type feature struct {
	bytes [][]byte
	ints  []int64
}

// EncodeExample serializes a record as a tf.train.Example with the image,
// label and id features.
func EncodeExample(rec SampleRecord) []byte {
	feats := map[string][]byte{
		FeatureImage: appendBytesFeature(nil, rec.Raw),
		FeatureLabel: appendInt64Feature(nil, rec.Label),
	}
	if rec.ID != "" {
		feats[FeatureID] = appendBytesFeature(nil, []byte(rec.ID))
	}
	keys := make([]string, 0, len(feats))
	for k := range feats {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var features []byte
	for _, k := range keys {
		var entry []byte
		entry = protowire.AppendTag(entry, fieldMapKey, protowire.BytesType)
		entry = protowire.AppendString(entry, k)
		entry = protowire.AppendTag(entry, fieldMapValue, protowire.BytesType)
		entry = protowire.AppendBytes(entry, feats[k])

		features = protowire.AppendTag(features, fieldFeaturesMap, protowire.BytesType)
		features = protowire.AppendBytes(features, entry)
	}

	var out []byte
	out = protowire.AppendTag(out, fieldExampleFeatures, protowire.BytesType)
	out = protowire.AppendBytes(out, features)
	return out
}

func appendBytesFeature(b []byte, v []byte) []byte {
	var list []byte
	list = protowire.AppendTag(list, fieldListValue, protowire.BytesType)
	list = protowire.AppendBytes(list, v)
	b = protowire.AppendTag(b, fieldBytesList, protowire.BytesType)
	return protowire.AppendBytes(b, list)
}

func appendInt64Feature(b []byte, v int64) []byte {
	var packed []byte
	packed = protowire.AppendVarint(packed, uint64(v))
	var list []byte
	list = protowire.AppendTag(list, fieldListValue, protowire.BytesType)
	list = protowire.AppendBytes(list, packed)
	b = protowire.AppendTag(b, fieldInt64List, protowire.BytesType)
	return protowire.AppendBytes(b, list)
}

// DecodeExample parses a serialized tf.train.Example into a SampleRecord.
// position is used as the record ID when the example carries no id feature.
func DecodeExample(b []byte, position int) (SampleRecord, error) {
	feats, err := parseExample(b)
	if err != nil {
		return SampleRecord{}, errors.Wrapf(ErrCorruptRecord, "parse example: %v", err)
	}

	img, ok := feats[FeatureImage]
	if !ok || len(img.bytes) == 0 {
		return SampleRecord{}, errors.Wrap(ErrMissingFeature, FeatureImage)
	}
	rec := SampleRecord{Raw: img.bytes[0]}

	if lab, ok := feats[FeatureLabel]; ok && len(lab.ints) > 0 {
		rec.Label = lab.ints[0]
	} else {
		return SampleRecord{}, errors.Wrap(ErrMissingFeature, FeatureLabel)
	}

	if id, ok := feats[FeatureID]; ok && len(id.bytes) > 0 {
		rec.ID = string(id.bytes[0])
	} else {
		rec.ID = strconv.Itoa(position)
	}
	return rec, nil
}

func parseExample(b []byte) (map[string]feature, error) {
	feats := make(map[string]feature)
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num != fieldExampleFeatures || typ != protowire.BytesType {
			return nil
		}
		return walkFields(v, func(num protowire.Number, typ protowire.Type, entry []byte) error {
			if num != fieldFeaturesMap || typ != protowire.BytesType {
				return nil
			}
			return parseMapEntry(entry, feats)
		})
	})
	if err != nil {
		return nil, err
	}
	return feats, nil
}

func parseMapEntry(b []byte, feats map[string]feature) error {
	var (
		key   string
		value feature
	)
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch {
		case num == fieldMapKey && typ == protowire.BytesType:
			key = string(v)
		case num == fieldMapValue && typ == protowire.BytesType:
			f, err := parseFeature(v)
			if err != nil {
				return err
			}
			value = f
		}
		return nil
	})
	if err != nil {
		return err
	}
	if key != "" {
		feats[key] = value
	}
	return nil
}

func parseFeature(b []byte) (feature, error) {
	var f feature
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, list []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case fieldBytesList:
			return walkFields(list, func(num protowire.Number, typ protowire.Type, v []byte) error {
				if num == fieldListValue && typ == protowire.BytesType {
					f.bytes = append(f.bytes, v)
				}
				return nil
			})
		case fieldInt64List:
			return walkInt64List(list, &f.ints)
		case fieldFloatList:
			// float features are not used by the pipeline
		}
		return nil
	})
	return f, err
}

// walkInt64List accepts both packed and unpacked encodings.
func walkInt64List(b []byte, out *[]int64) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "int64 list tag")
		}
		b = b[n:]
		switch {
		case num == fieldListValue && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return errors.Wrap(protowire.ParseError(n), "int64 value")
			}
			*out = append(*out, int64(v))
			b = b[n:]
		case num == fieldListValue && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return errors.Wrap(protowire.ParseError(n), "packed int64 values")
			}
			for len(packed) > 0 {
				v, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return errors.Wrap(protowire.ParseError(m), "packed int64 value")
				}
				*out = append(*out, int64(v))
				packed = packed[m:]
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return errors.Wrap(protowire.ParseError(n), "skip field")
			}
			b = b[n:]
		}
	}
	return nil
}

// walkFields calls fn for every length-delimited field in b and skips the rest.
// Non length-delimited fields are passed with a nil value.
func walkFields(b []byte, fn func(protowire.Number, protowire.Type, []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "tag")
		}
		b = b[n:]
		if typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "field %d", num)
			}
			if err := fn(num, typ, v); err != nil {
				return err
			}
			b = b[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return errors.Wrapf(protowire.ParseError(n), "field %d", num)
		}
		if err := fn(num, typ, nil); err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}
