package terrainrpc

import (
	"errors"
	"fmt"
	"math"

	"github.com/signalsfoundry/terrain-visibility/core"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrMalformed is returned for messages that do not follow the wire shape.
var ErrMalformed = errors.New("malformed message")

// EncodeQuery turns points into a list of [lon, lat, height] triples.
func EncodeQuery(points []core.GeoPoint) *structpb.ListValue {
	out := &structpb.ListValue{Values: make([]*structpb.Value, len(points))}
	for i, p := range points {
		out.Values[i] = structpb.NewListValue(&structpb.ListValue{Values: []*structpb.Value{
			structpb.NewNumberValue(p.LonDeg),
			structpb.NewNumberValue(p.LatDeg),
			structpb.NewNumberValue(p.Height),
		}})
	}
	return out
}

// DecodeQuery parses a list of [lon, lat] or [lon, lat, height] entries.
func DecodeQuery(in *structpb.ListValue) ([]core.GeoPoint, error) {
	values := in.GetValues()
	out := make([]core.GeoPoint, len(values))
	for i, v := range values {
		triple := v.GetListValue()
		if triple == nil {
			return nil, fmt.Errorf("%w: entry %d is not a list", ErrMalformed, i)
		}
		coords := triple.GetValues()
		if len(coords) != 2 && len(coords) != 3 {
			return nil, fmt.Errorf("%w: entry %d has %d coordinates", ErrMalformed, i, len(coords))
		}
		var nums [3]float64
		for j, c := range coords {
			n, ok := c.GetKind().(*structpb.Value_NumberValue)
			if !ok {
				return nil, fmt.Errorf("%w: entry %d coordinate %d is not a number", ErrMalformed, i, j)
			}
			nums[j] = n.NumberValue
		}
		p := core.GeoPoint{LonDeg: nums[0], LatDeg: nums[1], Height: nums[2]}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		out[i] = p
	}
	return out, nil
}

// EncodeHeights writes one number per height; NaN becomes null.
func EncodeHeights(heights []float64) *structpb.ListValue {
	out := &structpb.ListValue{Values: make([]*structpb.Value, len(heights))}
	for i, h := range heights {
		if math.IsNaN(h) || math.IsInf(h, 0) {
			out.Values[i] = structpb.NewNullValue()
			continue
		}
		out.Values[i] = structpb.NewNumberValue(h)
	}
	return out
}

// DecodeHeights reads a response; null entries come back as NaN.
func DecodeHeights(in *structpb.ListValue) ([]float64, error) {
	values := in.GetValues()
	out := make([]float64, len(values))
	for i, v := range values {
		switch k := v.GetKind().(type) {
		case *structpb.Value_NumberValue:
			out[i] = k.NumberValue
		case *structpb.Value_NullValue:
			out[i] = math.NaN()
		default:
			return nil, fmt.Errorf("%w: height %d is neither a number nor null", ErrMalformed, i)
		}
	}
	return out, nil
}
