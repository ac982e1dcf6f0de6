package core

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"nexumdb/pkg/common"
)

// Coerce converts v to the declared column type. NULL passes through every
// type.
func Coerce(v common.Value, to common.DataType) (common.Value, error) {
	if v.IsNull() {
		return v, nil
	}
	switch to {
	case common.TypeInteger:
		return toInteger(v)
	case common.TypeFloat:
		return toFloat(v)
	case common.TypeText:
		return common.TextValue(v.String()), nil
	case common.TypeBoolean:
		return toBoolean(v)
	}
	return common.Value{}, fmt.Errorf("column type %s does not accept values", to)
}

func toInteger(v common.Value) (common.Value, error) {
	switch v.Kind {
	case common.TypeInteger:
		return v, nil
	case common.TypeFloat:
		if v.Float == math.Trunc(v.Float) && v.Float >= math.MinInt64 && v.Float < math.MaxInt64 {
			return common.IntValue(int64(v.Float)), nil
		}
	case common.TypeText:
		if n, err := strconv.ParseInt(strings.TrimSpace(v.Text), 10, 64); err == nil {
			return common.IntValue(n), nil
		}
	case common.TypeBoolean:
		if v.Bool {
			return common.IntValue(1), nil
		}
		return common.IntValue(0), nil
	}
	return common.Value{}, cannotCoerce(v, common.TypeInteger)
}

func toFloat(v common.Value) (common.Value, error) {
	switch v.Kind {
	case common.TypeFloat:
		return v, nil
	case common.TypeInteger:
		return common.FloatValue(float64(v.Int)), nil
	case common.TypeText:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Text), 64)
		if err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return common.FloatValue(f), nil
		}
	case common.TypeBoolean:
		if v.Bool {
			return common.FloatValue(1), nil
		}
		return common.FloatValue(0), nil
	}
	return common.Value{}, cannotCoerce(v, common.TypeFloat)
}

func toBoolean(v common.Value) (common.Value, error) {
	switch v.Kind {
	case common.TypeBoolean:
		return v, nil
	case common.TypeInteger:
		switch v.Int {
		case 0:
			return common.BoolValue(false), nil
		case 1:
			return common.BoolValue(true), nil
		}
	case common.TypeFloat:
		switch v.Float {
		case 0:
			return common.BoolValue(false), nil
		case 1:
			return common.BoolValue(true), nil
		}
	case common.TypeText:
		switch strings.ToLower(strings.TrimSpace(v.Text)) {
		case "true", "t", "yes", "1":
			return common.BoolValue(true), nil
		case "false", "f", "no", "0":
			return common.BoolValue(false), nil
		}
	}
	return common.Value{}, cannotCoerce(v, common.TypeBoolean)
}

func cannotCoerce(v common.Value, to common.DataType) error {
	if v.Kind == common.TypeText {
		return fmt.Errorf("cannot coerce %q to %s", v.Text, to)
	}
	return fmt.Errorf("cannot coerce %s %s to %s", v.Kind, v.String(), to)
}
