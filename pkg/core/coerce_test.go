package core

import (
	"testing"

	"nexumdb/pkg/common"
)

func TestCoerce(t *testing.T) {
	tests := []struct {
		name    string
		in      common.Value
		to      common.DataType
		want    common.Value
		wantErr bool
	}{
		{"int to int", common.IntValue(7), common.TypeInteger, common.IntValue(7), false},
		{"whole float to int", common.FloatValue(3.0), common.TypeInteger, common.IntValue(3), false},
		{"fractional float to int", common.FloatValue(3.5), common.TypeInteger, common.Value{}, true},
		{"text to int", common.TextValue(" 42 "), common.TypeInteger, common.IntValue(42), false},
		{"bad text to int", common.TextValue("4x"), common.TypeInteger, common.Value{}, true},
		{"bool to int", common.BoolValue(true), common.TypeInteger, common.IntValue(1), false},

		{"int widens to float", common.IntValue(2), common.TypeFloat, common.FloatValue(2), false},
		{"text to float", common.TextValue("2.25"), common.TypeFloat, common.FloatValue(2.25), false},
		{"nan text to float", common.TextValue("NaN"), common.TypeFloat, common.Value{}, true},
		{"bool to float", common.BoolValue(false), common.TypeFloat, common.FloatValue(0), false},

		{"int to text", common.IntValue(-3), common.TypeText, common.TextValue("-3"), false},
		{"float to text", common.FloatValue(1.5), common.TypeText, common.TextValue("1.5"), false},
		{"bool to text", common.BoolValue(true), common.TypeText, common.TextValue("true"), false},

		{"int 1 to bool", common.IntValue(1), common.TypeBoolean, common.BoolValue(true), false},
		{"int 2 to bool", common.IntValue(2), common.TypeBoolean, common.Value{}, true},
		{"float 0 to bool", common.FloatValue(0), common.TypeBoolean, common.BoolValue(false), false},
		{"yes to bool", common.TextValue(" YES "), common.TypeBoolean, common.BoolValue(true), false},
		{"f to bool", common.TextValue("f"), common.TypeBoolean, common.BoolValue(false), false},
		{"maybe to bool", common.TextValue("maybe"), common.TypeBoolean, common.Value{}, true},

		{"null passes int", common.NullValue(), common.TypeInteger, common.NullValue(), false},
		{"null passes bool", common.NullValue(), common.TypeBoolean, common.NullValue(), false},
		{"null column type", common.IntValue(1), common.TypeNull, common.Value{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.in, tt.to)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Coerce(%v, %s) = %v, want error", tt.in, tt.to, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Coerce(%v, %s): %v", tt.in, tt.to, err)
			}
			if got != tt.want {
				t.Errorf("Coerce(%v, %s) = %+v, want %+v", tt.in, tt.to, got, tt.want)
			}
		})
	}
}
