package storage

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
)

var decimalType = reflect.TypeOf(decimal.Decimal{})

// CanonicalDecimalString renders d as the signed decimal string money
// amounts use on the wire and in storage: trailing fractional zeros
// trimmed, "-0" normalized to "0".
func CanonicalDecimalString(d decimal.Decimal) string {
	s := d.String()
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimRight(s, ".")
	}
	if s == "" || s == "-" || s == "-0" {
		s = "0"
	}
	return s
}

// decimalValueEncoder persists a decimal.Decimal as its canonical
// decimal string. shopspring/decimal has no bson codec and no exported
// fields of its own, so without this the driver falls back to encoding
// the zero value for every money field.
func decimalValueEncoder(_ bson.EncodeContext, vw bson.ValueWriter, val reflect.Value) error {
	if !val.IsValid() || val.Type() != decimalType {
		return fmt.Errorf("decimalValueEncoder: unsupported type %v", val.Type())
	}
	d := val.Interface().(decimal.Decimal)
	return vw.WriteString(CanonicalDecimalString(d))
}

// decimalValueDecoder parses a stored decimal string back into a
// decimal.Decimal. A missing/null field decodes to zero rather than
// erroring, matching the driver's usual zero-value behavior.
func decimalValueDecoder(_ bson.DecodeContext, vr bson.ValueReader, val reflect.Value) error {
	if !val.IsValid() || val.Type() != decimalType {
		return fmt.Errorf("decimalValueDecoder: unsupported type %v", val.Type())
	}

	switch vr.Type() {
	case bson.TypeNull:
		if err := vr.ReadNull(); err != nil {
			return err
		}
		val.Set(reflect.ValueOf(decimal.Zero))
		return nil
	case bson.TypeUndefined:
		if err := vr.ReadUndefined(); err != nil {
			return err
		}
		val.Set(reflect.ValueOf(decimal.Zero))
		return nil
	case bson.TypeString:
		s, err := vr.ReadString()
		if err != nil {
			return err
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return fmt.Errorf("parse stored decimal %q: %w", s, err)
		}
		val.Set(reflect.ValueOf(d))
		return nil
	default:
		return fmt.Errorf("decimalValueDecoder: cannot decode bson type %v into decimal.Decimal", vr.Type())
	}
}

// decimalRegistry builds the bson registry money-bearing documents
// must use so decimal.Decimal fields round-trip through MongoDB as
// canonical decimal strings instead of silently decoding to zero.
func decimalRegistry() *bson.Registry {
	registry := bson.NewRegistry()
	registry.RegisterTypeEncoder(decimalType, bson.ValueEncoderFunc(decimalValueEncoder))
	registry.RegisterTypeDecoder(decimalType, bson.ValueDecoderFunc(decimalValueDecoder))
	return registry
}
