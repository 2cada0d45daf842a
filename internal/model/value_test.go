package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFieldType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want FieldType
		ok   bool
	}{
		{"", TypeFloat, true},
		{"float", TypeFloat, true},
		{"int", TypeInt, true},
		{"Integer", TypeInt, true},
		{"str", TypeString, true},
		{"string", TypeString, true},
		{"bool", TypeBool, true},
		{"decimal", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseFieldType(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestCoerce(t *testing.T) {
	t.Parallel()

	t.Run("float accepts any number", func(t *testing.T) {
		t.Parallel()
		for _, raw := range []any{25.0, 25, int64(25), json.Number("25")} {
			v, err := Coerce(TypeFloat, raw)
			require.NoError(t, err)
			n, ok := v.Number()
			assert.True(t, ok)
			assert.Equal(t, 25.0, n)
			assert.Equal(t, TypeFloat, v.Type())
		}
	})

	t.Run("float rejects string and bool", func(t *testing.T) {
		t.Parallel()
		_, err := Coerce(TypeFloat, "25")
		assert.Error(t, err)
		_, err = Coerce(TypeFloat, true)
		assert.Error(t, err)
	})

	t.Run("int requires integral value", func(t *testing.T) {
		t.Parallel()
		v, err := Coerce(TypeInt, 3.0)
		require.NoError(t, err)
		assert.Equal(t, int64(3), v.Interface())

		_, err = Coerce(TypeInt, 3.5)
		assert.Error(t, err)
	})

	t.Run("int keeps exact json integers", func(t *testing.T) {
		t.Parallel()
		v, err := Coerce(TypeInt, json.Number("9007199254740993"))
		require.NoError(t, err)
		assert.Equal(t, int64(9007199254740993), v.Interface())

		v, err = Coerce(TypeInt, json.Number("-9223372036854775808"))
		require.NoError(t, err)
		assert.Equal(t, int64(-9223372036854775808), v.Interface())

		v, err = Coerce(TypeInt, json.Number("4.0"))
		require.NoError(t, err)
		assert.Equal(t, int64(4), v.Interface())
	})

	t.Run("int rejects values outside int64", func(t *testing.T) {
		t.Parallel()
		for _, raw := range []any{
			json.Number("1e19"),
			json.Number("9223372036854775808"),
			9.3e18,
			-1e19,
			uint64(1 << 63),
		} {
			_, err := Coerce(TypeInt, raw)
			assert.ErrorContains(t, err, "out of range", "%v", raw)
		}
	})

	t.Run("string and bool", func(t *testing.T) {
		t.Parallel()
		v, err := Coerce(TypeString, "abc")
		require.NoError(t, err)
		s, ok := v.Str()
		assert.True(t, ok)
		assert.Equal(t, "abc", s)

		v, err = Coerce(TypeBool, true)
		require.NoError(t, err)
		assert.Equal(t, true, v.Interface())

		_, err = Coerce(TypeString, 1.0)
		assert.Error(t, err)
		_, err = Coerce(TypeBool, "true")
		assert.Error(t, err)
	})

	t.Run("nil is null", func(t *testing.T) {
		t.Parallel()
		v, err := Coerce(TypeFloat, nil)
		require.NoError(t, err)
		assert.True(t, v.IsNull())
		assert.Nil(t, v.Interface())
	})
}

func TestValueWithNumber(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Float(-40), Float(-50).WithNumber(-40))
	assert.Equal(t, Int(100), Int(110).WithNumber(100))
	assert.Equal(t, Int(9223372036854775807), Int(0).WithNumber(1e30))
	assert.Equal(t, Int(-9223372036854775808), Int(0).WithNumber(-1e30))
	assert.Equal(t, String("x"), String("x").WithNumber(1))
}

func TestValueNumberViews(t *testing.T) {
	t.Parallel()

	n, ok := Bool(true).Number()
	assert.True(t, ok)
	assert.Equal(t, 1.0, n)

	_, ok = String("x").Number()
	assert.False(t, ok)

	assert.Equal(t, "null", Null().String())
	assert.Equal(t, "2.5", Float(2.5).String())
	assert.Equal(t, `"x"`, String("x").String())
}
