package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoolHelpers(t *testing.T) {
	require.NotNil(t, BoolPtr(false))
	assert.True(t, *BoolPtr(true))
	assert.False(t, *BoolPtr(false))

	// nil means the column default, which is enabled.
	assert.True(t, BoolVal(nil))
	assert.True(t, BoolVal(BoolPtr(true)))
	assert.False(t, BoolVal(BoolPtr(false)))
}

func TestULIDGeneration(t *testing.T) {
	a, b := NewULID(), NewULID()
	assert.False(t, a.IsZero())
	assert.NotEqual(t, a, b)
	assert.Len(t, a.String(), 26)

	parsed, err := ParseULID(a.String())
	require.NoError(t, err)
	assert.Equal(t, a, parsed)
}

func TestParseULIDRejectsGarbage(t *testing.T) {
	for _, bad := range []string{"", "not-a-valid-ulid", "0"} {
		_, err := ParseULID(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestULIDDriverRoundtrip(t *testing.T) {
	id := NewULID()

	// Zero stores as NULL so the column stays nullable.
	val, err := ULID{}.Value()
	require.NoError(t, err)
	assert.Nil(t, val)

	val, err = id.Value()
	require.NoError(t, err)
	assert.Equal(t, id.String(), val)

	cases := []struct {
		name    string
		input   any
		want    ULID
		wantErr bool
	}{
		{name: "string", input: id.String(), want: id},
		{name: "bytes", input: []byte(id.String()), want: id},
		{name: "nil", input: nil, want: ULID{}},
		{name: "empty string", input: "", want: ULID{}},
		{name: "empty bytes", input: []byte{}, want: ULID{}},
		{name: "garbage", input: "bad-ulid", wantErr: true},
		{name: "wrong type", input: 42, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var u ULID
			err := u.Scan(tc.input)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, u)
		})
	}
}

func TestULIDJSON(t *testing.T) {
	type wrapper struct {
		ID ULID `json:"id"`
	}

	original := wrapper{ID: NewULID()}
	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded wrapper
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original.ID, decoded.ID)

	// Zero encodes as null and null decodes back to zero.
	data, err = json.Marshal(wrapper{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":null}`, string(data))
	require.NoError(t, json.Unmarshal([]byte(`{"id":null}`), &decoded))
	assert.True(t, decoded.ID.IsZero())

	assert.Error(t, json.Unmarshal([]byte(`12345`), &decoded.ID))
	assert.Error(t, json.Unmarshal([]byte(`"not-a-ulid"`), &decoded.ID))
}

func TestNow(t *testing.T) {
	before := time.Now()
	got := Now()
	assert.False(t, got.Before(before))
	assert.WithinDuration(t, time.Now(), got, time.Second)
}

func TestBaseModelBeforeCreate(t *testing.T) {
	m := &BaseModel{}
	require.NoError(t, m.BeforeCreate(nil))
	assert.False(t, m.ID.IsZero())

	existing := NewULID()
	m = &BaseModel{ID: existing}
	require.NoError(t, m.BeforeCreate(nil))
	assert.Equal(t, existing, m.ID)
}
