package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeatherRequest_Validate(t *testing.T) {
	assert.NoError(t, WeatherRequest{Location: "Tokyo"}.Validate())

	err := WeatherRequest{Location: "  "}.Validate()
	require.Error(t, err)
	assert.True(t, IsErrorCode(err, ErrInvalidRequest))
	assert.Equal(t, "[INVALID_REQUEST] No location provided", err.Error())
}

func TestWeatherRequest_Payload(t *testing.T) {
	assert.Equal(t, Payload{"location": "Paris"}, WeatherRequest{Location: "Paris"}.Payload())
	assert.Equal(t,
		Payload{"location": "Paris", "request_id": "r1"},
		WeatherRequest{Location: "Paris", RequestID: "r1"}.Payload())
}

func TestDecodePayload(t *testing.T) {
	p := WeatherResponse{Location: "Tokyo", Analysis: "Sunny.", Price: 0.99, RequestID: "r1"}.Payload()

	var got WeatherResponse
	require.NoError(t, DecodePayload(p, &got))
	assert.Equal(t, "Tokyo", got.Location)
	assert.Equal(t, "Sunny.", got.Analysis)
	assert.InDelta(t, 0.99, got.Price, 1e-9)
	assert.Equal(t, "r1", p.RequestID())

	var req WeatherRequest
	err := DecodePayload(Payload{"location": 42}, &req)
	assert.True(t, IsErrorCode(err, ErrInvalidEnvelope))
}

func TestPayload_Helpers(t *testing.T) {
	var nilPayload Payload
	assert.Equal(t, "", nilPayload.String("location"))
	assert.Nil(t, nilPayload.Clone())

	p := Payload{"location": "Oslo", "n": 3}
	c := p.Clone()
	c["location"] = "Bergen"
	assert.Equal(t, "Oslo", p.String("location"))
	assert.Equal(t, "", p.String("n"))
}
