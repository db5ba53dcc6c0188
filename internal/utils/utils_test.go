package utils

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty string", input: "", expected: nil},
		{name: "single value", input: "005930", expected: []string{"005930"}},
		{name: "varied spacing", input: "AAA,  BBB , CCC", expected: []string{"AAA", "BBB", "CCC"}},
		{name: "trailing comma", input: "AAA,", expected: []string{"AAA"}},
		{name: "only spaces", input: "   ", expected: nil},
		{name: "comma only", input: ",", expected: nil},
		{name: "multiple commas", input: ",,TRADE_EXECUTED,,ERROR,,", expected: []string{"TRADE_EXECUTED", "ERROR"}},
		{name: "duplicates keep first position", input: "B, A, B", expected: []string{"B", "A"}},
		{name: "case is preserved", input: "error,ERROR", expected: []string{"error", "ERROR"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseList(tt.input))
		})
	}
}

func TestParseSymbols(t *testing.T) {
	assert.Equal(t, []string{"AAPL", "MSFT", "005930"}, ParseSymbols(" aapl, MSFT,AAPL ,005930,"))
	assert.Nil(t, ParseSymbols(" , "))
}

func TestOperationTimer(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.DebugLevel)

	done := OperationTimer("backup", log)
	d := done()

	assert.GreaterOrEqual(t, int64(d), int64(0))
	assert.Contains(t, buf.String(), `"operation":"backup"`)
	assert.NotContains(t, buf.String(), "Slow operation")
}
