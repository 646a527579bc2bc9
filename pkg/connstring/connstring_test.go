package connstring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		ikey     string
		endpoint string
		empty    bool
	}{
		{
			name:  "empty",
			input: "",
			empty: true,
		},
		{
			name:  "garbage",
			input: "not a connection string",
			empty: true,
		},
		{
			name:     "key only uses default endpoint",
			input:    "InstrumentationKey=00000000-0000-0000-0000-000000000000",
			ikey:     "00000000-0000-0000-0000-000000000000",
			endpoint: DefaultIngestionEndpoint,
		},
		{
			name:     "explicit endpoint, keys are case-insensitive",
			input:    "instrumentationKEY=abc;INGESTIONENDPOINT=https://westeurope-1.in.example.com/",
			ikey:     "abc",
			endpoint: "https://westeurope-1.in.example.com/",
		},
		{
			name:     "endpoint suffix with location",
			input:    "InstrumentationKey=abc;EndpointSuffix=applicationinsights.azure.cn;Location=chinaeast2",
			ikey:     "abc",
			endpoint: "https://chinaeast2.dc.applicationinsights.azure.cn",
		},
		{
			name:     "endpoint suffix without location",
			input:    "InstrumentationKey=abc;EndpointSuffix=example.com",
			ikey:     "abc",
			endpoint: "https://dc.example.com",
		},
		{
			name:     "explicit endpoint wins over suffix",
			input:    "InstrumentationKey=abc;EndpointSuffix=example.com;IngestionEndpoint=https://custom",
			ikey:     "abc",
			endpoint: "https://custom",
		},
		{
			name:     "pairs with extra separators are ignored",
			input:    "InstrumentationKey=abc;IngestionEndpoint=https://a=b;;Foo",
			ikey:     "abc",
			endpoint: DefaultIngestionEndpoint,
		},
		{
			name:     "endpoint without key",
			input:    "IngestionEndpoint=https://only-endpoint",
			endpoint: "https://only-endpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.input)
			if tt.empty {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.ikey, got.InstrumentationKey())
			assert.Equal(t, tt.endpoint, got.IngestionEndpoint())
		})
	}
}
