package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveVariablesNamed(t *testing.T) {
	row := map[string]string{
		"phone": "+15550000001",
		"name":  "Ada",
		"city":  "London",
	}
	got := ResolveVariables("Hi {name} from {city}", nil, row)
	assert.Equal(t, "Hi Ada from London", got)
}

func TestResolveVariablesSkipsPhoneColumn(t *testing.T) {
	row := map[string]string{"phone": "+15550000001"}
	got := ResolveVariables("Call {phone} back", nil, row)
	assert.Equal(t, "Call {phone} back", got)
}

func TestResolveVariablesPositional(t *testing.T) {
	got := ResolveVariables("Order {{1}} ships {var2}", []string{"A-100", "tomorrow"}, nil)
	assert.Equal(t, "Order A-100 ships tomorrow", got)
}

func TestResolveVariablesNamedAndPositional(t *testing.T) {
	row := map[string]string{"name": "Grace"}
	got := ResolveVariables("{name}: code {{1}}", []string{"SAVE20"}, row)
	assert.Equal(t, "Grace: code SAVE20", got)
}

func TestResolveVariablesIdempotent(t *testing.T) {
	variables := []string{"Bob"}
	row := map[string]string{"name": "X", "phone": "555"}

	once := ResolveVariables("Hi {{1}}, {name}!", variables, row)
	assert.Equal(t, "Hi Bob, X!", once)

	// Resolving the already-resolved text with the same inputs changes
	// nothing.
	twice := ResolveVariables(once, variables, row)
	assert.Equal(t, once, twice)
}

func TestResolveVariablesUnmatchedLeftIntact(t *testing.T) {
	got := ResolveVariables("Hi {{1}} and {{2}}", []string{"Ada"}, nil)
	assert.Equal(t, "Hi Ada and {{2}}", got)
}

func TestResolveVariablesNoPlaceholders(t *testing.T) {
	got := ResolveVariables("plain text", []string{"unused"}, map[string]string{"name": "x"})
	assert.Equal(t, "plain text", got)
}

func TestHasPlaceholders(t *testing.T) {
	assert.True(t, hasPlaceholders("hello {{1}}"))
	assert.True(t, hasPlaceholders("hello {var3}"))
	assert.False(t, hasPlaceholders("hello {name}"))
	assert.False(t, hasPlaceholders("hello world"))
}
