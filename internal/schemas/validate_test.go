package schemas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNames(t *testing.T) {
	assert.Equal(t, []string{ClassifyResponse, GenerateResponse, Profile}, Names())
}

func TestValidateBytes_ClassifyResponse(t *testing.T) {
	valid := `{"classified":[{"index":0,"value":"Jane","confidence":0.9},{"index":3,"value":null,"confidence":0}]}`
	assert.NoError(t, ValidateBytes(ClassifyResponse, []byte(valid)))

	err := ValidateBytes(ClassifyResponse, []byte(`{"classified":[{"index":-1,"confidence":2}]}`))
	require.Error(t, err)
	validationErr, ok := err.(*ValidationError)
	require.True(t, ok, "error should be ValidationError type")
	assert.Equal(t, ClassifyResponse, validationErr.Schema)
	assert.GreaterOrEqual(t, len(validationErr.Errors), 2)

	err = ValidateBytes(ClassifyResponse, []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "classified")
}

func TestValidateBytes_MalformedDocument(t *testing.T) {
	err := ValidateBytes(Profile, []byte(`{not json`))
	require.Error(t, err)
	_, ok := err.(*ValidationError)
	assert.True(t, ok)
}

func TestValidateBytes_Profile(t *testing.T) {
	assert.NoError(t, ValidateBytes(Profile, []byte(`{"firstName":"Jane","documents":[{"type":"resume","url":"https://x/cv.pdf"}]}`)))
	assert.Error(t, ValidateBytes(Profile, []byte(`{"documents":[{"label":"no type"}]}`)))
	assert.Error(t, ValidateBytes(Profile, []byte(`[]`)))
}

func TestValidateBytes_UnknownSchema(t *testing.T) {
	err := ValidateBytes("nope", []byte(`{}`))
	require.Error(t, err)
	var loadErr *SchemaLoadError
	assert.ErrorAs(t, err, &loadErr)
	assert.Contains(t, err.Error(), "schema not found")
}

func TestValidateJSONString(t *testing.T) {
	schema := `{"type":"object","required":["answer"],"properties":{"answer":{"type":"string"}}}`
	assert.NoError(t, ValidateJSONString(schema, `{"answer":"yes"}`))

	err := ValidateJSONString(schema, `{"answer":1}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "answer")

	err = ValidateJSONString(`{"type": 12}`, `{}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "string schema")
}
