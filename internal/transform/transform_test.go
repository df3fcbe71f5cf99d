package transform

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/sourcify-extractor/internal/sourcify"
	"github.com/pendergraft/sourcify-extractor/pkg/ethbytecodedb"
)

const testMetadata = `{"bytecode":"0x608060405234801561001057600080fd5b50","compiler":{"version":"0.8.20"}}`

func solidityInfo() *sourcify.ContractInfo {
	return &sourcify.ContractInfo{
		Compiler: sourcify.CompilerInfo{Version: "0.8.20+commit.a1b2c3d4"},
		Language: "Solidity",
		Sources: map[string]sourcify.Source{
			"src/Token.sol":    {Content: "contract Token {}"},
			"lib/SafeMath.sol": {Content: "library SafeMath {}"},
		},
		Settings: json.RawMessage(`{"optimizer":{"enabled":true,"runs":200},"evmVersion":"paris","outputSelection":{"*":{"*":["abi"]}}}`),
		Files:    map[string]string{MetadataFile: testMetadata},
	}
}

func TestBuildRequest(t *testing.T) {
	req, err := BuildRequest(solidityInfo())
	require.NoError(t, err)

	assert.Equal(t, "0x608060405234801561001057600080fd5b50", req.Bytecode)
	assert.Equal(t, ethbytecodedb.BytecodeTypeCreationInput, req.BytecodeType)
	assert.Equal(t, "v0.8.20+commit.a1b2c3d4", req.CompilerVersion)
	require.NotNil(t, req.Metadata)
	assert.Equal(t, testMetadata, *req.Metadata)

	var input map[string]any
	require.NoError(t, json.Unmarshal([]byte(req.Input), &input))
	assert.Equal(t, "Solidity", input["language"])
	sources := input["sources"].(map[string]any)
	assert.Len(t, sources, 2)
	assert.Equal(t, "contract Token {}", sources["src/Token.sol"])
	assert.Equal(t, "library SafeMath {}", sources["lib/SafeMath.sol"])
}

func TestBuildRequest_SourcesAreContentStrings(t *testing.T) {
	req, err := BuildRequest(solidityInfo())
	require.NoError(t, err)

	var input struct {
		Sources map[string]json.RawMessage `json:"sources"`
	}
	require.NoError(t, json.Unmarshal([]byte(req.Input), &input))

	var content string
	require.NoError(t, json.Unmarshal(input.Sources["src/Token.sol"], &content),
		"source entries must be plain strings, got %s", input.Sources["src/Token.sol"])
	assert.Equal(t, "contract Token {}", content)
}

func TestBuildRequest_LanguageCaseInsensitive(t *testing.T) {
	for _, lang := range []string{"solidity", "SOLIDITY", "Solidity"} {
		info := solidityInfo()
		info.Language = lang
		_, err := BuildRequest(info)
		assert.NoError(t, err, lang)
	}
}

func TestBuildRequest_Errors(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(info *sourcify.ContractInfo)
		wantSkip   bool
		wantField  string
		wantDecode bool
	}{
		{
			name:     "vyper is skipped",
			mutate:   func(info *sourcify.ContractInfo) { info.Language = "Vyper" },
			wantSkip: true,
		},
		{
			name:      "missing metadata document",
			mutate:    func(info *sourcify.ContractInfo) { delete(info.Files, MetadataFile) },
			wantField: "metadata document metadata.json",
		},
		{
			name:      "missing bytecode",
			mutate:    func(info *sourcify.ContractInfo) { info.Files[MetadataFile] = `{"compiler":{}}` },
			wantField: "bytecode",
		},
		{
			name:      "null bytecode",
			mutate:    func(info *sourcify.ContractInfo) { info.Files[MetadataFile] = `{"bytecode":null}` },
			wantField: "bytecode",
		},
		{
			name:      "non-string bytecode",
			mutate:    func(info *sourcify.ContractInfo) { info.Files[MetadataFile] = `{"bytecode":42}` },
			wantField: "bytecode",
		},
		{
			name:       "malformed metadata",
			mutate:     func(info *sourcify.ContractInfo) { info.Files[MetadataFile] = `{not json` },
			wantDecode: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := solidityInfo()
			tt.mutate(info)

			req, err := BuildRequest(info)
			require.Error(t, err)
			assert.Nil(t, req)

			assert.Equal(t, tt.wantSkip, errors.Is(err, ErrUnsupportedLanguage))

			var fieldErr *MissingFieldError
			if tt.wantField != "" {
				require.True(t, errors.As(err, &fieldErr))
				assert.Equal(t, tt.wantField, fieldErr.Field)
			} else {
				assert.False(t, errors.As(err, &fieldErr))
			}

			var decodeErr *DecodeError
			assert.Equal(t, tt.wantDecode, errors.As(err, &decodeErr))
		})
	}
}

func TestStandardJSONInput_RoundTrip(t *testing.T) {
	sources := map[string]sourcify.Source{
		"contracts/A.sol":       {Content: "pragma solidity ^0.8.0;\ncontract A {}"},
		"contracts/B.sol":       {Content: "import \"./A.sol\";\ncontract B is A {}"},
		"@oz/utils/Strings.sol": {Content: "library Strings { /* é */ }"},
	}
	settings := json.RawMessage(`{"remappings":["@oz/=lib/oz/"],"optimizer":{"enabled":false,"runs":200},"libraries":{},"metadata":{"bytecodeHash":"ipfs"}}`)

	data, err := json.Marshal(BuildStandardJSONInput(sources, settings))
	require.NoError(t, err)

	var parsed StandardJSONInput
	require.NoError(t, json.Unmarshal(data, &parsed))

	assert.Equal(t, "Solidity", parsed.Language)
	require.Len(t, parsed.Sources, len(sources))
	for path, src := range sources {
		assert.Equal(t, src.Content, parsed.Sources[path], path)
	}
	assert.JSONEq(t, string(settings), string(parsed.Settings))
}

func TestBuildStandardJSONInput_NilSettings(t *testing.T) {
	data, err := json.Marshal(BuildStandardJSONInput(nil, nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"language":"Solidity","sources":{},"settings":null}`, string(data))
}

func TestNormalizeCompilerVersion(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0.8.20+commit.a1b2c3d4", "v0.8.20+commit.a1b2c3d4"},
		{"v0.8.20+commit.a1b2c3d4", "v0.8.20+commit.a1b2c3d4"},
		{"0.4.11+commit.68ef5810", "v0.4.11+commit.68ef5810"},
		{"0.8.21-nightly.2023.5.1+commit.abc12345", "v0.8.21-nightly.2023.5.1+commit.abc12345"},
		{"latest", "latest"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeCompilerVersion(tt.in))
		})
	}
}
