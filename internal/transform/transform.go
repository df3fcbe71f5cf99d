// Package transform turns Sourcify contract info into eth-bytecode-db
// standard-json verification requests.
package transform

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/pendergraft/sourcify-extractor/internal/sourcify"
	"github.com/pendergraft/sourcify-extractor/pkg/ethbytecodedb"
)

// MetadataFile is the auxiliary file that carries the creation bytecode.
const MetadataFile = "metadata.json"

// ErrUnsupportedLanguage is returned for contracts that are not Solidity.
// Callers treat it as a skip, not a failure.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// MissingFieldError reports a required file or field that was absent.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing %s", e.Field)
}

// DecodeError reports a document that could not be parsed or serialized.
type DecodeError struct {
	What string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s: %v", e.What, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// StandardJSONInput is the standard-json input forwarded to the verifier.
// Sources map each path to its content.
type StandardJSONInput struct {
	Language string            `json:"language"`
	Sources  map[string]string `json:"sources"`
	Settings json.RawMessage   `json:"settings"`
}

// IsSolidity reports whether a language tag names Solidity, ignoring case.
func IsSolidity(language string) bool {
	return strings.EqualFold(language, "solidity")
}

// BuildStandardJSONInput projects the sources down to their content, keyed
// by path, and passes settings through untouched.
func BuildStandardJSONInput(sources map[string]sourcify.Source, settings json.RawMessage) *StandardJSONInput {
	entries := make(map[string]string, len(sources))
	for path, src := range sources {
		entries[path] = src.Content
	}
	if len(settings) == 0 {
		settings = json.RawMessage("null")
	}
	return &StandardJSONInput{
		Language: "Solidity",
		Sources:  entries,
		Settings: settings,
	}
}

// NormalizeCompilerVersion adds the "v" prefix used by the verifier to
// versions such as 0.8.20+commit.a1b2c3d4. Other strings pass through.
func NormalizeCompilerVersion(version string) string {
	if strings.HasPrefix(version, "v") {
		return version
	}
	if semver.IsValid("v" + version) {
		return "v" + version
	}
	return version
}

// BuildRequest builds a verification request for a Solidity contract.
func BuildRequest(info *sourcify.ContractInfo) (*ethbytecodedb.VerifySolidityStandardJSONRequest, error) {
	if !IsSolidity(info.Language) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, info.Language)
	}

	rawMetadata, ok := info.Files[MetadataFile]
	if !ok {
		return nil, &MissingFieldError{Field: "metadata document " + MetadataFile}
	}

	bytecode, err := metadataBytecode(rawMetadata)
	if err != nil {
		return nil, err
	}

	input, err := json.Marshal(BuildStandardJSONInput(info.Sources, info.Settings))
	if err != nil {
		return nil, &DecodeError{What: "standard-json input", Err: err}
	}

	return &ethbytecodedb.VerifySolidityStandardJSONRequest{
		Bytecode:        bytecode,
		BytecodeType:    ethbytecodedb.BytecodeTypeCreationInput,
		CompilerVersion: NormalizeCompilerVersion(info.Compiler.Version),
		Input:           string(input),
		Metadata:        &rawMetadata,
	}, nil
}

// metadataBytecode extracts the bytecode string from a metadata document.
// A bytecode that is absent, null or not a string counts as missing.
func metadataBytecode(rawMetadata string) (string, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(rawMetadata), &doc); err != nil {
		return "", &DecodeError{What: MetadataFile, Err: err}
	}

	raw, ok := doc["bytecode"]
	if !ok || string(raw) == "null" {
		return "", &MissingFieldError{Field: "bytecode"}
	}
	var bytecode string
	if err := json.Unmarshal(raw, &bytecode); err != nil {
		return "", &MissingFieldError{Field: "bytecode"}
	}
	return bytecode, nil
}
