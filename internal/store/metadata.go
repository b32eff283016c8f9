package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// MetadataFile is the fixed name of the metadata record in a submission directory.
const MetadataFile = "details.json"

// Metadata is the record stored in details.json. Field order matters: it is
// the order the keys appear in the file.
type Metadata struct {
	Name string `json:"name"`
	Age  string `json:"age"`
	ID   string `json:"id"`
}

// Record is the metadata returned by lookups, along with the absolute path of
// the metadata file it was read from.
type Record struct {
	Metadata
	Path string `json:"path"`
}

// PDFFileName derives the attachment file name from the metadata.
func PDFFileName(m Metadata) string {
	return m.Name + "-" + m.Age + "-" + m.ID + ".pdf"
}

const metadataSchemaJSON = `{
	"type": "object",
	"required": ["name", "age", "id"],
	"properties": {
		"name": {"type": "string"},
		"age": {"type": "string"},
		"id": {"type": "string", "pattern": "^[0-9a-f]{12}$"}
	}
}`

var metadataSchema = mustSchema(metadataSchemaJSON)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("store: compile metadata schema: %v", err))
	}
	return s
}

// encodeMetadata renders the record with two-space indentation, no HTML
// escaping and no trailing newline.
func encodeMetadata(m Metadata) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func decodeMetadata(data []byte) (Metadata, error) {
	res, err := metadataSchema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if !res.Valid() {
		return Metadata{}, fmt.Errorf("%w: %s", ErrCorruptRecord, res.Errors()[0].String())
	}

	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return m, nil
}
