package parsers

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"invoice-variance-service/internal/models"
	"invoice-variance-service/pkg/errors"
)

// invoiceDocumentSchema describes the JSON envelope produced by the text
// extraction stage.
const invoiceDocumentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["text"],
  "properties": {
    "source": {"type": "string"},
    "text": {"type": "string"},
    "structured": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func documentSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("invoice_document.json", strings.NewReader(invoiceDocumentSchema)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("invoice_document.json")
	})
	return compiledSchema, schemaErr
}

// DecodeInvoiceDocument validates a JSON envelope and decodes it
func DecodeInvoiceDocument(name string, data []byte) (models.RawInvoiceText, error) {
	var doc models.RawInvoiceText

	schema, err := documentSchema()
	if err != nil {
		return doc, errors.InternalError(errors.CodeUnexpectedError, "compile invoice schema", err)
	}

	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return doc, errors.ParseError(errors.CodeInvalidFormat, name, 0, "", "", err)
	}
	if err := schema.Validate(v); err != nil {
		return doc, errors.ParseError(errors.CodeSchemaMismatch, name, 0, "", "", err)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, errors.ParseError(errors.CodeInvalidFormat, name, 0, "", "", err)
	}

	if doc.Source == "" {
		doc.Source = name
	}
	return doc, nil
}

// LoadInvoiceDocument reads one invoice. A .json file must be a document
// envelope; any other file is taken as the raw extracted text.
func LoadInvoiceDocument(path string) (models.RawInvoiceText, error) {
	data, err := readFile(path)
	if err != nil {
		return models.RawInvoiceText{}, err
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		return DecodeInvoiceDocument(path, data)
	}

	return models.RawInvoiceText{
		Source: path,
		Text:   string(data),
	}, nil
}
