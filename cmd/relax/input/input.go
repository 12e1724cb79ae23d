// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//  http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

// Package input reads document and attachment data given on the command
// line, in a file or on stdin.
package input

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/icza/dyno"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/go-kivik/relax"
	"github.com/go-kivik/relax/cmd/relax/errors"
)

// Input holds the data flags.
type Input struct {
	data  string
	file  string
	yaml  bool
	stdin io.Reader
}

// New returns an Input reading "-" from os.Stdin.
func New() *Input {
	return &Input{stdin: os.Stdin}
}

// SetStdin sets the reader used for a data file of "-".
func (i *Input) SetStdin(r io.Reader) {
	i.stdin = r
}

// ConfigFlags registers the data flags.
func (i *Input) ConfigFlags(pf *pflag.FlagSet) {
	pf.StringVarP(&i.data, "data", "d", "", "Document data, as JSON")
	pf.StringVarP(&i.file, "data-file", "D", "", "Read data from the named file, or - for stdin. Read as JSON unless the name ends in .yaml or .yml, or --yaml is given")
	pf.BoolVar(&i.yaml, "yaml", false, "Treat document data as YAML")
}

// HasInput reports whether any data flag was given.
func (i *Input) HasInput() bool {
	return i.data != "" || i.file != ""
}

func (i *Input) isYAML() bool {
	return i.yaml || strings.HasSuffix(i.file, ".yaml") || strings.HasSuffix(i.file, ".yml")
}

// Raw returns the data exactly as given.
func (i *Input) Raw() ([]byte, error) {
	if i.data != "" {
		return []byte(i.data), nil
	}
	var r io.Reader
	switch i.file {
	case "":
		return nil, errors.Code(errors.ErrUsage, "no data provided")
	case "-":
		r = i.stdin
	default:
		f, err := os.Open(i.file)
		if err != nil {
			return nil, errors.WithCode(err, errors.ErrNoInput)
		}
		defer f.Close() // nolint:errcheck
		r = f
	}
	buf, err := io.ReadAll(r)
	return buf, errors.WithCode(err, errors.ErrIO)
}

// Document decodes the data as a JSON object, or a YAML mapping.
func (i *Input) Document() (relax.Document, error) {
	if !i.HasInput() {
		return nil, errors.Code(errors.ErrUsage, "no document data provided")
	}
	buf, err := i.Raw()
	if err != nil {
		return nil, err
	}
	if i.isYAML() {
		return yamlDocument(buf)
	}
	doc := relax.Document{}
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.WithCode(err, errors.ErrData)
	}
	return doc, nil
}

func yamlDocument(buf []byte) (relax.Document, error) {
	var raw interface{}
	if err := yaml.Unmarshal(buf, &raw); err != nil {
		return nil, errors.WithCode(err, errors.ErrData)
	}
	obj, ok := dyno.ConvertMapI2MapS(raw).(map[string]interface{})
	if !ok {
		return nil, errors.Code(errors.ErrData, "document data must be a mapping")
	}
	return relax.Document(obj), nil
}
