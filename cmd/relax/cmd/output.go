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

package cmd

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/go-kivik/relax/cmd/relax/errors"
)

// output writes v to the command's output stream in the selected format.
func (r *root) output(cmd *cobra.Command, v interface{}) error {
	return writeFormatted(cmd.OutOrStdout(), r.format, v)
}

func writeFormatted(w io.Writer, format string, v interface{}) error {
	if format == "yaml" {
		// Round trip through JSON, so struct tags and json.Marshalers are
		// honored.
		buf, err := json.Marshal(v)
		if err != nil {
			return errors.WithCode(err, errors.ErrData)
		}
		var obj interface{}
		if err := json.Unmarshal(buf, &obj); err != nil {
			return errors.WithCode(err, errors.ErrData)
		}
		enc := yaml.NewEncoder(w)
		if err := enc.Encode(obj); err != nil {
			return errors.WithCode(err, errors.ErrIO)
		}
		return errors.WithCode(enc.Close(), errors.ErrIO)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.WithCode(enc.Encode(v), errors.ErrIO)
}
