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

package relax

import (
	"time"

	"github.com/go-kivik/relax/chttp"
)

const (
	// Version is the version of the relax library.
	Version = chttp.Version

	// DefaultURL is the server URL used when none is given.
	DefaultURL = "http://127.0.0.1:5984/"
)

// Default timeouts.
const (
	DefaultTimeout            = 20 * time.Second
	DefaultConnectTimeout     = 20 * time.Second
	DefaultReplicationTimeout = 120 * time.Second
)

// EndKeySuffix is a high Unicode character (0xfff0) useful for appending to an
// endkey argument, when doing a ranged search, as described [here].
//
// For example, to return all results with keys beginning with "foo":
//
//	res, err := client.View(ctx, "ddoc", "view", &relax.ViewQuery{
//	    StartKey: "foo",
//	    EndKey:   "foo" + relax.EndKeySuffix,
//	})
//
// [here]: http://couchdb.readthedocs.io/en/latest/ddocs/views/collation.html#string-ranges
const EndKeySuffix = string(rune(0xfff0))
