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

// Package collate orders decoded JSON values the way CouchDB collates view
// keys: null, false, true, numbers, strings, arrays, then objects.
//
// Strings use the Unicode collation algorithm, so "a" sorts before "A",
// which sorts before "aa". Objects are compared member by member in key
// order, since decoded maps keep no member order.
package collate

import (
	"fmt"
	"sort"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

var (
	collatorMU sync.Mutex
	collator   = collate.New(language.Und)
)

// CompareString returns -1, 0 or +1 as a sorts before, with, or after b.
func CompareString(a, b string) int {
	collatorMU.Lock()
	defer collatorMU.Unlock()
	return collator.CompareString(a, b)
}

type rank int

const (
	rankNull rank = iota
	rankFalse
	rankTrue
	rankNumber
	rankString
	rankArray
	rankObject
)

func rankOf(v interface{}) rank {
	switch t := v.(type) {
	case nil:
		return rankNull
	case bool:
		if t {
			return rankTrue
		}
		return rankFalse
	case float64, int, int64:
		return rankNumber
	case string:
		return rankString
	case []interface{}:
		return rankArray
	case map[string]interface{}:
		return rankObject
	}
	panic(fmt.Sprintf("collate: unexpected type %T", v))
}

func number(v interface{}) float64 {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	}
	return v.(float64)
}

func sign(cmp int) int {
	switch {
	case cmp < 0:
		return -1
	case cmp > 0:
		return 1
	}
	return 0
}

// Compare returns -1, 0 or +1 as a sorts before, with, or after b. Both must
// be values produced by encoding/json decoding into an interface{}; int and
// int64 are accepted as numbers too. Any other type panics.
func Compare(a, b interface{}) int {
	ra, rb := rankOf(a), rankOf(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case rankNumber:
		x, y := number(a), number(b)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case rankString:
		return CompareString(a.(string), b.(string))
	case rankArray:
		return compareArrays(a.([]interface{}), b.([]interface{}))
	case rankObject:
		return compareObjects(a.(map[string]interface{}), b.(map[string]interface{}))
	}
	return 0
}

func compareArrays(a, b []interface{}) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if cmp := Compare(a[i], b[i]); cmp != 0 {
			return cmp
		}
	}
	return sign(len(a) - len(b))
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return CompareString(keys[i], keys[j]) < 0
	})
	return keys
}

func compareObjects(a, b map[string]interface{}) int {
	ak, bk := sortedKeys(a), sortedKeys(b)
	for i := 0; i < len(ak) && i < len(bk); i++ {
		if cmp := CompareString(ak[i], bk[i]); cmp != 0 {
			return cmp
		}
		if cmp := Compare(a[ak[i]], b[bk[i]]); cmp != 0 {
			return cmp
		}
	}
	return sign(len(ak) - len(bk))
}

// Less reports whether a sorts before b.
func Less(a, b interface{}) bool {
	return Compare(a, b) < 0
}
