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

// Package collate provides the two orderings a CouchDB server applies to
// keys: raw (code point) order for document IDs, and Unicode collation for
// view keys.
//
// View collation follows the CouchDB order of JSON types: null, false, true,
// numbers, strings, arrays, objects. Object members are compared in key order,
// not document order.
package collate

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

var (
	collatorMu = new(sync.Mutex)
	collator   = collate.New(language.Und)
)

// CompareRaw compares two document IDs by code point, as _all_docs does.
// Go strings compare bytewise, and UTF-8 preserves code point order.
func CompareRaw(a, b string) int {
	return strings.Compare(a, b)
}

// CompareString compares two strings by Unicode collation.
func CompareString(a, b string) int {
	collatorMu.Lock()
	defer collatorMu.Unlock()
	return collator.CompareString(a, b)
}

type jsonType int

const (
	typeNull jsonType = iota
	typeFalse
	typeTrue
	typeNumber
	typeString
	typeArray
	typeObject
)

func typeOf(v interface{}) jsonType {
	switch t := v.(type) {
	case nil:
		return typeNull
	case bool:
		if t {
			return typeTrue
		}
		return typeFalse
	case float64, int:
		return typeNumber
	case string:
		return typeString
	case []interface{}:
		return typeArray
	case map[string]interface{}:
		return typeObject
	}
	panic(fmt.Sprintf("collate: unexpected JSON type %T", v))
}

func number(v interface{}) float64 {
	if i, ok := v.(int); ok {
		return float64(i)
	}
	return v.(float64)
}

// Compare compares two unmarshaled JSON values, and returns -1, 0 or +1. It
// panics on values which are not the result of json.Unmarshal into an
// interface{}, with the exception of int, which is treated as a number.
func Compare(a, b interface{}) int {
	at, bt := typeOf(a), typeOf(b)
	if at != bt {
		return sign(int(at) - int(bt))
	}
	switch at {
	case typeNumber:
		an, bn := number(a), number(b)
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		}
		return 0
	case typeString:
		return CompareString(a.(string), b.(string))
	case typeArray:
		av, bv := a.([]interface{}), b.([]interface{})
		for i := 0; i < len(av) && i < len(bv); i++ {
			if c := Compare(av[i], bv[i]); c != 0 {
				return c
			}
		}
		return sign(len(av) - len(bv))
	case typeObject:
		return compareObjects(a.(map[string]interface{}), b.(map[string]interface{}))
	}
	return 0
}

func compareObjects(a, b map[string]interface{}) int {
	ak, bk := sortedKeys(a), sortedKeys(b)
	for i := 0; i < len(ak) && i < len(bk); i++ {
		if c := CompareString(ak[i], bk[i]); c != 0 {
			return c
		}
		if c := Compare(a[ak[i]], b[bk[i]]); c != 0 {
			return c
		}
	}
	return sign(len(ak) - len(bk))
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

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}
