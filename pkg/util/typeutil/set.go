// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package typeutil

// Set 是基于 map[T]struct{} 的集合类型，零值不可写，需通过 NewSet 或 make 创建。
type Set[T comparable] map[T]struct{}

// NewSet 创建一个包含给定元素的集合。
func NewSet[T comparable](elements ...T) Set[T] {
	set := make(Set[T], len(elements))
	set.Insert(elements...)
	return set
}

// Insert 插入元素，已存在的元素被忽略。
func (set Set[T]) Insert(elements ...T) {
	for _, e := range elements {
		set[e] = struct{}{}
	}
}

// Collect 以切片形式返回所有元素，顺序不确定；空集合返回非 nil 的空切片。
func (set Set[T]) Collect() []T {
	elements := make([]T, 0, len(set))
	for e := range set {
		elements = append(elements, e)
	}
	return elements
}

// Len 返回元素个数。
func (set Set[T]) Len() int {
	return len(set)
}
