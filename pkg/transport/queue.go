/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package transport

import (
	"context"
	"fmt"

	queuepkg "github.com/Workiva/go-datastructures/queue"
)

// default hint is 1024 pending calls
const defaultQueueCap = 1024

type queue struct {
	q *queuepkg.Queue
}

type call struct {
	ctx  context.Context
	req  Request
	done chan Response
}

func newCall(ctx context.Context, req Request) *call {
	return &call{ctx: ctx, req: req, done: make(chan Response, 1)}
}

func createQueue(cap int64) *queue {
	if cap <= 0 {
		cap = defaultQueueCap
	}
	return &queue{q: queuepkg.New(cap)}
}

// pop blocks until a call is available or the queue is disposed.
func (q *queue) pop() (*call, error) {
	items, err := q.q.Get(1)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, queuepkg.ErrDisposed
	}
	c, ok := items[0].(*call)
	if !ok {
		return nil, fmt.Errorf("invalid queue element type %T", items[0])
	}
	return c, nil
}

func (q *queue) put(c *call) error {
	return q.q.Put(c)
}

func (q *queue) size() int64 {
	return q.q.Len()
}

// dispose wakes pop with ErrDisposed and returns the calls still pending.
func (q *queue) dispose() []*call {
	items := q.q.Dispose()
	pending := make([]*call, 0, len(items))
	for _, item := range items {
		if c, ok := item.(*call); ok {
			pending = append(pending, c)
		}
	}
	return pending
}
