/*
Copyright 2026 The Mahavishnu Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package eventbus

import "github.com/lesleslie/mahavishnu-sub005/pkg/pool"

// PoolSink adapts a Bus to the pool registry's Sink interface, publishing
// each lifecycle event onto that pool's channel (and, via Publish, onto
// the global channel too).
type PoolSink struct {
	Bus *Bus
}

func (s PoolSink) Publish(evt pool.Event) {
	payload := evt.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	s.Bus.Publish(PoolChannel(evt.PoolID), string(evt.Type), payload)
}
