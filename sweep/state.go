// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package sweep

import "sync/atomic"

// Phase is the lifecycle phase of a sweep.
type Phase int32

const (
	NotStarted Phase = iota
	Running
	Done
)

func (p Phase) String() string {
	switch p {
	case NotStarted:
		return "not started"
	case Running:
		return "running"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// State is the lifecycle of one sweep over one store:
// NotStarted -> Running -> Done. A Running sweep that is interrupted goes
// back to NotStarted so it can be resumed. The zero value is NotStarted.
type State struct {
	phase atomic.Int32
}

// NewState returns a State in phase NotStarted.
func NewState() *State {
	return &State{}
}

// Phase returns the current phase.
func (s *State) Phase() Phase {
	return Phase(s.phase.Load())
}

// TryStart moves NotStarted to Running and reports whether it did.
func (s *State) TryStart() bool {
	return s.phase.CompareAndSwap(int32(NotStarted), int32(Running))
}

// Finish moves Running to Done.
func (s *State) Finish() {
	s.phase.CompareAndSwap(int32(Running), int32(Done))
}

// Abort moves Running back to NotStarted.
func (s *State) Abort() {
	s.phase.CompareAndSwap(int32(Running), int32(NotStarted))
}

// Reset forces the state back to NotStarted.
func (s *State) Reset() {
	s.phase.Store(int32(NotStarted))
}
