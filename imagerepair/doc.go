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


// Package imagerepair detects and repairs base64 image payloads that were
// corrupted by trailing text, most often a model continuing to write prose
// right after an inline image.
//
// NeedsRepair and Repair work on a bare base64 payload and never panic.
// The data URL helpers apply them to "data:<mime>;base64,<payload>" strings.
package imagerepair
