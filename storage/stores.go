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


package storage

// StoreName names a logical store inside the database.
type StoreName string

// Logical stores.
const (
	StoreChats          StoreName = "chats"
	StoreChatTimes      StoreName = "chat_times"
	StoreMessages       StoreName = "messages"
	StoreBlobs          StoreName = "blobs"
	StoreSearch         StoreName = "search"
	StoreMedia          StoreName = "media"
	StoreMediaByMessage StoreName = "media_by_message"
	StoreMeta           StoreName = "meta"
)

// AllStores lists every logical store. Composite chat mutations span all of them.
var AllStores = []StoreName{
	StoreChats,
	StoreChatTimes,
	StoreMessages,
	StoreBlobs,
	StoreSearch,
	StoreMedia,
	StoreMediaByMessage,
	StoreMeta,
}

// TxMode selects read-only or read-write transactions.
type TxMode int

const (
	ReadOnly TxMode = iota
	ReadWrite
)

func (m TxMode) String() string {
	if m == ReadWrite {
		return "readwrite"
	}
	return "readonly"
}
