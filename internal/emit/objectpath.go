// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

package emit

import (
	"fmt"
	"time"
)

// ObjectPath derives the archival key for a batch: a UTC calendar path
// under prefix, down to the hour, followed by the batch's sequence-number
// range and an extension that reflects whether the payload is gzipped.
func ObjectPath(prefix string, firstTimestamp time.Time, firstSeq, lastSeq string, gzip bool) string {
	ext := "json"
	if gzip {
		ext = "gzip"
	}
	t := firstTimestamp.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%02d/%02d/%s-%s.%s",
		prefix, t.Year(), t.Month(), t.Day(), t.Hour(), firstSeq, lastSeq, ext)
}
