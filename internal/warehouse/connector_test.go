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

package warehouse

import (
	"testing"
	"time"
)

func TestYearMonth_TableName(t *testing.T) {
	ym := YearMonth{Year: 2017, Month: 6}
	if got := ym.TableName("events"); got != "events_2017_06" {
		t.Fatalf("expected events_2017_06, got %s", got)
	}
}

func TestClampToRetentionWindow_OutOfWindowFilter(t *testing.T) {
	now := time.Date(2017, time.October, 15, 0, 0, 0, 0, time.UTC)
	pairs := []YearMonth{{2017, 6}, {2017, 9}, {2017, 10}}

	inWindow, skipped := ClampToRetentionWindow(pairs, now, 3)

	if len(inWindow) != 2 || inWindow[0] != (YearMonth{2017, 9}) || inWindow[1] != (YearMonth{2017, 10}) {
		t.Fatalf("expected (2017,9) and (2017,10) in window, got %v", inWindow)
	}
	if len(skipped) != 1 || skipped[0] != (YearMonth{2017, 6}) {
		t.Fatalf("expected (2017,6) skipped, got %v", skipped)
	}
}

func TestClampToRetentionWindow_FutureMonthExcluded(t *testing.T) {
	now := time.Date(2017, time.October, 15, 0, 0, 0, 0, time.UTC)
	pairs := []YearMonth{{2017, 11}}

	inWindow, skipped := ClampToRetentionWindow(pairs, now, 3)
	if len(inWindow) != 0 || len(skipped) != 1 {
		t.Fatalf("expected a future month to be clamped out, got inWindow=%v skipped=%v", inWindow, skipped)
	}
}
