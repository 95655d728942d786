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

// Package log is a thin level-prefixed wrapper around the standard logger,
// matching the plain fmt-to-stdout texture the rest of this codebase uses
// for its own ambient output.
package log

import (
	"fmt"
	"io"
	"log"
	"os"
)

var std = log.New(os.Stdout, "", log.LstdFlags)

// SetOutput redirects all subsequent log lines; tests use this to capture output.
func SetOutput(w io.Writer) {
	std.SetOutput(w)
}

func Info(format string, args ...interface{}) {
	std.Print("INFO  " + fmt.Sprintf(format, args...))
}

func Warn(format string, args ...interface{}) {
	std.Print("WARN  " + fmt.Sprintf(format, args...))
}

func Error(format string, args ...interface{}) {
	std.Print("ERROR " + fmt.Sprintf(format, args...))
}
