// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cmd 提供 httpmuxd 的命令行入口
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/httpmuxd/httpmuxd/common"
)

var (
	version   string
	gitHash   string
	buildTime string
)

var rootCmd = &cobra.Command{
	Use:   common.App,
	Short: "httpmuxd is an HTTP/1.1, HTTP/2 and WebSocket multiplexing server",
	Example: "# httpmuxd serve --config httpmuxd.yaml",
}

// Execute 执行根命令 由 main 调用
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
