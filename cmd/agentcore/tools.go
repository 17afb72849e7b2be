// Copyright 2025 Kadir Pekel
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

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/agentcore/pkg/message"
	"github.com/kadirpekel/agentcore/pkg/tool"
	"github.com/kadirpekel/agentcore/pkg/tool/functiontool"
)

type currentTimeArgs struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA timezone name; defaults to UTC"`
}

type generateUUIDArgs struct {
	Count int `json:"count,omitempty" jsonschema:"description=How many UUIDs to generate; defaults to 1"`
}

// builtinToolkit registers the demo tools the out-of-the-box server ships
// with.
func builtinToolkit() (*tool.Toolkit, error) {
	tk := tool.NewToolkit()

	currentTime, err := functiontool.New(functiontool.Config{
		Name:        "current_time",
		Description: "Returns the current time, optionally in a given timezone.",
	}, func(ctx context.Context, args currentTimeArgs) ([]message.Block, error) {
		loc := time.UTC
		if args.Timezone != "" {
			var err error
			if loc, err = time.LoadLocation(args.Timezone); err != nil {
				return nil, fmt.Errorf("unknown timezone %q", args.Timezone)
			}
		}
		return []message.Block{
			message.TextBlock{Text: time.Now().In(loc).Format(time.RFC3339)},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	if err := tk.Register(currentTime); err != nil {
		return nil, err
	}

	generateUUID, err := functiontool.New(functiontool.Config{
		Name:        "generate_uuid",
		Description: "Generates one or more random UUIDs.",
	}, func(ctx context.Context, args generateUUIDArgs) ([]message.Block, error) {
		count := args.Count
		if count < 1 {
			count = 1
		}
		if count > 100 {
			return nil, fmt.Errorf("count %d exceeds the limit of 100", count)
		}
		blocks := make([]message.Block, 0, count)
		for range count {
			blocks = append(blocks, message.TextBlock{Text: uuid.NewString()})
		}
		return blocks, nil
	})
	if err != nil {
		return nil, err
	}
	if err := tk.Register(generateUUID); err != nil {
		return nil, err
	}

	return tk, nil
}
